// Copyright 2026 The JeMa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/metrics"
)

// GroupRepository implements identity.GroupRepository
type GroupRepository struct {
	db *DB
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetByName retrieves a group and its privileges
func (r *GroupRepository) GetByName(ctx context.Context, name string) (_ *identity.Group, err error) {
	defer metrics.ObserveDB("group", "get_by_name", time.Now(), &err, identity.ErrGroupNotFound)

	var group identity.Group
	err = r.db.db.GetContext(ctx, &group, `SELECT id, name FROM groups WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	err = r.db.db.SelectContext(ctx, &group.Privileges, `
		SELECT p.id, p.name
		FROM privileges p
		JOIN group_privileges gp ON gp.privilege_id = p.id
		WHERE gp.group_id = $1
		ORDER BY p.name
	`, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group privileges: %w", err)
	}
	return &group, nil
}

// Create inserts a group
func (r *GroupRepository) Create(ctx context.Context, group *identity.Group) (err error) {
	defer metrics.ObserveDB("group", "create", time.Now(), &err)

	err = r.db.db.QueryRowxContext(ctx,
		`INSERT INTO groups (name) VALUES ($1) RETURNING id`, group.Name,
	).Scan(&group.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrGroupExists
		}
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// GrantPrivilege grants a privilege to the group, creating the privilege
// when it does not exist yet
func (r *GroupRepository) GrantPrivilege(ctx context.Context, groupID int64, privilege string) (err error) {
	defer metrics.ObserveDB("group", "grant_privilege", time.Now(), &err)

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		priv, err := ensurePrivilege(ctx, tx, privilege)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_privileges (group_id, privilege_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, groupID, priv.ID)
		if err != nil {
			return fmt.Errorf("failed to grant privilege to group: %w", err)
		}
		return nil
	})
}

// ensurePrivilege upserts a privilege by name and returns it
func ensurePrivilege(ctx context.Context, tx *sqlx.Tx, name string) (*identity.Privilege, error) {
	var priv identity.Privilege
	err := tx.GetContext(ctx, &priv, `
		INSERT INTO privileges (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure privilege: %w", err)
	}
	return &priv, nil
}
