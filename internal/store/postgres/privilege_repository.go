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

	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/metrics"
)

// PrivilegeRepository implements authz.GrantStore
type PrivilegeRepository struct {
	db *DB
}

// NewPrivilegeRepository creates a new privilege repository
func NewPrivilegeRepository(db *DB) *PrivilegeRepository {
	return &PrivilegeRepository{db: db}
}

// WithinTx runs fn in a single transaction
func (r *PrivilegeRepository) WithinTx(ctx context.Context, fn func(authz.GrantTx) error) (err error) {
	defer metrics.ObserveDB("privilege", "grant_tx", time.Now(), &err)

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&grantTx{tx: tx})
	})
}

type grantTx struct {
	tx *sqlx.Tx
}

func (g *grantTx) PrivilegeByName(ctx context.Context, name string) (*identity.Privilege, error) {
	var priv identity.Privilege
	err := g.tx.GetContext(ctx, &priv, `SELECT id, name FROM privileges WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrPrivilegeNotFound
		}
		return nil, fmt.Errorf("failed to get privilege: %w", err)
	}
	return &priv, nil
}

// CreatePrivilege reports identity.ErrPrivilegeExists when a concurrent
// transaction committed the same name first
func (g *grantTx) CreatePrivilege(ctx context.Context, name string) (*identity.Privilege, error) {
	priv := identity.Privilege{Name: name}
	err := g.tx.QueryRowxContext(ctx, `
		INSERT INTO privileges (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`, name).Scan(&priv.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, identity.ErrPrivilegeExists
		}
		return nil, fmt.Errorf("failed to insert privilege: %w", err)
	}
	return &priv, nil
}

func (g *grantTx) GrantToAccount(ctx context.Context, accountID, privilegeID int64) error {
	_, err := g.tx.ExecContext(ctx, `
		INSERT INTO account_privileges (account_id, privilege_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, accountID, privilegeID)
	if err != nil {
		return fmt.Errorf("failed to grant privilege to account: %w", err)
	}
	return nil
}
