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

	"github.com/saltstack/jema/internal/buildserver"
	"github.com/saltstack/jema/internal/observability/metrics"
)

// BuildServerRepository implements buildserver.Repository
type BuildServerRepository struct {
	db *DB
}

// NewBuildServerRepository creates a new build server repository
func NewBuildServerRepository(db *DB) *BuildServerRepository {
	return &BuildServerRepository{db: db}
}

// Create inserts a build server
func (r *BuildServerRepository) Create(ctx context.Context, server *buildserver.Server) (err error) {
	defer metrics.ObserveDB("build_server", "create", time.Now(), &err)

	err = r.db.db.QueryRowxContext(ctx, `
		INSERT INTO build_servers (address, username, access_token, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, server.Address, server.Username, server.AccessToken, server.CreatedAt).Scan(&server.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return buildserver.ErrServerExists
		}
		return fmt.Errorf("failed to insert build server: %w", err)
	}
	return nil
}

// GetByID retrieves a build server by ID
func (r *BuildServerRepository) GetByID(ctx context.Context, id int64) (_ *buildserver.Server, err error) {
	defer metrics.ObserveDB("build_server", "get_by_id", time.Now(), &err, buildserver.ErrServerNotFound)

	var server buildserver.Server
	err = r.db.db.GetContext(ctx, &server, `
		SELECT id, address, username, access_token, created_at
		FROM build_servers
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, buildserver.ErrServerNotFound
		}
		return nil, fmt.Errorf("failed to get build server: %w", err)
	}
	return &server, nil
}

// List returns every build server ordered by address
func (r *BuildServerRepository) List(ctx context.Context) (_ []*buildserver.Server, err error) {
	defer metrics.ObserveDB("build_server", "list", time.Now(), &err)

	servers := []*buildserver.Server{}
	err = r.db.db.SelectContext(ctx, &servers, `
		SELECT id, address, username, access_token, created_at
		FROM build_servers
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list build servers: %w", err)
	}
	return servers, nil
}

// Delete removes a build server
func (r *BuildServerRepository) Delete(ctx context.Context, id int64) (err error) {
	defer metrics.ObserveDB("build_server", "delete", time.Now(), &err, buildserver.ErrServerNotFound)

	res, err := r.db.db.ExecContext(ctx, `DELETE FROM build_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete build server: %w", err)
	}
	return requireRow(res, buildserver.ErrServerNotFound)
}
