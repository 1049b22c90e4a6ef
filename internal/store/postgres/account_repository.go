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

	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/metrics"
)

const accountColumns = `id, login, name, email, access_token, avatar_url,
	last_login, register_date, locale, timezone, datetime_format`

type accountRow struct {
	ID             int64          `db:"id"`
	Login          string         `db:"login"`
	Name           string         `db:"name"`
	Email          string         `db:"email"`
	AccessToken    sql.NullString `db:"access_token"`
	AvatarURL      string         `db:"avatar_url"`
	LastLogin      time.Time      `db:"last_login"`
	RegisterDate   time.Time      `db:"register_date"`
	Locale         string         `db:"locale"`
	Timezone       string         `db:"timezone"`
	DateTimeFormat string         `db:"datetime_format"`
}

func (r accountRow) toAccount() *identity.Account {
	return &identity.Account{
		ID:             r.ID,
		Login:          r.Login,
		Name:           r.Name,
		Email:          r.Email,
		AccessToken:    r.AccessToken.String,
		AvatarURL:      r.AvatarURL,
		LastLogin:      r.LastLogin,
		RegisterDate:   r.RegisterDate,
		Locale:         r.Locale,
		Timezone:       r.Timezone,
		DateTimeFormat: r.DateTimeFormat,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// AccountRepository implements identity.AccountRepository
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) getOne(ctx context.Context, where string, arg any) (*identity.Account, error) {
	var row accountRow
	err := r.db.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.toAccount(), nil
}

// GetByID retrieves an account with its privileges and groups
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (_ *identity.Account, err error) {
	defer metrics.ObserveDB("account", "get_by_id", time.Now(), &err, identity.ErrAccountNotFound)

	account, err := r.getOne(ctx, "id = $1", id)
	if err != nil {
		return nil, err
	}

	err = r.db.db.SelectContext(ctx, &account.Privileges, `
		SELECT p.id, p.name
		FROM privileges p
		JOIN account_privileges ap ON ap.privilege_id = p.id
		WHERE ap.account_id = $1
		ORDER BY p.name
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account privileges: %w", err)
	}

	var rows []struct {
		GroupID       int64          `db:"group_id"`
		GroupName     string         `db:"group_name"`
		PrivilegeID   sql.NullInt64  `db:"privilege_id"`
		PrivilegeName sql.NullString `db:"privilege_name"`
	}
	err = r.db.db.SelectContext(ctx, &rows, `
		SELECT g.id AS group_id, g.name AS group_name,
			p.id AS privilege_id, p.name AS privilege_name
		FROM groups g
		JOIN group_accounts ga ON ga.group_id = g.id
		LEFT JOIN group_privileges gp ON gp.group_id = g.id
		LEFT JOIN privileges p ON p.id = gp.privilege_id
		WHERE ga.account_id = $1
		ORDER BY g.name, p.name
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account groups: %w", err)
	}

	index := map[int64]int{}
	for _, row := range rows {
		i, ok := index[row.GroupID]
		if !ok {
			i = len(account.Groups)
			index[row.GroupID] = i
			account.Groups = append(account.Groups, identity.Group{ID: row.GroupID, Name: row.GroupName})
		}
		if row.PrivilegeID.Valid {
			account.Groups[i].Privileges = append(account.Groups[i].Privileges, identity.Privilege{
				ID:   row.PrivilegeID.Int64,
				Name: row.PrivilegeName.String,
			})
		}
	}

	return account, nil
}

// GetByLogin retrieves an account by login
func (r *AccountRepository) GetByLogin(ctx context.Context, login string) (_ *identity.Account, err error) {
	defer metrics.ObserveDB("account", "get_by_login", time.Now(), &err, identity.ErrAccountNotFound)
	return r.getOne(ctx, "login = $1", login)
}

// GetByAccessToken retrieves an account by its GitHub token
func (r *AccountRepository) GetByAccessToken(ctx context.Context, token string) (_ *identity.Account, err error) {
	defer metrics.ObserveDB("account", "get_by_access_token", time.Now(), &err, identity.ErrAccountNotFound)
	if token == "" {
		return nil, identity.ErrAccountNotFound
	}
	return r.getOne(ctx, "access_token = $1", token)
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *identity.Account) (err error) {
	defer metrics.ObserveDB("account", "create", time.Now(), &err)

	_, err = r.db.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, login, name, email, access_token, avatar_url,
			last_login, register_date, locale, timezone, datetime_format
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		account.ID, account.Login, account.Name, account.Email, nullable(account.AccessToken),
		account.AvatarURL, account.LastLogin, account.RegisterDate,
		account.Locale, account.Timezone, account.DateTimeFormat,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrAccountExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Update overwrites the upstream-derived fields
func (r *AccountRepository) Update(ctx context.Context, account *identity.Account) (err error) {
	defer metrics.ObserveDB("account", "update", time.Now(), &err)

	res, err := r.db.db.ExecContext(ctx, `
		UPDATE accounts
		SET login = $2, name = $3, email = $4, access_token = $5, avatar_url = $6, last_login = $7
		WHERE id = $1
	`,
		account.ID, account.Login, account.Name, account.Email,
		nullable(account.AccessToken), account.AvatarURL, account.LastLogin,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrAccountExists
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireRow(res, identity.ErrAccountNotFound)
}

// UpdatePreferences stores the user-editable settings
func (r *AccountRepository) UpdatePreferences(ctx context.Context, id int64, prefs identity.Preferences) (err error) {
	defer metrics.ObserveDB("account", "update_preferences", time.Now(), &err)

	res, err := r.db.db.ExecContext(ctx, `
		UPDATE accounts SET locale = $2, timezone = $3, datetime_format = $4 WHERE id = $1
	`, id, prefs.Locale, prefs.Timezone, prefs.DateTimeFormat)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return requireRow(res, identity.ErrAccountNotFound)
}

// TouchLastLogin sets last_login for the account
func (r *AccountRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) (err error) {
	defer metrics.ObserveDB("account", "touch_last_login", time.Now(), &err)

	_, err = r.db.db.ExecContext(ctx, `UPDATE accounts SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// AddToGroup adds the account to a group
func (r *AccountRepository) AddToGroup(ctx context.Context, accountID, groupID int64) (err error) {
	defer metrics.ObserveDB("account", "add_to_group", time.Now(), &err)

	_, err = r.db.db.ExecContext(ctx, `
		INSERT INTO group_accounts (group_id, account_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to add account to group: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
