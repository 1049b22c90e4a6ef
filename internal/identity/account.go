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

package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrGroupNotFound     = errors.New("group not found")
	ErrGroupExists       = errors.New("group already exists")
	ErrPrivilegeNotFound = errors.New("privilege not found")
	ErrPrivilegeExists   = errors.New("privilege already exists")
	ErrEmptyAccessToken  = errors.New("access token must not be empty")
	ErrInvalidProfile    = errors.New("upstream profile is missing id or login")
	ErrInvalidLocale     = errors.New("invalid locale")
	ErrInvalidTimezone   = errors.New("invalid timezone")
)

// Defaults applied to new accounts
const (
	DefaultLocale   = "en"
	DefaultTimezone = "UTC"
)

// Account is a local account backed by a GitHub user. ID is the GitHub
// numeric user id.
type Account struct {
	ID             int64
	Login          string
	Name           string
	Email          string
	AccessToken    string
	AvatarURL      string
	LastLogin      time.Time
	RegisterDate   time.Time
	Locale         string
	Timezone       string
	DateTimeFormat string

	// Loaded by AccountRepository.GetByID only.
	Privileges []Privilege
	Groups     []Group
}

// HasPrivilege reports whether name is granted directly to the account.
func (a *Account) HasPrivilege(name string) bool {
	for _, p := range a.Privileges {
		if p.Name == name {
			return true
		}
	}
	return false
}

// InGroup reports whether the account is a member of the named group.
func (a *Account) InGroup(name string) bool {
	for _, g := range a.Groups {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Group is a named set of accounts sharing privileges
type Group struct {
	ID         int64
	Name       string
	Privileges []Privilege
}

// Privilege is either a built-in role name or an ad-hoc grant
type Privilege struct {
	ID   int64
	Name string
}

// Profile is the subset of the GitHub user resource JeMa stores
type Profile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Preferences are the user-editable account settings
type Preferences struct {
	Locale         string
	Timezone       string
	DateTimeFormat string
}

// MaskToken hides all but the first and last visible characters of a
// secret. Tokens too short to keep both ends are masked entirely.
func MaskToken(token string, visible int) string {
	if visible < 0 {
		visible = 0
	}
	if len(token) <= 2*visible {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + strings.Repeat("*", len(token)-2*visible) + token[len(token)-visible:]
}

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	// GetByID retrieves an account with its direct privileges and its groups
	// (each with the group's privileges)
	GetByID(ctx context.Context, id int64) (*Account, error)

	// GetByLogin retrieves an account by login, without relations
	GetByLogin(ctx context.Context, login string) (*Account, error)

	// GetByAccessToken retrieves an account by its current GitHub token,
	// without relations
	GetByAccessToken(ctx context.Context, token string) (*Account, error)

	// Create inserts a new account. Returns ErrAccountExists when the id,
	// login or access token is already taken.
	Create(ctx context.Context, account *Account) error

	// Update overwrites the upstream-derived fields and last login
	Update(ctx context.Context, account *Account) error

	// UpdatePreferences stores locale, timezone and datetime format
	UpdatePreferences(ctx context.Context, id int64, prefs Preferences) error

	// TouchLastLogin sets last_login for the account
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	// AddToGroup adds the account to a group. Adding twice is a no-op.
	AddToGroup(ctx context.Context, accountID, groupID int64) error
}

// GroupRepository defines the interface for group persistence
type GroupRepository interface {
	// GetByName retrieves a group by name
	GetByName(ctx context.Context, name string) (*Group, error)

	// Create inserts a group. Returns ErrGroupExists on a name conflict.
	Create(ctx context.Context, group *Group) error

	// GrantPrivilege grants a privilege (created on demand) to the group.
	// Granting twice is a no-op.
	GrantPrivilege(ctx context.Context, groupID int64, privilege string) error
}
