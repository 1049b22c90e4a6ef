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

package authz

import (
	"context"
	"errors"
	"sort"

	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/rbac"
)

// Domain errors
var (
	ErrAccessDenied     = errors.New("access denied")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// NeedKind classifies a need
type NeedKind string

const (
	// KindRole needs come from group privileges; never persisted.
	KindRole NeedKind = "role"

	// KindType needs describe the identity itself (anonymous, authenticated);
	// never persisted.
	KindType NeedKind = "type"

	// KindAction needs are ad-hoc privileges; persisted per account.
	KindAction NeedKind = "action"
)

// Need is an atomic permission token
type Need struct {
	Kind  NeedKind
	Value string
}

func (n Need) String() string {
	return string(n.Kind) + ":" + n.Value
}

// RoleNeed returns the need for a role
func RoleNeed(role string) Need { return Need{Kind: KindRole, Value: role} }

// TypeNeed returns the need for an identity type
func TypeNeed(value string) Need { return Need{Kind: KindType, Value: value} }

// ActionNeed returns the need for an ad-hoc action privilege
func ActionNeed(name string) Need { return Need{Kind: KindAction, Value: name} }

var (
	AnonymousNeed     = TypeNeed(rbac.NeedAnonymous)
	AuthenticatedNeed = TypeNeed(rbac.NeedAuthenticated)
)

// NeedSet is an unordered set of needs
type NeedSet map[Need]struct{}

// NewNeedSet builds a set from needs
func NewNeedSet(needs ...Need) NeedSet {
	s := make(NeedSet, len(needs))
	for _, n := range needs {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts needs into the set
func (s NeedSet) Add(needs ...Need) {
	for _, n := range needs {
		s[n] = struct{}{}
	}
}

// Has reports membership
func (s NeedSet) Has(n Need) bool {
	_, ok := s[n]
	return ok
}

// Intersects reports whether the sets share at least one need
func (s NeedSet) Intersects(other NeedSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for n := range small {
		if large.Has(n) {
			return true
		}
	}
	return false
}

// OfKind returns the values of every need of kind, sorted
func (s NeedSet) OfKind(kind NeedKind) []string {
	var out []string
	for n := range s {
		if n.Kind == kind {
			out = append(out, n.Value)
		}
	}
	sort.Strings(out)
	return out
}

// Sorted returns the needs ordered by kind then value
func (s NeedSet) Sorted() []Need {
	out := make([]Need, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// AccountLoader loads an account with its privileges and groups
type AccountLoader interface {
	GetByID(ctx context.Context, id int64) (*identity.Account, error)
}

// LoginRecorder records a last-login bump without blocking the caller
type LoginRecorder interface {
	Record(ctx context.Context, accountID int64)
}

// GrantStore runs privilege reconciliation inside one transaction
type GrantStore interface {
	// WithinTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx GrantTx) error) error
}

// GrantTx is the set of privilege writes available inside a transaction
type GrantTx interface {
	// PrivilegeByName returns identity.ErrPrivilegeNotFound when absent
	PrivilegeByName(ctx context.Context, name string) (*identity.Privilege, error)

	// CreatePrivilege returns identity.ErrPrivilegeExists when another
	// writer holds the name
	CreatePrivilege(ctx context.Context, name string) (*identity.Privilege, error)

	// GrantToAccount is idempotent
	GrantToAccount(ctx context.Context, accountID, privilegeID int64) error
}
