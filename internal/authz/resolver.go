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
	"log/slog"
	"strconv"

	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/observability/metrics"
	"github.com/saltstack/jema/internal/signals"
)

// Resolution outcomes recorded on the resolutions counter
const (
	OutcomeAnonymous     = "anonymous"
	OutcomeAuthenticated = "authenticated"
	OutcomeMiss          = "miss"
	OutcomeDegraded      = "degraded"
)

// Resolver turns a principal into a request Identity
type Resolver struct {
	accounts    AccountLoader
	logins      LoginRecorder
	hub         *signals.Hub
	instruments *metrics.Instruments
}

// NewResolver creates a resolver. logins, hub and instruments may be nil.
func NewResolver(accounts AccountLoader, logins LoginRecorder, hub *signals.Hub, instruments *metrics.Instruments) *Resolver {
	return &Resolver{
		accounts:    accounts,
		logins:      logins,
		hub:         hub,
		instruments: instruments,
	}
}

// Resolve loads the identity for principal. It never fails: unknown
// principals and storage errors yield an anonymous identity.
func (r *Resolver) Resolve(ctx context.Context, principal string) *Identity {
	id, outcome := r.resolve(ctx, principal)
	r.instruments.Resolution(ctx, outcome)

	if r.hub != nil {
		ev := signals.IdentityLoaded{
			Principal:     id.Principal,
			Authenticated: id.IsAuthenticated(),
		}
		if id.Account != nil {
			ev.AccountID = id.Account.ID
		}
		for _, n := range id.Needs().Sorted() {
			ev.Needs = append(ev.Needs, n.String())
		}
		r.hub.IdentityLoaded.Send(ctx, ev)
	}
	return id
}

func (r *Resolver) resolve(ctx context.Context, principal string) (*Identity, string) {
	id := NewAnonymousIdentity()
	if principal == "" {
		return id, OutcomeAnonymous
	}

	accountID, err := strconv.ParseInt(principal, 10, 64)
	if err != nil {
		slog.DebugContext(ctx, "unparsable principal", logger.Principal(principal))
		return id, OutcomeMiss
	}

	account, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			slog.DebugContext(ctx, "principal has no account", logger.Principal(principal))
			return id, OutcomeMiss
		}
		slog.WarnContext(ctx, "identity lookup failed, continuing anonymously",
			logger.Principal(principal),
			logger.Error(err),
		)
		return id, OutcomeDegraded
	}

	id = &Identity{Principal: principal, Account: account}
	id.Provide(NeedsForAccount(account).Sorted()...)

	if r.logins != nil {
		r.logins.Record(ctx, account.ID)
	}
	return id, OutcomeAuthenticated
}

// NeedsForAccount computes what an account provides: the authenticated
// type, an action need per direct privilege, and a role need per group
// privilege expanded through the built-in hierarchy.
func NeedsForAccount(account *identity.Account) NeedSet {
	needs := NewNeedSet(AuthenticatedNeed)
	for _, p := range account.Privileges {
		needs.Add(ActionNeed(p.Name))
	}
	for _, g := range account.Groups {
		for _, p := range g.Privileges {
			for _, role := range ImpliedRoles(p.Name) {
				needs.Add(RoleNeed(role))
			}
		}
	}
	return needs
}
