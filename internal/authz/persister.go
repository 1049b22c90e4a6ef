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
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/observability/metrics"
	"github.com/saltstack/jema/internal/observability/tracing"
)

const maxCreateAttempts = 3

// Persister writes action needs gained during a request back to the
// account as direct privileges.
type Persister struct {
	store       GrantStore
	auditLogger audit.Logger
	instruments *metrics.Instruments
}

// NewPersister creates a persister. instruments may be nil.
func NewPersister(store GrantStore, auditLogger audit.Logger, instruments *metrics.Instruments) *Persister {
	return &Persister{
		store:       store,
		auditLogger: auditLogger,
		instruments: instruments,
	}
}

// Persist grants every action need the account does not already hold.
// Role and type needs are never written. All grants commit together or
// not at all.
func (p *Persister) Persist(ctx context.Context, id *Identity) error {
	if !id.IsAuthenticated() {
		return nil
	}
	account := id.Account

	var missing []string
	for _, name := range id.Needs().OfKind(KindAction) {
		if !account.HasPrivilege(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	ctx, span := tracing.Start(ctx, "authz.Persist", attribute.Int("jema.privileges.missing", len(missing)))
	var granted []identity.Privilege
	err := p.store.WithinTx(ctx, func(tx GrantTx) error {
		granted = granted[:0]
		for _, name := range missing {
			priv, err := lookupOrCreate(ctx, tx, name)
			if err != nil {
				return err
			}
			if err := tx.GrantToAccount(ctx, account.ID, priv.ID); err != nil {
				return fmt.Errorf("grant %q: %w", name, err)
			}
			granted = append(granted, *priv)
		}
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return fmt.Errorf("persist privileges for account %d: %w", account.ID, err)
	}

	account.Privileges = append(account.Privileges, granted...)
	p.instruments.Granted(ctx, len(granted))

	for _, priv := range granted {
		slog.InfoContext(ctx, "privilege granted",
			logger.AccountID(account.ID),
			logger.Privilege(priv.Name),
			logger.Need(ActionNeed(priv.Name).String()),
		)
		p.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypePrivilegeGranted,
			ActorID:  strconv.FormatInt(account.ID, 10),
			Resource: "privilege",
			Metadata: map[string]any{
				"privilege":    priv.Name,
				"privilege_id": priv.ID,
			},
		})
	}
	return nil
}

// lookupOrCreate returns the privilege named name, creating it when absent.
// A concurrent creator winning the insert sends us back to the lookup.
func lookupOrCreate(ctx context.Context, tx GrantTx, name string) (*identity.Privilege, error) {
	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		priv, err := tx.PrivilegeByName(ctx, name)
		if err == nil {
			return priv, nil
		}
		if !errors.Is(err, identity.ErrPrivilegeNotFound) {
			return nil, fmt.Errorf("lookup privilege %q: %w", name, err)
		}

		priv, err = tx.CreatePrivilege(ctx, name)
		if err == nil {
			return priv, nil
		}
		if !errors.Is(err, identity.ErrPrivilegeExists) {
			return nil, fmt.Errorf("create privilege %q: %w", name, err)
		}
		metrics.PrivilegeConflicts.Inc()
		slog.DebugContext(ctx, "privilege created concurrently, retrying lookup",
			logger.Privilege(name),
			slog.Int("attempt", attempt+1),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("create privilege %q after %d attempts: %w", name, maxCreateAttempts, lastErr)
}
