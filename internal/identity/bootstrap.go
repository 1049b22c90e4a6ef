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
	"fmt"
	"log/slog"
	"strconv"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/rbac"
)

// BootstrapService promotes accounts to administrators
type BootstrapService struct {
	accounts    AccountRepository
	groups      GroupRepository
	auditLogger audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(
	accounts AccountRepository,
	groups GroupRepository,
	auditLogger audit.Logger,
) *BootstrapService {
	return &BootstrapService{
		accounts:    accounts,
		groups:      groups,
		auditLogger: auditLogger,
	}
}

// PromoteAdministrator adds the account with the given login to the
// Administrator group. The group, and its administrator privilege, are
// created when missing. Promoting an existing administrator is a no-op.
func (s *BootstrapService) PromoteAdministrator(ctx context.Context, login string) (*Account, error) {
	account, err := s.accounts.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	group, err := s.administratorGroup(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.AddToGroup(ctx, account.ID, group.ID); err != nil {
		return nil, fmt.Errorf("failed to add %q to %s group: %w", login, group.Name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdministratorPromoted,
		ActorID:  "system",
		Resource: "account:" + strconv.FormatInt(account.ID, 10),
		Metadata: map[string]any{"login": login, "group": group.Name},
	})

	return account, nil
}

func (s *BootstrapService) administratorGroup(ctx context.Context) (*Group, error) {
	group, err := s.groups.GetByName(ctx, rbac.AdministratorGroup)
	if errors.Is(err, ErrGroupNotFound) {
		group = &Group{Name: rbac.AdministratorGroup}
		err = s.groups.Create(ctx, group)
		if errors.Is(err, ErrGroupExists) {
			group, err = s.groups.GetByName(ctx, rbac.AdministratorGroup)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s group: %w", rbac.AdministratorGroup, err)
	}

	if err := s.groups.GrantPrivilege(ctx, group.ID, rbac.RoleAdministrator); err != nil {
		return nil, fmt.Errorf("failed to grant %s to %s group: %w", rbac.RoleAdministrator, group.Name, err)
	}
	return group, nil
}

// Bootstrap promotes login at startup. An account that has not signed in yet
// is skipped; it can be promoted with the administrator command later.
func (s *BootstrapService) Bootstrap(ctx context.Context, login string) error {
	if login == "" {
		return nil
	}

	_, err := s.PromoteAdministrator(ctx, login)
	if errors.Is(err, ErrAccountNotFound) {
		slog.InfoContext(ctx, "bootstrap administrator has not signed in yet", logger.Login(login))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to bootstrap administrator: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped administrator", logger.Login(login), logger.Group(rbac.AdministratorGroup))
	return nil
}
