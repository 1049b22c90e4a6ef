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
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/language"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/observability/logger"
)

// Service provides account-related business logic
type Service struct {
	accounts    AccountRepository
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a new identity service
func NewService(accounts AccountRepository, auditLogger audit.Logger) *Service {
	return &Service{
		accounts:    accounts,
		auditLogger: auditLogger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetAccount retrieves an account with its privileges and groups
func (s *Service) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// GetByLogin retrieves an account by login
func (s *Service) GetByLogin(ctx context.Context, login string) (*Account, error) {
	return s.accounts.GetByLogin(ctx, login)
}

// GetByAccessToken retrieves the account currently holding token
func (s *Service) GetByAccessToken(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, ErrEmptyAccessToken
	}
	return s.accounts.GetByAccessToken(ctx, token)
}

// SignIn records a successful GitHub sign-in for profile with a new access
// token. A known upstream id has its login, name, email, token and avatar
// overwritten in place; an unknown one becomes a new account. The returned
// bool reports whether the account was created.
func (s *Service) SignIn(ctx context.Context, token string, profile Profile) (*Account, bool, error) {
	if token == "" {
		return nil, false, ErrEmptyAccessToken
	}
	if profile.ID <= 0 || profile.Login == "" {
		return nil, false, ErrInvalidProfile
	}

	account, err := s.accounts.GetByID(ctx, profile.ID)
	switch {
	case err == nil:
		return s.refresh(ctx, account, token, profile)
	case !errors.Is(err, ErrAccountNotFound):
		return nil, false, fmt.Errorf("failed to look up account %d: %w", profile.ID, err)
	}

	now := s.now()
	account = &Account{
		ID:           profile.ID,
		Login:        profile.Login,
		Name:         profile.Name,
		Email:        profile.Email,
		AccessToken:  token,
		AvatarURL:    profile.AvatarURL,
		LastLogin:    now,
		RegisterDate: now,
		Locale:       DefaultLocale,
		Timezone:     DefaultTimezone,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if !errors.Is(err, ErrAccountExists) {
			return nil, false, fmt.Errorf("failed to create account: %w", err)
		}
		// A concurrent callback for the same GitHub user won the insert.
		existing, getErr := s.accounts.GetByID(ctx, profile.ID)
		if getErr != nil {
			return nil, false, fmt.Errorf("failed to create account: %w", err)
		}
		return s.refresh(ctx, existing, token, profile)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAccountCreated,
		ActorID:  strconv.FormatInt(account.ID, 10),
		Resource: "account",
		Metadata: map[string]any{"login": account.Login},
	})
	slog.InfoContext(ctx, "account created", logger.AccountID(account.ID), logger.Login(account.Login))

	return account, true, nil
}

func (s *Service) refresh(ctx context.Context, account *Account, token string, profile Profile) (*Account, bool, error) {
	rotated := account.AccessToken != token

	account.Login = profile.Login
	account.Name = profile.Name
	account.Email = profile.Email
	account.AccessToken = token
	account.AvatarURL = profile.AvatarURL
	account.LastLogin = s.now()

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, false, fmt.Errorf("failed to update account: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAccountUpdated,
		ActorID:  strconv.FormatInt(account.ID, 10),
		Resource: "account",
		Metadata: map[string]any{"login": account.Login, "rotated": rotated},
	})

	return account, false, nil
}

// UpdatePreferences validates and stores the account's locale, timezone and
// datetime format. Empty locale or timezone reset to the defaults.
func (s *Service) UpdatePreferences(ctx context.Context, account *Account, prefs Preferences) error {
	if prefs.Locale == "" {
		prefs.Locale = DefaultLocale
	}
	tag, err := language.Parse(prefs.Locale)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLocale, prefs.Locale)
	}
	prefs.Locale = tag.String()

	if prefs.Timezone == "" {
		prefs.Timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(prefs.Timezone); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, prefs.Timezone)
	}
	prefs.DateTimeFormat = strings.TrimSpace(prefs.DateTimeFormat)

	if err := s.accounts.UpdatePreferences(ctx, account.ID, prefs); err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}

	account.Locale = prefs.Locale
	account.Timezone = prefs.Timezone
	account.DateTimeFormat = prefs.DateTimeFormat

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeProfileUpdated,
		ActorID:  strconv.FormatInt(account.ID, 10),
		Resource: "account",
		Metadata: map[string]any{"locale": prefs.Locale, "timezone": prefs.Timezone},
	})
	return nil
}
