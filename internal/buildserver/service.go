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

package buildserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/saltstack/jema/internal/audit"
)

// Service provides build server management business logic
type Service struct {
	repo        Repository
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a new build server service
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		auditLogger: auditLogger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRequest holds the fields of a new build server
type RegisterRequest struct {
	Address     string `json:"address"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}

// NormalizeAddress validates a server address and strips any trailing slash
func NormalizeAddress(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", ErrInvalidAddress
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidAddress
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Register adds a build server on behalf of actorID
func (s *Service) Register(ctx context.Context, actorID string, req RegisterRequest) (*Server, error) {
	address, err := NormalizeAddress(req.Address)
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, ErrMissingUsername
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		return nil, ErrMissingToken
	}

	server := &Server{
		Address:     address,
		Username:    username,
		AccessToken: token,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, server); err != nil {
		if errors.Is(err, ErrServerExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to register build server: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeBuildServerRegistered,
		ActorID:  actorID,
		Resource: "build_server",
		Metadata: map[string]any{
			"server_id": server.ID,
			"address":   server.Address,
			"username":  server.Username,
		},
	})

	return server, nil
}

// Get retrieves a build server by ID
func (s *Service) Get(ctx context.Context, id int64) (*Server, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns every registered build server ordered by address
func (s *Service) List(ctx context.Context) ([]*Server, error) {
	return s.repo.List(ctx)
}

// Remove deletes a build server on behalf of actorID
func (s *Service) Remove(ctx context.Context, actorID string, id int64) error {
	server, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeBuildServerRemoved,
		ActorID:  actorID,
		Resource: "build_server",
		Metadata: map[string]any{
			"server_id": server.ID,
			"address":   server.Address,
		},
	})
	return nil
}
