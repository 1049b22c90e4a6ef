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

package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Event types
const (
	TypeSignIn                = "sign_in"
	TypeSignInFailed          = "sign_in_failed"
	TypeSignOut               = "sign_out"
	TypeStateMismatch         = "oauth_state_mismatch"
	TypeAccountCreated        = "account_created"
	TypeAccountUpdated        = "account_updated"
	TypeProfileUpdated        = "profile_updated"
	TypePrivilegeGranted      = "privilege_granted"
	TypeAdministratorPromoted = "administrator_promoted"
	TypeAccessDenied          = "access_denied"
	TypeTokenIssued           = "token_issued"
	TypeBuildServerRegistered = "build_server_registered"
	TypeBuildServerRemoved    = "build_server_removed"
)

// Event represents an auditable action
type Event struct {
	Type      string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger writing through the slog default
// at the time of each call.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// NewSlogLoggerWith creates an audit logger bound to a specific logger.
func NewSlogLoggerWith(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		group := make([]any, 0, len(keys))
		for _, k := range keys {
			v := event.Metadata[k]
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
