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

// Package http exposes JeMa over HTTP.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/buildserver"
	"github.com/saltstack/jema/internal/githubauth"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/session"
	"github.com/saltstack/jema/internal/signals"
	"github.com/saltstack/jema/internal/token"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services holds the collaborators a Handler needs
type Services struct {
	Accounts    *identity.Service
	GitHub      *githubauth.Service
	Servers     *buildserver.Service
	Tokens      *token.Service
	Resolver    *authz.Resolver
	Persister   *authz.Persister
	Sessions    *session.Manager
	Hub         *signals.Hub
	AuditLogger audit.Logger

	// Health is optional
	Health Pinger
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	accountService *identity.Service
	githubService  *githubauth.Service
	serverService  *buildserver.Service
	tokens         *token.Service
	resolver       *authz.Resolver
	persister      *authz.Persister
	sessions       *session.Manager
	hub            *signals.Hub
	auditLogger    audit.Logger
	health         Pinger
	baseURL        *url.URL
}

// NewHandler creates a new HTTP handler. baseURL is the externally visible
// root of the application.
func NewHandler(svc Services, baseURL string) (*Handler, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	return &Handler{
		accountService: svc.Accounts,
		githubService:  svc.GitHub,
		serverService:  svc.Servers,
		tokens:         svc.Tokens,
		resolver:       svc.Resolver,
		persister:      svc.Persister,
		sessions:       svc.Sessions,
		hub:            svc.Hub,
		auditLogger:    svc.AuditLogger,
		health:         svc.Health,
		baseURL:        u,
	}, nil
}

// NewRouter creates a new HTTP router. rateLimiter may be nil.
func NewRouter(h *Handler, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.Middleware)
		r.Use(h.IdentityMiddleware)
		r.Use(h.RedirectTargetMiddleware)
		r.Use(h.CSRFMiddleware)

		r.Get("/", h.Index)

		r.Route("/account", func(r chi.Router) {
			r.Get("/signin", h.SignIn)
			r.Get("/signin/callback", h.SignInCallback)

			r.Group(func(r chi.Router) {
				r.Use(h.RequirePermission(authz.AuthenticatedPermission, http.StatusForbidden))
				r.Get("/signout", h.SignOut)
				r.Get("/profile", h.GetProfile)
				r.Post("/profile", h.UpdateProfile)
			})
		})

		r.Route("/servers", func(r chi.Router) {
			r.With(h.Require(authz.CommitterPermission)).Get("/", h.ListServers)
			r.With(h.Require(authz.ManagerPermission)).Post("/", h.RegisterServer)
			r.With(h.Require(authz.CommitterPermission)).Get("/{serverID}", h.GetServer)
			r.With(h.Require(authz.AdministratorPermission)).Delete("/{serverID}", h.RemoveServer)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "jema",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "jema",
	})
}

// IndexResponse summarizes the caller's identity
type IndexResponse struct {
	Authenticated bool             `json:"authenticated"`
	Account       *AccountResponse `json:"account"`
	Needs         []string         `json:"needs"`
	Can           map[string]bool  `json:"can"`
	Notices       []session.Notice `json:"notices"`
}

// Index returns the caller's identity, pending notices and which built-in
// permissions they hold
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r.Context())

	resp := IndexResponse{
		Authenticated: id.IsAuthenticated(),
		Can:           make(map[string]bool),
		Notices:       h.sessions.Notices(r),
	}
	for _, n := range id.Needs().Sorted() {
		resp.Needs = append(resp.Needs, n.String())
	}
	for _, p := range authz.BuiltInPermissions() {
		resp.Can[p.Name()] = id.Can(p)
	}
	if id.Account != nil {
		resp.Account = newAccountResponse(id.Account)
	}

	respondJSON(w, http.StatusOK, resp)
}

// Helper functions
func (h *Handler) notify(r *http.Request, category, message string) {
	h.sessions.AddNotice(r, category, message)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
