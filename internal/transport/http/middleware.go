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

package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/observability/metrics"
	"github.com/saltstack/jema/internal/session"
)

// User-facing notices for authorization failures
const (
	noticeNotSignedIn   = "You have not signed in yet."
	noticeNoPermissions = "You don't have the required permissions."
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()

				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// IdentityMiddleware resolves the request identity from a bearer token or
// the session principal, and persists newly provided action needs once the
// handler returns. A tampered session resolves as anonymous.
func (h *Handler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var principal string
		if raw, ok := bearerToken(r); ok {
			p, err := h.tokens.Verify(raw)
			if err != nil {
				slog.WarnContext(ctx, "rejected bearer token",
					logger.RemoteAddr(getIPAddress(r)),
					logger.Error(err),
				)
				respondError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			principal = p
			ctx = withBearer(ctx)
		} else if !h.sessions.Tampered(r) {
			principal = h.sessions.Principal(r)
		}

		id := h.resolver.Resolve(ctx, principal)
		ctx = authz.WithIdentity(ctx, id)

		next.ServeHTTP(w, r.WithContext(ctx))

		if err := h.persister.Persist(context.WithoutCancel(ctx), id); err != nil {
			slog.ErrorContext(ctx, "failed to persist identity privileges",
				logger.Principal(id.Principal),
				logger.Error(err),
			)
		}
	})
}

// RedirectTargetMiddleware recomputes the remembered redirect target on
// every browser request. The previous target is dropped and may not be
// chosen again.
func (h *Handler) RedirectTargetMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wantsJSON(r) {
			previous := h.sessions.PopRedirectTarget(r)
			if target := h.pickTarget(r, "", previous); target != "" {
				h.sessions.SetRedirectTarget(r, target)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CSRFMiddleware protects cookie-authenticated state-changing requests.
// They must come from the application's own origin or carry X-CSRF-Token.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := bearerToken(r); ok || r.Header.Get("X-CSRF-Token") != "" {
			next.ServeHTTP(w, r)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			if u, ok := h.resolve(origin); ok && sameOrigin(u, h.baseURL) {
				next.ServeHTTP(w, r)
				return
			}
		}

		slog.WarnContext(r.Context(), "cross-site request rejected",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.String("origin", r.Header.Get("Origin")),
		)
		respondError(w, http.StatusForbidden, "cross-site request rejected")
	})
}

// Require denies the request unless the identity satisfies perm. Anonymous
// callers get 401 and signed-in callers 403.
func (h *Handler) Require(perm authz.Permission) func(http.Handler) http.Handler {
	return h.RequirePermission(perm, 0)
}

// RequirePermission denies the request with status unless the identity
// satisfies perm. A zero status picks 401 or 403 from the identity.
func (h *Handler) RequirePermission(perm authz.Permission, status int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := GetIdentity(r.Context()).Require(perm)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			code := status
			if code == 0 {
				code = http.StatusForbidden
				if errors.Is(err, authz.ErrNotAuthenticated) {
					code = http.StatusUnauthorized
				}
			}
			h.handleAuthError(w, r, code, perm)
		})
	}
}

// handleAuthError answers a failed permission check. Browsers get a notice
// and a 307 redirect, JSON clients an error body.
func (h *Handler) handleAuthError(w http.ResponseWriter, r *http.Request, status int, perm authz.Permission) {
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeAccessDenied,
		ActorID:   GetActorID(r.Context()),
		Resource:  r.URL.Path,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"permission": perm.Name(), "status": status},
	})

	if wantsJSON(r) {
		msg := "forbidden"
		if status == http.StatusUnauthorized {
			msg = "not authenticated"
		}
		respondError(w, status, msg)
		return
	}

	if status == http.StatusUnauthorized {
		h.notify(r, session.CategoryError, noticeNotSignedIn)
		http.Redirect(w, r, "/account/signin", http.StatusTemporaryRedirect)
		return
	}
	h.notify(r, session.CategoryError, noticeNoPermissions)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
