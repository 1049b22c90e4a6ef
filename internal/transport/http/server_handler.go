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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/buildserver"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/rbac"
)

// ListServers returns every registered build server
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.serverService.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list build servers", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list build servers")
		return
	}
	if servers == nil {
		servers = []*buildserver.Server{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// RegisterServer adds a build server
func (h *Handler) RegisterServer(w http.ResponseWriter, r *http.Request) {
	var req buildserver.RegisterRequest
	if isJSONBody(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid form")
			return
		}
		req = buildserver.RegisterRequest{
			Address:     r.PostForm.Get("address"),
			Username:    r.PostForm.Get("username"),
			AccessToken: r.PostForm.Get("access_token"),
		}
	}

	server, err := h.serverService.Register(r.Context(), GetActorID(r.Context()), req)
	if err != nil {
		switch {
		case errors.Is(err, buildserver.ErrInvalidAddress):
			respondError(w, http.StatusBadRequest, "address must be an absolute http(s) URL")
		case errors.Is(err, buildserver.ErrMissingUsername):
			respondError(w, http.StatusBadRequest, "username is required")
		case errors.Is(err, buildserver.ErrMissingToken):
			respondError(w, http.StatusBadRequest, "access token is required")
		case errors.Is(err, buildserver.ErrServerExists):
			respondError(w, http.StatusConflict, "build server already registered")
		default:
			slog.ErrorContext(r.Context(), "failed to register build server", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to register build server")
		}
		return
	}

	GetIdentity(r.Context()).Provide(authz.ActionNeed(rbac.ActionBuildServerRegister))
	respondJSON(w, http.StatusCreated, server)
}

// GetServer returns one build server
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}

	server, err := h.serverService.Get(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, server)
}

// RemoveServer deletes a build server
func (h *Handler) RemoveServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}

	if err := h.serverService.Remove(r.Context(), GetActorID(r.Context()), id); err != nil {
		h.serverError(w, r, err)
		return
	}

	GetIdentity(r.Context()).Provide(authz.ActionNeed(rbac.ActionBuildServerRemove))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, buildserver.ErrServerNotFound) {
		respondError(w, http.StatusNotFound, "build server not found")
		return
	}
	slog.ErrorContext(r.Context(), "build server lookup failed", logger.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func serverID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid server id")
		return 0, false
	}
	return id, true
}
