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
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/githubauth"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/session"
	"github.com/saltstack/jema/internal/signals"
)

const (
	noticeAlreadySignedIn = "You're already authenticated!"
	noticeTampered        = "This authentication has been tampered with! Aborting!!!"
	noticeGitHubFailed    = "Authentication with GitHub failed."
	noticeSignedIn        = "You are now signed in."
	noticeSignedOut       = "You are now signed out."
	noticeProfileUpdated  = "Account details updated."
)

// AccountResponse is the public view of an account. The access token is
// always masked.
type AccountResponse struct {
	ID             int64     `json:"id"`
	Login          string    `json:"login"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	AvatarURL      string    `json:"avatar_url"`
	AccessToken    string    `json:"access_token"`
	Locale         string    `json:"locale"`
	Timezone       string    `json:"timezone"`
	DateTimeFormat string    `json:"datetime_format"`
	LastLogin      time.Time `json:"last_login"`
	RegisterDate   time.Time `json:"register_date"`
	Groups         []string  `json:"groups"`
	Privileges     []string  `json:"privileges"`
}

func newAccountResponse(a *identity.Account) *AccountResponse {
	resp := &AccountResponse{
		ID:             a.ID,
		Login:          a.Login,
		Name:           a.Name,
		Email:          a.Email,
		AvatarURL:      a.AvatarURL,
		AccessToken:    identity.MaskToken(a.AccessToken, 3),
		Locale:         a.Locale,
		Timezone:       a.Timezone,
		DateTimeFormat: a.DateTimeFormat,
		LastLogin:      a.LastLogin,
		RegisterDate:   a.RegisterDate,
		Groups:         []string{},
		Privileges:     []string{},
	}
	for _, g := range a.Groups {
		resp.Groups = append(resp.Groups, g.Name)
	}
	for _, p := range a.Privileges {
		resp.Privileges = append(resp.Privileges, p.Name)
	}
	return resp
}

// SignIn starts the GitHub OAuth flow
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	if GetIdentity(r.Context()).IsAuthenticated() {
		h.notify(r, session.CategoryInfo, noticeAlreadySignedIn)
		h.redirectBack(w, r, "/", "/account/signin")
		return
	}

	h.sessions.Clear(r)
	state, redirectURL := h.githubService.Begin(r.Context())
	h.sessions.SetGitHubState(r, state)

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// SignInCallback completes the GitHub OAuth flow. The stored state is
// consumed whatever the outcome.
func (h *Handler) SignInCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expected := h.sessions.GitHubState(r)
	h.sessions.SetGitHubState(r, "")

	q := r.URL.Query()
	res, err := h.githubService.Complete(ctx, expected, q.Get("state"), q.Get("code"))
	if err != nil {
		switch {
		case errors.Is(err, githubauth.ErrStateMismatch):
			h.sessions.MarkTampered(r)
			h.notify(r, session.CategoryError, noticeTampered)
		case errors.Is(err, githubauth.ErrAccountFailed):
			slog.ErrorContext(ctx, "failed to record signed-in account", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to sign in")
			return
		default:
			h.notify(r, session.CategoryError, noticeGitHubFailed)
		}

		if wantsJSON(r) {
			respondError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	principal := strconv.FormatInt(res.Account.ID, 10)
	h.sessions.Clear(r)
	h.sessions.SetPrincipal(r, principal)
	if h.hub != nil {
		h.hub.IdentityChanged.Send(ctx, signals.IdentityChanged{
			Principal: principal,
			AccountID: res.Account.ID,
		})
	}
	h.notify(r, session.CategorySuccess, noticeSignedIn)

	http.Redirect(w, r, "/", http.StatusFound)
}

// SignOut forgets the session identity
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := GetActorID(ctx)

	h.sessions.Clear(r)
	if h.hub != nil {
		h.hub.IdentityChanged.Send(ctx, signals.IdentityChanged{})
	}

	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeSignOut,
		ActorID:   actorID,
		Resource:  "session",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	h.notify(r, session.CategorySuccess, noticeSignedOut)
	http.Redirect(w, r, "/", http.StatusFound)
}

// GetProfile returns the signed-in account
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newAccountResponse(GetAccount(r.Context())))
}

// ProfileRequest holds the editable account preferences
type ProfileRequest struct {
	Locale         string `json:"locale"`
	Timezone       string `json:"timezone"`
	DateTimeFormat string `json:"datetime_format"`
}

// UpdateProfile updates the account preferences from a JSON body or a form
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
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
		req = ProfileRequest{
			Locale:         r.PostForm.Get("locale"),
			Timezone:       r.PostForm.Get("timezone"),
			DateTimeFormat: r.PostForm.Get("datetime_format"),
		}
	}

	account := GetAccount(r.Context())
	err := h.accountService.UpdatePreferences(r.Context(), account, identity.Preferences{
		Locale:         req.Locale,
		Timezone:       req.Timezone,
		DateTimeFormat: req.DateTimeFormat,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidLocale):
			h.profileError(w, r, "invalid locale")
		case errors.Is(err, identity.ErrInvalidTimezone):
			h.profileError(w, r, "invalid timezone")
		default:
			slog.ErrorContext(r.Context(), "failed to update profile",
				logger.AccountID(account.ID),
				logger.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "failed to update profile")
		}
		return
	}

	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, newAccountResponse(account))
		return
	}
	h.notify(r, session.CategorySuccess, noticeProfileUpdated)
	http.Redirect(w, r, "/account/profile", http.StatusFound)
}

func (h *Handler) profileError(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsJSON(r) {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	h.notify(r, session.CategoryError, msg)
	http.Redirect(w, r, "/account/profile", http.StatusFound)
}

func isJSONBody(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}
