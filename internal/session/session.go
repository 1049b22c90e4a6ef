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

// Package session keeps per-browser state in a signed and encrypted cookie:
// the signed-in principal, the pending OAuth state, the redirect target and
// flash notices.
package session

import (
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

// Session value keys
const (
	KeyPrincipal      = "identity_id"
	KeyTampered       = "tampered"
	KeyGitHubState    = "github_state"
	KeyRedirectTarget = "_redirect_target"
)

// Notice categories
const (
	CategoryInfo    = "info"
	CategorySuccess = "success"
	CategoryWarning = "warning"
	CategoryError   = "error"
)

var ErrSecretTooShort = errors.New("session secret must be at least 32 bytes")

// Notice is a one-shot message shown on the next response
type Notice struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func init() {
	gob.Register(Notice{})
}

// Config holds cookie settings
type Config struct {
	CookieName string
	Secret     string
	Secure     bool
	SameSite   string
	MaxAge     int
}

// Manager wraps gorilla/sessions for JeMa's cookie session
type Manager struct {
	store *sessions.CookieStore
	name  string
}

// NewManager creates a session manager. Hash and block keys are derived
// from the secret so a single value can be configured.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, ErrSecretTooShort
	}

	hashKey, err := deriveKey(cfg.Secret, "jema session hash", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(cfg.Secret, "jema session block", 32)
	if err != nil {
		return nil, err
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: parseSameSite(cfg.SameSite),
	}

	name := cfg.CookieName
	if name == "" {
		name = "jema_session"
	}
	return &Manager{store: store, name: name}, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// load returns the request's session. A cookie that fails to decode
// yields a fresh session.
func (m *Manager) load(r *http.Request) *sessions.Session {
	s, err := m.store.Get(r, m.name)
	if err != nil || s == nil {
		s = sessions.NewSession(m.store, m.name)
		opts := *m.store.Options
		s.Options = &opts
		s.IsNew = true
	}
	return s
}

// Principal returns the signed-in principal, or ""
func (m *Manager) Principal(r *http.Request) string {
	v, _ := m.state(r).session.Values[KeyPrincipal].(string)
	return v
}

// SetPrincipal records the signed-in principal
func (m *Manager) SetPrincipal(r *http.Request, principal string) {
	m.set(r, KeyPrincipal, principal)
}

// GitHubState returns the pending OAuth state, or ""
func (m *Manager) GitHubState(r *http.Request) string {
	v, _ := m.state(r).session.Values[KeyGitHubState].(string)
	return v
}

// SetGitHubState stores the OAuth state for the callback to verify
func (m *Manager) SetGitHubState(r *http.Request, state string) {
	m.set(r, KeyGitHubState, state)
}

// MarkTampered flags the session after a failed state check
func (m *Manager) MarkTampered(r *http.Request) {
	m.set(r, KeyTampered, true)
}

// Tampered reports whether the session was flagged
func (m *Manager) Tampered(r *http.Request) bool {
	v, _ := m.state(r).session.Values[KeyTampered].(bool)
	return v
}

// RedirectTarget returns the remembered redirect target, or ""
func (m *Manager) RedirectTarget(r *http.Request) string {
	v, _ := m.state(r).session.Values[KeyRedirectTarget].(string)
	return v
}

// SetRedirectTarget remembers where to go after the current flow
func (m *Manager) SetRedirectTarget(r *http.Request, target string) {
	if m.RedirectTarget(r) == target {
		return
	}
	m.set(r, KeyRedirectTarget, target)
}

// PopRedirectTarget returns the remembered redirect target and forgets it
func (m *Manager) PopRedirectTarget(r *http.Request) string {
	st := m.state(r)
	v, ok := st.session.Values[KeyRedirectTarget]
	if !ok {
		return ""
	}
	delete(st.session.Values, KeyRedirectTarget)
	st.dirty = true
	target, _ := v.(string)
	return target
}

// AddNotice queues a flash notice
func (m *Manager) AddNotice(r *http.Request, category, message string) {
	st := m.state(r)
	st.session.AddFlash(Notice{Category: category, Message: message})
	st.dirty = true
}

// Notices pops every queued notice
func (m *Manager) Notices(r *http.Request) []Notice {
	st := m.state(r)
	flashes := st.session.Flashes()
	if len(flashes) == 0 {
		return nil
	}
	st.dirty = true

	out := make([]Notice, 0, len(flashes))
	for _, f := range flashes {
		switch n := f.(type) {
		case Notice:
			out = append(out, n)
		case string:
			out = append(out, Notice{Category: CategoryInfo, Message: n})
		}
	}
	return out
}

// Clear drops every value, notices included
func (m *Manager) Clear(r *http.Request) {
	st := m.state(r)
	for k := range st.session.Values {
		delete(st.session.Values, k)
	}
	st.dirty = true
}

// Save writes the session cookie when it changed
func (m *Manager) Save(w http.ResponseWriter, r *http.Request) error {
	st := m.state(r)
	if !st.dirty {
		return nil
	}
	if err := m.store.Save(r, w, st.session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	st.dirty = false
	return nil
}

func (m *Manager) set(r *http.Request, key string, value any) {
	st := m.state(r)
	st.session.Values[key] = value
	st.dirty = true
}
