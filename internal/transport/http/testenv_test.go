package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/buildserver"
	"github.com/saltstack/jema/internal/githubauth"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/session"
	"github.com/saltstack/jema/internal/signals"
	"github.com/saltstack/jema/internal/token"
)

const (
	testBaseURL = "http://jema.test"
	testSecret  = "0123456789abcdef0123456789abcdef"
)

// =============================================================================
// IN-MEMORY STORES
// =============================================================================

type memAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*identity.Account
	getErr   error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[int64]*identity.Account)}
}

func clone(a *identity.Account) *identity.Account {
	c := *a
	c.Privileges = append([]identity.Privilege(nil), a.Privileges...)
	c.Groups = append([]identity.Group(nil), a.Groups...)
	return &c
}

func (m *memAccounts) GetByID(_ context.Context, id int64) (*identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	return clone(a), nil
}

func (m *memAccounts) GetByLogin(_ context.Context, login string) (*identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Login == login {
			return clone(a), nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (m *memAccounts) GetByAccessToken(_ context.Context, token string) (*identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if token != "" && a.AccessToken == token {
			return clone(a), nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (m *memAccounts) Create(_ context.Context, account *identity.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return identity.ErrAccountExists
	}
	m.accounts[account.ID] = clone(account)
	return nil
}

func (m *memAccounts) Update(_ context.Context, account *identity.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[account.ID]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.Login = account.Login
	a.Name = account.Name
	a.Email = account.Email
	a.AccessToken = account.AccessToken
	a.AvatarURL = account.AvatarURL
	a.LastLogin = account.LastLogin
	return nil
}

func (m *memAccounts) UpdatePreferences(_ context.Context, id int64, prefs identity.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.Locale = prefs.Locale
	a.Timezone = prefs.Timezone
	a.DateTimeFormat = prefs.DateTimeFormat
	return nil
}

func (m *memAccounts) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.LastLogin = at
	}
	return nil
}

func (m *memAccounts) AddToGroup(_ context.Context, _, _ int64) error { return nil }

// put stores an account whose groups carry the given role privileges
func (m *memAccounts) put(id int64, login string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &identity.Account{ID: id, Login: login, AccessToken: "gho_" + login + "_token"}
	for i, role := range roles {
		a.Groups = append(a.Groups, identity.Group{
			ID:         int64(i + 1),
			Name:       role + "s",
			Privileges: []identity.Privilege{{ID: int64(100 + i), Name: role}},
		})
	}
	m.accounts[id] = a
}

func (m *memAccounts) privileges(id int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.accounts[id].Privileges {
		out = append(out, p.Name)
	}
	return out
}

// memGrants is a GrantStore writing straight into memAccounts
type memGrants struct {
	mu       sync.Mutex
	accounts *memAccounts
	byName   map[string]int64
	nextID   int64
}

func (g *memGrants) WithinTx(_ context.Context, fn func(tx authz.GrantTx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(memGrantTx{g})
}

type memGrantTx struct{ g *memGrants }

func (t memGrantTx) PrivilegeByName(_ context.Context, name string) (*identity.Privilege, error) {
	if id, ok := t.g.byName[name]; ok {
		return &identity.Privilege{ID: id, Name: name}, nil
	}
	return nil, identity.ErrPrivilegeNotFound
}

func (t memGrantTx) CreatePrivilege(_ context.Context, name string) (*identity.Privilege, error) {
	if _, ok := t.g.byName[name]; ok {
		return nil, identity.ErrPrivilegeExists
	}
	t.g.nextID++
	t.g.byName[name] = t.g.nextID
	return &identity.Privilege{ID: t.g.nextID, Name: name}, nil
}

func (t memGrantTx) GrantToAccount(_ context.Context, accountID, privilegeID int64) error {
	var name string
	for n, id := range t.g.byName {
		if id == privilegeID {
			name = n
		}
	}
	m := t.g.accounts
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return identity.ErrAccountNotFound
	}
	if !a.HasPrivilege(name) {
		a.Privileges = append(a.Privileges, identity.Privilege{ID: privilegeID, Name: name})
	}
	return nil
}

type memServers struct {
	mu      sync.Mutex
	servers map[int64]*buildserver.Server
	nextID  int64
}

func (m *memServers) Create(_ context.Context, s *buildserver.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.servers {
		if existing.Address == s.Address {
			return buildserver.ErrServerExists
		}
	}
	m.nextID++
	s.ID = m.nextID
	c := *s
	m.servers[s.ID] = &c
	return nil
}

func (m *memServers) GetByID(_ context.Context, id int64) (*buildserver.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, buildserver.ErrServerNotFound
	}
	c := *s
	return &c, nil
}

func (m *memServers) List(_ context.Context) ([]*buildserver.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*buildserver.Server
	for _, s := range m.servers {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *memServers) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		return buildserver.ErrServerNotFound
	}
	delete(m.servers, id)
	return nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// =============================================================================
// FAKE GITHUB
// =============================================================================

type fakeGitHub struct {
	server    *httptest.Server
	mu        sync.Mutex
	tokenHits int
	profile   identity.Profile
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{profile: identity.Profile{ID: 1001, Login: "octocat", Name: "The Octocat"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenHits++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"gho_octocat","token_type":"bearer"}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.profile)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenHits
}

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

type testEnv struct {
	t        *testing.T
	handler  *Handler
	router   *chi.Mux
	accounts *memAccounts
	servers  *memServers
	audit    *recordingAudit
	github   *fakeGitHub
	tokens   *token.Service
	hub      *signals.Hub
	cookies  map[string]*http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	accounts := newMemAccounts()
	servers := &memServers{servers: make(map[int64]*buildserver.Server)}
	auditLog := &recordingAudit{}
	gh := newFakeGitHub(t)
	hub := signals.NewHub()

	accountService := identity.NewService(accounts, auditLog)
	githubService := githubauth.NewService(githubauth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  testBaseURL + "/account/signin/callback",
		AuthURL:      gh.server.URL + "/login/oauth/authorize",
		TokenURL:     gh.server.URL + "/login/oauth/access_token",
		APIURL:       gh.server.URL,
		HTTPClient:   gh.server.Client(),
	}, accountService, auditLog, nil)

	tokens, err := token.NewService(testBaseURL, testSecret, time.Hour)
	require.NoError(t, err)
	sessions, err := session.NewManager(session.Config{CookieName: "jema_session", Secret: testSecret})
	require.NoError(t, err)

	h, err := NewHandler(Services{
		Accounts:    accountService,
		GitHub:      githubService,
		Servers:     buildserver.NewService(servers, auditLog),
		Tokens:      tokens,
		Resolver:    authz.NewResolver(accounts, nil, hub, nil),
		Persister:   authz.NewPersister(&memGrants{accounts: accounts, byName: map[string]int64{}}, auditLog, nil),
		Sessions:    sessions,
		Hub:         hub,
		AuditLogger: auditLog,
	}, testBaseURL)
	require.NoError(t, err)

	return &testEnv{
		t:        t,
		handler:  h,
		router:   NewRouter(h, nil, 5*time.Second),
		accounts: accounts,
		servers:  servers,
		audit:    auditLog,
		github:   gh,
		tokens:   tokens,
		hub:      hub,
		cookies:  make(map[string]*http.Cookie),
	}
}

// do serves req with the jar's cookies and keeps any cookie the response sets
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	e.t.Helper()
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		e.cookies[c.Name] = c
	}
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, testBaseURL+path, nil))
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, testBaseURL+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", testBaseURL)
	return e.do(req)
}

// bearer returns an API token for the account
func (e *testEnv) bearer(id int64, login string) string {
	raw, _, err := e.tokens.Issue(id, login)
	require.NoError(e.t, err)
	return "Bearer " + raw
}

func (e *testEnv) jsonRequest(method, path, auth string, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, testBaseURL+path, rd)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return e.do(req)
}

// signIn writes a session cookie for the principal without the OAuth flow
func (e *testEnv) signIn(principal string) {
	e.t.Helper()
	h := e.handler.sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.handler.sessions.SetPrincipal(r, principal)
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, testBaseURL+"/", nil))
	for _, c := range w.Result().Cookies() {
		e.cookies[c.Name] = c
	}
}

func (e *testEnv) index() IndexResponse {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodGet, testBaseURL+"/", nil)
	w := e.do(req)
	require.Equal(e.t, http.StatusOK, w.Code)
	var resp IndexResponse
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func noticeMessages(notices []session.Notice) []string {
	var out []string
	for _, n := range notices {
		out = append(out, n.Message)
	}
	return out
}
