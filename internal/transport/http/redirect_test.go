package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltstack/jema/internal/rbac"
)

func TestRedirectTarget(t *testing.T) {
	env := newTestEnv(t)
	h := env.handler

	tests := []struct {
		name    string
		path    string
		form    url.Values
		referer string
		invalid []string
		want    string
	}{
		{"no candidates", "/account/signin", nil, "", nil, ""},
		{"referer on site", "/account/signin", nil, testBaseURL + "/servers", nil, testBaseURL + "/servers"},
		{"relative next", "/account/signin?next=/servers/3", nil, "", nil, testBaseURL + "/servers/3"},
		{"form wins over next", "/account/profile?next=/servers", url.Values{"_redirect_target": {"/"}}, "", nil, testBaseURL + "/"},
		{"next wins over referer", "/account/signin?next=/servers", nil, testBaseURL + "/account/profile", nil, testBaseURL + "/servers"},
		{"foreign host", "/account/signin?next=https://evil.example.com/", nil, testBaseURL + "/servers", nil, ""},
		{"scheme relative", "/account/signin?next=//evil.example.com", nil, "", nil, ""},
		{"other scheme", "/account/signin?next=https://jema.test/", nil, "", nil, ""},
		{"current page", "/servers", nil, testBaseURL + "/servers", nil, ""},
		{"invalid target", "/account/signout", nil, testBaseURL + "/account/signin", []string{"/account/signin"}, ""},
		{"query differs from current", "/servers", nil, testBaseURL + "/servers?page=2", nil, testBaseURL + "/servers?page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.form != nil {
				req = httptest.NewRequest(http.MethodPost, testBaseURL+tt.path, strings.NewReader(tt.form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				req = httptest.NewRequest(http.MethodGet, testBaseURL+tt.path, nil)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}

			assert.Equal(t, tt.want, h.redirectTarget(req, tt.invalid...))
		})
	}
}

func TestRedirectTargetMiddleware_RemembersTarget(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, testBaseURL+"/", nil)
	req.Header.Set("Referer", testBaseURL+"/servers")
	env.do(req)

	var got string
	read := env.handler.sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = env.handler.sessions.RedirectTarget(r)
	}))
	r := httptest.NewRequest(http.MethodGet, testBaseURL+"/", nil)
	for _, c := range env.cookies {
		r.AddCookie(c)
	}
	read.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, testBaseURL+"/servers", got)
}

// TestPurpose: Validates the remembered target follows the latest page.
// Scope: Unit Test
// Expected: Each request replaces the stored target, so the already-signed-in
// redirect returns to the page the user came from, not an older one.
// Test Case ID: RDR-02
func TestRedirectTargetMiddleware_RefreshesEachRequest(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.put(7, "alice", rbac.RoleCommitter)
	env.signIn("7")

	visit := func(path, referer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, testBaseURL+path, nil)
		req.Header.Set("Referer", referer)
		return env.do(req)
	}

	visit("/servers", testBaseURL+"/")
	visit("/account/profile", testBaseURL+"/servers")
	w := visit("/account/signin", testBaseURL+"/account/profile")

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testBaseURL+"/account/profile", w.Header().Get("Location"))
}

func TestRedirectTargetMiddleware_DropsPreviousTarget(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, testBaseURL+"/", nil)
	req.Header.Set("Referer", testBaseURL+"/servers")
	env.do(req)

	// Same referer again: the previous target may not be chosen twice.
	req = httptest.NewRequest(http.MethodGet, testBaseURL+"/account/profile", nil)
	req.Header.Set("Referer", testBaseURL+"/servers")
	env.do(req)

	var got string
	read := env.handler.sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = env.handler.sessions.RedirectTarget(r)
	}))
	r := httptest.NewRequest(http.MethodGet, testBaseURL+"/", nil)
	for _, c := range env.cookies {
		r.AddCookie(c)
	}
	read.ServeHTTP(httptest.NewRecorder(), r)
	assert.Empty(t, got)
}
