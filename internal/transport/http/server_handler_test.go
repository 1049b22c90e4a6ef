package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltstack/jema/internal/rbac"
)

const jenkinsBody = `{"address":"https://jenkins.example.com/","username":"jema","access_token":"1234567890abcdef"}`

// TestPurpose: Validates that anonymous browsers are sent to sign in.
// Scope: Unit Test
// Expected: 307 to /account/signin with the not-signed-in notice.
// Test Case ID: SRV-01
func TestServers_AnonymousBrowserRedirectsToSignIn(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/servers")
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/account/signin", w.Header().Get("Location"))
	assert.Equal(t, []string{noticeNotSignedIn}, noticeMessages(env.index().Notices))
}

// TestPurpose: Validates role inheritance on the build server routes.
// Scope: Unit Test
// Security: Committers can read but not register
// Expected: Committer lists with 200 and is refused registration with 403.
// Test Case ID: SRV-02
func TestServers_CommitterCanListButNotRegister(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.put(7, "carol", rbac.RoleCommitter)
	auth := env.bearer(7, "carol")

	w := env.jsonRequest(http.MethodGet, "/servers", auth, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"servers":[]}`, w.Body.String())

	w = env.jsonRequest(http.MethodPost, "/servers", auth, jenkinsBody)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.servers.servers)
}

// TestPurpose: Validates that registering a server records the action privilege once.
// Scope: Unit Test
// Expected: 201 with a masked token; build-server:register granted exactly once across two registrations; duplicate address gives 409.
// Test Case ID: SRV-03
func TestServers_ManagerRegisters(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.put(8, "mona", rbac.RoleManager)
	auth := env.bearer(8, "mona")

	w := env.jsonRequest(http.MethodPost, "/servers", auth, jenkinsBody)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "1234567890abcdef")

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "https://jenkins.example.com", got["address"])
	assert.Equal(t, "123**********def", got["access_token"])

	w = env.jsonRequest(http.MethodPost, "/servers", auth,
		strings.Replace(jenkinsBody, "jenkins.example.com", "ci.example.com", 1))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{rbac.ActionBuildServerRegister}, env.accounts.privileges(8))

	w = env.jsonRequest(http.MethodPost, "/servers", auth, jenkinsBody)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.jsonRequest(http.MethodPost, "/servers", auth, `{"address":"ftp://x","username":"u","access_token":"t"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestPurpose: Validates build server removal is reserved to administrators.
// Scope: Unit Test
// Expected: Manager gets 403; administrator gets 204, then the server is gone.
// Test Case ID: SRV-04
func TestServers_AdministratorRemoves(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.put(8, "mona", rbac.RoleManager)
	env.accounts.put(9, "root", rbac.RoleAdministrator)
	manager := env.bearer(8, "mona")
	admin := env.bearer(9, "root")

	w := env.jsonRequest(http.MethodPost, "/servers", manager, jenkinsBody)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.jsonRequest(http.MethodDelete, "/servers/1", manager, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.jsonRequest(http.MethodDelete, "/servers/1", admin, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{rbac.ActionBuildServerRemove}, env.accounts.privileges(9))

	w = env.jsonRequest(http.MethodGet, "/servers/1", admin, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.jsonRequest(http.MethodGet, "/servers/abc", admin, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServers_GetMasksToken(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.put(8, "mona", rbac.RoleManager)
	auth := env.bearer(8, "mona")

	w := env.jsonRequest(http.MethodPost, "/servers", auth, jenkinsBody)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.jsonRequest(http.MethodGet, "/servers/1", auth, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access_token":"123**********def"`)
}

func TestServers_SessionPostRequiresSameOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.put(8, "mona", rbac.RoleManager)
	env.signIn("8")

	req := httptest.NewRequest(http.MethodPost, testBaseURL+"/servers", strings.NewReader(jenkinsBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example.com")
	w := env.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "cross-site")

	req = httptest.NewRequest(http.MethodPost, testBaseURL+"/servers", strings.NewReader(jenkinsBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testBaseURL)
	w = env.do(req)
	assert.Equal(t, http.StatusCreated, w.Code)
}
