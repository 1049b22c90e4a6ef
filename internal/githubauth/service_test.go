package githubauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/identity"
)

// fakeGitHub serves the token and user endpoints
type fakeGitHub struct {
	server      *httptest.Server
	tokenHits   atomic.Int32
	userHits    atomic.Int32
	tokenStatus int
	tokenType   string
	tokenBody   string
	userStatus  int
	profile     identity.Profile
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{
		tokenStatus: http.StatusOK,
		tokenType:   "application/json",
		tokenBody:   `{"access_token":"gho_fresh","token_type":"bearer","scope":"user:email,public_repo"}`,
		userStatus:  http.StatusOK,
		profile: identity.Profile{
			ID:        583231,
			Login:     "octocat",
			Name:      "The Octocat",
			Email:     "octocat@github.com",
			AvatarURL: "https://avatars.githubusercontent.com/u/583231",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		if r.Header.Get("Accept") != "application/json" {
			w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
			_, _ = w.Write([]byte("access_token=gho_form&token_type=bearer"))
			return
		}
		w.Header().Set("Content-Type", f.tokenType)
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		f.userHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer gho_fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(f.userStatus)
		_ = json.NewEncoder(w).Encode(f.profile)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) config() Config {
	return Config{
		ClientID:        "client-id",
		ClientSecret:    "client-secret",
		RedirectURL:     "http://jema.local/account/signin/callback",
		AuthURL:         f.server.URL + "/login/oauth/authorize",
		TokenURL:        f.server.URL + "/login/oauth/access_token",
		APIURL:          f.server.URL,
		ExchangeTimeout: 2 * time.Second,
		HTTPClient:      f.server.Client(),
	}
}

// fakeAccounts is an in-memory AccountResolver
type fakeAccounts struct {
	mu       sync.Mutex
	byToken  map[string]*identity.Account
	signIns  int
	signInFn func(token string, p identity.Profile) (*identity.Account, bool, error)
}

func (f *fakeAccounts) GetByAccessToken(_ context.Context, token string) (*identity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byToken[token]; ok {
		return a, nil
	}
	return nil, identity.ErrAccountNotFound
}

func (f *fakeAccounts) SignIn(_ context.Context, token string, p identity.Profile) (*identity.Account, bool, error) {
	f.mu.Lock()
	f.signIns++
	f.mu.Unlock()
	if f.signInFn != nil {
		return f.signInFn(token, p)
	}
	return &identity.Account{ID: p.ID, Login: p.Login, AccessToken: token}, true, nil
}

type recordingAudit struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
}

func TestBegin(t *testing.T) {
	gh := newFakeGitHub(t)
	svc := NewService(gh.config(), &fakeAccounts{}, &recordingAudit{}, nil)

	state, redirect := svc.Begin(context.Background())
	assert.Len(t, state, 32)
	assert.NotContains(t, state, "-")

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "user:email public_repo", q.Get("scope"))
	assert.Equal(t, "http://jema.local/account/signin/callback", q.Get("redirect_uri"))

	other, _ := svc.Begin(context.Background())
	assert.NotEqual(t, state, other)
}

// TestPurpose: Validates that a state mismatch fails closed.
// Scope: Unit Test
// Security: CSRF on the OAuth callback (CWE-352)
// Expected: ErrStateMismatch, no upstream call, no account write, mismatch audited.
// Test Case ID: GHA-01
func TestComplete_StateMismatch(t *testing.T) {
	gh := newFakeGitHub(t)
	accounts := &fakeAccounts{}
	auditLog := &recordingAudit{}
	svc := NewService(gh.config(), accounts, auditLog, nil)

	cases := map[string][2]string{
		"different":      {"expected", "forged"},
		"empty returned": {"expected", ""},
		"empty expected": {"", "forged"},
	}
	for name, states := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Complete(context.Background(), states[0], states[1], "code")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStateMismatch)

			var ghErr *Error
			require.True(t, errors.As(err, &ghErr))
			assert.Equal(t, StageCallbackReceived, ghErr.Stage)
			assert.Equal(t, CodeStateMismatch, ghErr.Code)
		})
	}

	assert.Zero(t, gh.tokenHits.Load())
	assert.Zero(t, gh.userHits.Load())
	assert.Zero(t, accounts.signIns)
	assert.Contains(t, auditLog.types, audit.TypeStateMismatch)
}

// TestPurpose: Validates a first sign-in creates the account from the profile.
// Scope: Unit Test
// Expected: Token exchanged once, profile fetched once, account created.
// Test Case ID: GHA-02
func TestComplete_NewAccount(t *testing.T) {
	gh := newFakeGitHub(t)
	accounts := &fakeAccounts{}
	auditLog := &recordingAudit{}
	svc := NewService(gh.config(), accounts, auditLog, nil)

	res, err := svc.Complete(context.Background(), "s1", "s1", "code")
	require.NoError(t, err)

	assert.Equal(t, StageComplete, res.Stage)
	assert.True(t, res.Created)
	assert.Equal(t, int64(583231), res.Account.ID)
	assert.Equal(t, "gho_fresh", res.Account.AccessToken)
	assert.Equal(t, int32(1), gh.tokenHits.Load())
	assert.Equal(t, int32(1), gh.userHits.Load())
	assert.Equal(t, []string{audit.TypeSignIn}, auditLog.types)
}

// TestPurpose: Validates an exchange returning a known token reuses the account.
// Scope: Unit Test
// Expected: No profile fetch and no sign-in write; same account returned.
// Test Case ID: GHA-03
func TestComplete_KnownToken(t *testing.T) {
	gh := newFakeGitHub(t)
	existing := &identity.Account{ID: 583231, Login: "octocat", AccessToken: "gho_fresh"}
	accounts := &fakeAccounts{byToken: map[string]*identity.Account{"gho_fresh": existing}}
	svc := NewService(gh.config(), accounts, &recordingAudit{}, nil)

	res, err := svc.Complete(context.Background(), "s1", "s1", "code")
	require.NoError(t, err)

	assert.Same(t, existing, res.Account)
	assert.False(t, res.Created)
	assert.Zero(t, gh.userHits.Load())
	assert.Zero(t, accounts.signIns)
}

// TestPurpose: Validates upstream token endpoint failures.
// Scope: Unit Test
// Security: Fail closed on malformed upstream responses
// Expected: Non-JSON 200, non-200 and missing access_token all yield ErrExchangeFailed without account writes.
// Test Case ID: GHA-04
func TestComplete_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		ctype   string
		body    string
		notJSON bool
	}{
		{"html 200", http.StatusOK, "text/html", "<html>rate limited</html>", true},
		{"server error", http.StatusBadGateway, "application/json", `{"error":"bad_gateway"}`, false},
		{"bad verification code", http.StatusBadRequest, "application/json", `{"error":"bad_verification_code"}`, false},
		{"no access token", http.StatusOK, "application/json", `{"token_type":"bearer"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub(t)
			gh.tokenStatus = tt.status
			gh.tokenType = tt.ctype
			gh.tokenBody = tt.body
			accounts := &fakeAccounts{}
			svc := NewService(gh.config(), accounts, &recordingAudit{}, nil)

			_, err := svc.Complete(context.Background(), "s", "s", "code")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExchangeFailed)
			if tt.notJSON {
				assert.ErrorIs(t, err, ErrNotJSON)
			}
			assert.Equal(t, int32(1), gh.tokenHits.Load(), "single attempt")
			assert.Zero(t, gh.userHits.Load())
			assert.Zero(t, accounts.signIns)
		})
	}
}

func TestComplete_ProfileFailure(t *testing.T) {
	gh := newFakeGitHub(t)
	gh.userStatus = http.StatusInternalServerError
	accounts := &fakeAccounts{}
	svc := NewService(gh.config(), accounts, &recordingAudit{}, nil)

	_, err := svc.Complete(context.Background(), "s", "s", "code")
	assert.ErrorIs(t, err, ErrProfileFailed)
	assert.Zero(t, accounts.signIns)
}

func TestComplete_StorageFailureSurfaces(t *testing.T) {
	gh := newFakeGitHub(t)
	accounts := &fakeAccounts{signInFn: func(string, identity.Profile) (*identity.Account, bool, error) {
		return nil, false, errors.New("connection refused")
	}}
	svc := NewService(gh.config(), accounts, &recordingAudit{}, nil)

	_, err := svc.Complete(context.Background(), "s", "s", "code")
	assert.ErrorIs(t, err, ErrAccountFailed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestComplete_MissingCode(t *testing.T) {
	gh := newFakeGitHub(t)
	svc := NewService(gh.config(), &fakeAccounts{}, &recordingAudit{}, nil)

	_, err := svc.Complete(context.Background(), "s", "s", "")
	assert.ErrorIs(t, err, ErrExchangeFailed)
	assert.Zero(t, gh.tokenHits.Load())
}
