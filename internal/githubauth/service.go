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

// Package githubauth runs the GitHub OAuth web flow and maps the result
// onto a local account.
package githubauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/observability/metrics"
	"github.com/saltstack/jema/internal/observability/tracing"
)

// Default GitHub endpoints
const (
	DefaultAuthURL  = "https://github.com/login/oauth/authorize"
	DefaultTokenURL = "https://github.com/login/oauth/access_token"
	DefaultAPIURL   = "https://api.github.com"
)

// DefaultScopes are requested when none are configured
var DefaultScopes = []string{"user:email", "public_repo"}

// Config holds GitHub OAuth application settings
type Config struct {
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	AuthURL         string
	TokenURL        string
	APIURL          string
	Scopes          []string
	ExchangeTimeout time.Duration

	// HTTPClient overrides the outbound client. Its transport is wrapped
	// to force JSON responses.
	HTTPClient *http.Client
}

// AccountResolver finds or records the local account for a GitHub sign-in
type AccountResolver interface {
	GetByAccessToken(ctx context.Context, token string) (*identity.Account, error)
	SignIn(ctx context.Context, token string, profile identity.Profile) (*identity.Account, bool, error)
}

// Result is a completed sign-in
type Result struct {
	Account *identity.Account
	Created bool
	Stage   Stage
}

// Service runs the GitHub OAuth web flow
type Service struct {
	oauth       *oauth2.Config
	apiURL      string
	timeout     time.Duration
	client      *http.Client
	accounts    AccountResolver
	auditLogger audit.Logger
	instruments *metrics.Instruments
}

// NewService creates a GitHub sign-in service. instruments may be nil.
func NewService(cfg Config, accounts AccountResolver, auditLogger audit.Logger, instruments *metrics.Instruments) *Service {
	authURL := orDefault(cfg.AuthURL, DefaultAuthURL)
	tokenURL := orDefault(cfg.TokenURL, DefaultTokenURL)
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := http.RoundTripper(otelhttp.NewTransport(http.DefaultTransport))
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	client := &http.Client{Transport: &jsonTransport{base: base}, Timeout: timeout}

	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
		},
		apiURL:      strings.TrimRight(orDefault(cfg.APIURL, DefaultAPIURL), "/"),
		timeout:     timeout,
		client:      client,
		accounts:    accounts,
		auditLogger: auditLogger,
		instruments: instruments,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// NewState returns a fresh opaque OAuth state value
func NewState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Begin starts a sign-in. The caller must keep state for the callback.
func (s *Service) Begin(ctx context.Context) (state, redirectURL string) {
	state = NewState()
	slog.DebugContext(ctx, "github sign-in initiated", logger.Stage(string(StageInitiated)))
	return state, s.oauth.AuthCodeURL(state)
}

// Complete finishes a sign-in from the callback parameters. A missing or
// mismatched state fails before any upstream call or account write.
func (s *Service) Complete(ctx context.Context, expectedState, returnedState, code string) (_ *Result, err error) {
	ctx, span := tracing.Start(ctx, "githubauth.Complete")
	defer func() { tracing.End(span, err) }()

	if returnedState == "" || expectedState == "" ||
		subtle.ConstantTimeCompare([]byte(expectedState), []byte(returnedState)) != 1 {
		s.instruments.Exchange(ctx, CodeStateMismatch)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeStateMismatch,
			Resource: "github",
			Metadata: map[string]any{"stage": string(StageCallbackReceived)},
		})
		return nil, newError(StageCallbackReceived, CodeStateMismatch, ErrStateMismatch, nil)
	}

	tok, err := s.exchange(ctx, code)
	if err != nil {
		return nil, s.fail(ctx, newError(StageCallbackReceived, CodeExchangeFailed, ErrExchangeFailed, err))
	}

	account, err := s.accounts.GetByAccessToken(ctx, tok.AccessToken)
	if err == nil {
		s.succeed(ctx, account, false)
		return &Result{Account: account, Stage: StageComplete}, nil
	}
	if !errors.Is(err, identity.ErrAccountNotFound) {
		return nil, s.fail(ctx, newError(StageCallbackReceived, CodeAccountFailed, ErrAccountFailed, err))
	}

	profile, err := s.fetchProfile(ctx, tok)
	if err != nil {
		return nil, s.fail(ctx, newError(StageCallbackReceived, CodeProfileFailed, ErrProfileFailed, err))
	}

	account, created, err := s.accounts.SignIn(ctx, tok.AccessToken, *profile)
	if err != nil {
		return nil, s.fail(ctx, newError(StageCallbackReceived, CodeAccountFailed, ErrAccountFailed, err))
	}

	s.succeed(ctx, account, created)
	return &Result{Account: account, Created: created, Stage: StageComplete}, nil
}

func (s *Service) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("response carried no access_token")
	}
	return tok, nil
}

func (s *Service) fetchProfile(ctx context.Context, tok *oauth2.Token) (*identity.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("user request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var profile identity.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if profile.ID <= 0 || profile.Login == "" {
		return nil, identity.ErrInvalidProfile
	}
	return &profile, nil
}

func (s *Service) succeed(ctx context.Context, account *identity.Account, created bool) {
	s.instruments.Exchange(ctx, "success")
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSignIn,
		ActorID:  strconv.FormatInt(account.ID, 10),
		Resource: "github",
		Metadata: map[string]any{"login": account.Login, "created": created},
	})
	slog.InfoContext(ctx, "github sign-in complete",
		logger.Stage(string(StageComplete)),
		logger.AccountID(account.ID),
		logger.Login(account.Login),
	)
}

func (s *Service) fail(ctx context.Context, e *Error) error {
	s.instruments.Exchange(ctx, e.Code)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSignInFailed,
		Resource: "github",
		Metadata: map[string]any{"stage": string(e.Stage), "code": e.Code},
	})
	slog.WarnContext(ctx, "github sign-in failed",
		logger.Stage(string(e.Stage)),
		logger.ErrorType(e.Code),
		logger.Error(e),
	)
	return e
}
