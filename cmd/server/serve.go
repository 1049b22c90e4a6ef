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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/buildserver"
	"github.com/saltstack/jema/internal/githubauth"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/observability/metrics"
	"github.com/saltstack/jema/internal/observability/tracing"
	"github.com/saltstack/jema/internal/session"
	"github.com/saltstack/jema/internal/signals"
	"github.com/saltstack/jema/internal/store/postgres"
	"github.com/saltstack/jema/internal/token"
	transportHTTP "github.com/saltstack/jema/internal/transport/http"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the JeMa HTTP server. The schema must be current; run the migrate
command first on a fresh database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "starting jema",
		logger.String("version", cfg.Observability.ServiceVersion),
		logger.ServerAddress(cfg.Addr()),
	)

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer", logger.Error(err))
		}
	}()

	instruments, err := metrics.NewInstruments(metrics.New(metrics.Config{
		Enabled: cfg.Observability.MetricsEnabled,
	}, cfg.Observability.ServiceName))
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	accountRepo := postgres.NewAccountRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	privilegeRepo := postgres.NewPrivilegeRepository(db)
	serverRepo := postgres.NewBuildServerRepository(db)

	auditLogger := audit.NewSlogLogger()

	hub := signals.NewHub()
	hub.ConfigurationLoaded.Connect(func(ctx context.Context, ev signals.ConfigurationLoaded) {
		slog.InfoContext(ctx, "configuration loaded", slog.Any("sources", ev.Sources))
	})
	hub.IdentityChanged.Connect(func(ctx context.Context, ev signals.IdentityChanged) {
		slog.DebugContext(ctx, "identity changed", logger.Principal(ev.Principal))
	})
	hub.ConfigurationLoaded.Send(ctx, signals.ConfigurationLoaded{Sources: cfg.Sources})

	bootstrap := identity.NewBootstrapService(accountRepo, groupRepo, auditLogger)
	if err := bootstrap.Bootstrap(ctx, cfg.Bootstrap.AdminLogin); err != nil {
		return fmt.Errorf("failed to bootstrap administrator: %w", err)
	}

	tracker := identity.NewLoginTracker(accountRepo, cfg.Server.LoginQueueSize)
	accountService := identity.NewService(accountRepo, auditLogger)

	tokens, err := token.NewService(cfg.Token.Issuer, cfg.Token.Secret, cfg.Token.TTL)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	sessions, err := session.NewManager(session.Config{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.Session.Secret,
		Secure:     cfg.Session.CookieSecure,
		SameSite:   cfg.Session.CookieSameSite,
		MaxAge:     int(cfg.Session.Lifetime.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	githubService := githubauth.NewService(githubauth.Config{
		ClientID:        cfg.GitHub.ClientID,
		ClientSecret:    cfg.GitHub.ClientSecret,
		RedirectURL:     cfg.GitHub.RedirectURL,
		AuthURL:         cfg.GitHub.AuthURL,
		TokenURL:        cfg.GitHub.TokenURL,
		APIURL:          cfg.GitHub.APIURL,
		Scopes:          cfg.GitHub.Scopes,
		ExchangeTimeout: cfg.GitHub.ExchangeTimeout,
	}, accountService, auditLogger, instruments)

	handler, err := transportHTTP.NewHandler(transportHTTP.Services{
		Accounts:    accountService,
		GitHub:      githubService,
		Servers:     buildserver.NewService(serverRepo, auditLogger),
		Tokens:      tokens,
		Resolver:    authz.NewResolver(accountRepo, tracker, hub, instruments),
		Persister:   authz.NewPersister(privilegeRepo, auditLogger, instruments),
		Sessions:    sessions,
		Hub:         hub,
		AuditLogger: auditLogger,
		Health:      db,
	}, cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	rateLimiter := transportHTTP.NewRateLimiter(
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.Burst,
		cfg.RateLimit.MaxClients,
		cfg.RateLimit.ClientTTL,
	)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tracker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.InfoContext(gctx, "server listening", logger.ServerAddress(srv.Addr), logger.String("base_url", cfg.Server.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server exited")
	return nil
}
