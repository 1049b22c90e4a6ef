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
	"os"

	"github.com/spf13/cobra"

	"github.com/saltstack/jema/internal/config"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/store/postgres"
)

// errReported marks a failure whose message was already printed
var errReported = errors.New("reported")

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app carries state shared by every command
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "jema",
		Short:         "JeMa manages Jenkins build servers",
		Long:          "JeMa signs users in with GitHub and manages Jenkins build servers behind role-based permissions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file (optional, also JEMA_CONFIG)")

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newMigrateCommand(a))
	cmd.AddCommand(newAdministratorCommand(a))
	cmd.AddCommand(newTokenCommand(a))

	return cmd
}

// load reads the configuration and installs the process logger
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	return nil
}

func (a *app) openDatabase(ctx context.Context) (*postgres.DB, error) {
	db, err := postgres.New(ctx, postgres.Config{
		Host:            a.cfg.Database.Host,
		Port:            a.cfg.Database.Port,
		User:            a.cfg.Database.User,
		Password:        a.cfg.Database.Password,
		Database:        a.cfg.Database.Database,
		SSLMode:         a.cfg.Database.SSLMode,
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.InfoContext(ctx, "connected to database", logger.Component("database"))
	return db, nil
}
