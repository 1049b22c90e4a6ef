package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/saltstack/jema/internal/audit"
	"github.com/saltstack/jema/internal/identity"
	"github.com/saltstack/jema/internal/observability/logger"
	"github.com/saltstack/jema/internal/store/postgres"
	"github.com/saltstack/jema/internal/token"
)

func newMigrateCommand(a *app) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				if err := db.MigrateDown(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema dropped.")
				return nil
			}
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration successful.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll every migration back")
	return cmd
}

func newAdministratorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "administrator <login>",
		Short: "Grant the administrator role to an account",
		Long: `Add the account to the Administrator group, creating the group and
granting it the administrator privilege when missing. The account must
have signed in at least once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			login := args[0]

			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			bootstrap := identity.NewBootstrapService(
				postgres.NewAccountRepository(db),
				postgres.NewGroupRepository(db),
				audit.NewSlogLogger(),
			)

			account, err := bootstrap.PromoteAdministrator(ctx, login)
			if errors.Is(err, identity.ErrAccountNotFound) {
				fmt.Fprintf(cmd.ErrOrStderr(), "The account %q does not exist\n", login)
				return errReported
			}
			if err != nil {
				return err
			}

			slog.InfoContext(ctx, "administrator granted", logger.AccountID(account.ID), logger.Login(account.Login))
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now an administrator.\n", account.Login)
			return nil
		},
	}
}

func newTokenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <login>",
		Short: "Issue an API bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			login := args[0]

			tokens, err := token.NewService(a.cfg.Token.Issuer, a.cfg.Token.Secret, a.cfg.Token.TTL)
			if err != nil {
				return err
			}

			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			account, err := identity.NewService(postgres.NewAccountRepository(db), audit.NewSlogLogger()).GetByLogin(ctx, login)
			if errors.Is(err, identity.ErrAccountNotFound) {
				fmt.Fprintf(cmd.ErrOrStderr(), "The account %q does not exist\n", login)
				return errReported
			}
			if err != nil {
				return err
			}

			raw, expires, err := tokens.Issue(account.ID, account.Login)
			if err != nil {
				return err
			}
			audit.NewSlogLogger().Log(ctx, audit.Event{
				Type:     audit.TypeTokenIssued,
				ActorID:  fmt.Sprint(account.ID),
				Resource: "api_token",
				Metadata: map[string]any{"login": account.Login, "expires_at": expires},
			})

			fmt.Fprintln(cmd.OutOrStdout(), raw)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format("2006-01-02 15:04 MST"))
			return nil
		},
	}
}
