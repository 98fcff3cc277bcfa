package main

import (
	"fmt"
	"log/slog"

	"github.com/cradoe/lendflow/internal/app"
	"github.com/cradoe/lendflow/internal/repository"
	seeders "github.com/cradoe/lendflow/internal/seeder"
	"github.com/spf13/cobra"
)

func migrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig(logger)

			if err := repository.Migrate(cfg.Db.Dsn); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func seedCmd(logger *slog.Logger) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create development admin and borrower accounts",
		Long: `Create admin@lendflow.local and borrower@lendflow.local.

The borrower gets a sandbox card (tok_visa) as default payment method so
auto-pay can be exercised locally. Accounts that already exist are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig(logger)

			db, err := repository.New(cfg.Db.Dsn, cfg.Db.Automigrate)
			if err != nil {
				return err
			}
			defer db.Close()

			return seeders.New(db, logger).Run(cmd.Context(), seeders.DefaultAccounts(password))
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "Passw0rd!Lendflow", "password for every seeded account")

	return cmd
}
