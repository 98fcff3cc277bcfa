package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cradoe/lendflow/internal/app"
	"github.com/cradoe/lendflow/internal/worker"
	"github.com/spf13/cobra"
)

func autoPayCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopay",
		Short: "Auto-pay sweep commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Charge every auto-pay setting due today, once",
		Long: `Run the daily auto-pay sweep now.

Settings already attempted today are skipped, so running this after the
scheduled sweep does not charge anyone twice. When another instance holds
the sweep lease the command exits with an error and charges nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(logger)
			if err != nil {
				return err
			}
			defer application.Close()

			stats, err := application.AutoPay.RunDailyAutoPaySweep(cmd.Context())
			if errors.Is(err, worker.ErrSweepInProgress) {
				return fmt.Errorf("another sweep is running, try again later")
			}
			if err != nil {
				return err
			}

			return printJSON(cmd, stats)
		},
	})

	return cmd
}

func remindersCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Reminder sweep commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run all reminder checks once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(logger)
			if err != nil {
				return err
			}
			defer application.Close()

			result := application.Reminders.RunReminderSweep(cmd.Context())
			return printJSON(cmd, result)
		},
	})

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
