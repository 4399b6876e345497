package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSweepCommand runs one expiration sweep under the same lease the
// scheduler uses, for cron-driven deployments.
func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiration sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadBase()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			ctx := cmd.Context()
			app, err := bootstrap(ctx, cfg, logr)
			if err != nil {
				return err
			}
			defer app.Close()

			app.notifications.Start(ctx)
			defer app.notifications.Stop()

			report, err := app.scheduler.RunOnce(ctx)
			if err != nil {
				logr.Error("expiration sweep failed", zap.Error(err))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
