package main

import (
	"os"

	"github.com/spf13/cobra"
)

// @title CoachDesk API
// @version 1.0.0
// @description Trainer capacity, plan transitions and student activation.
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "coachdesk",
		Short:        "CoachDesk capacity API",
		Long:         `CoachDesk serves the trainer capacity engine: plans, capacity units, student activation and the expiration sweep.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSweepCommand(),
	)
	return root
}
