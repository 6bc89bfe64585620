package cli

import (
	"github.com/spf13/cobra"

	"poolwatcher/internal/app"
)

var (
	backfillHours  int
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical readings into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			Hours:  backfillHours,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillHours, "hours", 24, "Trailing window of history to fetch, in hours")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
