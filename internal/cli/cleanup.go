package cli

import (
	"time"

	"github.com/spf13/cobra"

	"marketwatch/internal/app"
)

var cleanupRetention time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete price history older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CleanupOptions{
			Retention: cleanupRetention,
		}
		return getApp().Cleanup(cmd.Context(), opts)
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupRetention, "retention", 0, "Retention window to keep (defaults to config)")
}
