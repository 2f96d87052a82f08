package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketwatch/internal/app"
)

var (
	showSlug      string
	showLimit     int
	showTriggered bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display triggered alerts or an asset's recent prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Slug:      showSlug,
			Limit:     showLimit,
			Triggered: showTriggered,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSlug, "slug", "", "Asset slug to show price history for")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showTriggered, "triggered", false, "Show recently triggered alerts instead of prices")
}
