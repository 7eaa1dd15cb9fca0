package main

import (
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/tui"
	"github.com/Veraticus/the-spice-must-recur/internal/tui/themes"
	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review pending candidates interactively",
		Long: `Open a full-screen review of pending candidates.

Use a to accept, d to dismiss and s to skip the selected candidate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
			themeName, _ := cmd.Flags().GetString("theme")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if themeName == "" {
				themeName = a.cfg.Review.Theme
			}

			stats, err := tui.Run(cmd.Context(), a.manager, a.userID(),
				tui.WithTheme(themes.ByName(themeName)),
				tui.WithMinConfidence(minConfidence),
			)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Review finished: %d accepted, %d dismissed, %d skipped",
				stats.Accepted, stats.Dismissed, stats.Skipped)))
			return nil
		},
	}

	cmd.Flags().Float64("min-confidence", 0, "hide candidates below this confidence")
	cmd.Flags().String("theme", "", "color theme (default, catppuccin-mocha)")

	return cmd
}
