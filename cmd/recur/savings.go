package main

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/spf13/cobra"
)

func savingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "savings",
		Short: "Show how much cancelled subscriptions save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			var since *time.Time
			if v, _ := cmd.Flags().GetString("since"); v != "" {
				t, err := parseDate(v)
				if err != nil {
					return common.NewUserError(err.Error(), nil)
				}
				since = &t
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			summary, err := a.tracker.Savings(cmd.Context(), a.userID(), since)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, summary)
			}
			if summary.Cancelled == 0 {
				fmt.Fprintln(w, cli.FormatInfo("No cancelled subscriptions yet"))
				return nil
			}

			rows := make([][]string, 0, len(summary.Totals))
			for _, t := range summary.Totals {
				rows = append(rows, []string{
					t.Currency,
					cli.FormatMoney(t.Monthly, t.Currency),
					cli.FormatMoney(t.Yearly, t.Currency),
				})
			}
			fmt.Fprintln(w, cli.FormatTitle(fmt.Sprintf("Savings from %d cancelled subscriptions", summary.Cancelled)))
			fmt.Fprintln(w, cli.RenderTable([]string{"Currency", "Monthly", "Yearly"}, rows))
			return nil
		},
	}

	cmd.Flags().String("since", "", "only count cancellations on or after this date (YYYY-MM-DD)")
	cmd.Flags().Bool("json", false, "print the summary as JSON")
	return cmd
}
