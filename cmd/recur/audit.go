package main

import (
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show the acceptance audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			entries, err := a.manager.AuditTrail(cmd.Context(), a.userID())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, cli.FormatInfo("No accepted candidates yet"))
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.CreatedAt.Format("2006-01-02 15:04"),
					string(e.Action),
					e.MerchantName,
					cli.FormatConfidence(e.Confidence),
					e.CandidateID,
					e.SubscriptionID,
				})
			}
			fmt.Fprintln(w, cli.RenderTable([]string{"When", "Action", "Merchant", "Confidence", "Candidate", "Subscription"}, rows))
			return nil
		},
	}
}
