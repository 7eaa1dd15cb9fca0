package main

import (
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/dedup"
	"github.com/spf13/cobra"
)

func duplicatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List charges that look billed more than once",
		Long: `List groups of distinct charges that share the same account, amount,
day and merchant. These are possible double billings worth checking.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			groups, err := dedup.NewStore(a.store).DuplicateCharges(cmd.Context(), a.userID())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(w, cli.FormatSuccess("No duplicate charges found"))
				return nil
			}

			var rows [][]string
			for i, g := range groups {
				for _, e := range g.Events {
					rows = append(rows, []string{
						fmt.Sprintf("%d", i+1),
						e.OccurredAt.Format("2006-01-02"),
						string(e.MerchantKey),
						cli.FormatMoney(e.Amount.Amount, e.Amount.Currency),
						e.SenderOrAccountRef,
						e.RawIdentifier,
					})
				}
			}
			fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%d possible duplicate charges", len(groups))))
			fmt.Fprintln(w, cli.RenderTable([]string{"Group", "Date", "Merchant", "Amount", "Account", "Record"}, rows))
			return nil
		},
	}
}
