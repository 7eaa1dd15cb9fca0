package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Track accepted subscriptions and their renewals",
	}

	cmd.AddCommand(subscriptionsListCmd())
	cmd.AddCommand(subscriptionsDueCmd())
	cmd.AddCommand(subscriptionsConfirmCmd())
	cmd.AddCommand(subscriptionsHistoryCmd())

	return cmd
}

func subscriptionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			subs, err := a.tracker.Subscriptions(cmd.Context(), a.userID(), !all)
			if err != nil {
				return err
			}
			printSubscriptions(cmd.OutOrStdout(), subs)
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "include cancelled subscriptions")
	return cmd
}

func subscriptionsDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List subscriptions awaiting renewal confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			subs, err := a.tracker.NeedsConfirmation(cmd.Context(), a.userID())
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Nothing needs confirmation"))
				return nil
			}
			printSubscriptions(cmd.OutOrStdout(), subs)
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Run 'recur subscriptions confirm <id>' for each one"))
			return nil
		},
	}
}

func subscriptionsConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <subscription-id> [renewed|cancelled]",
		Short: "Confirm whether a due subscription renewed or was cancelled",
		Long: `Answer a renewal prompt for one subscription.

Without an action you are asked interactively. Renewals can record a new cost,
which is kept in the subscription's price history.`,
		Example: `  recur subscriptions confirm 9b1e... renewed --cost 17.99
  recur subscriptions confirm 9b1e... cancelled`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var newCost *decimal.Decimal
			if cmd.Flags().Changed("cost") {
				raw, _ := cmd.Flags().GetString("cost")
				cost, err := decimal.NewFromString(strings.TrimPrefix(raw, "$"))
				if err != nil {
					return common.NewUserError(fmt.Sprintf("invalid cost %q", raw), err)
				}
				newCost = &cost
			}

			var answer string
			if len(args) == 2 {
				answer = args[1]
			} else {
				prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
				choice, err := prompter.Choose(ctx, "Did this subscription renew or was it cancelled?",
					[]string{string(renewal.ActionRenewed), string(renewal.ActionCancelled)})
				if err != nil {
					return err
				}
				answer = choice
			}
			action, err := renewal.ParseAction(strings.ToLower(answer))
			if err != nil {
				return common.NewUserError(fmt.Sprintf("unknown action %q (renewed, cancelled)", answer), err)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			result, err := a.tracker.Confirm(ctx, renewal.ConfirmRenewal{
				NewCost:        newCost,
				UserID:         a.userID(),
				SubscriptionID: args[0],
				Action:         action,
			})
			if err != nil {
				return err
			}
			printConfirmation(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().String("cost", "", "new cost when the renewal changed price")
	return cmd
}

func subscriptionsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <subscription-id>",
		Short: "Show the price history of a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			h, err := a.tracker.PriceHistory(cmd.Context(), a.userID(), args[0])
			if err != nil {
				return err
			}
			printPriceHistory(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func printSubscriptions(w io.Writer, subs []model.Subscription) {
	if len(subs) == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No subscriptions"))
		return
	}

	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		status := "active"
		switch {
		case !s.IsActive:
			status = "cancelled"
		case s.RenewalStatus == model.RenewalPendingConfirmation:
			status = "needs confirmation"
		}
		rows = append(rows, []string{
			s.ID,
			s.Name,
			cli.FormatMoney(s.Cost, s.Currency),
			string(s.Cadence),
			s.NextOccurrence.Format("2006-01-02"),
			status,
		})
	}
	fmt.Fprintln(w, cli.RenderTable([]string{"ID", "Name", "Cost", "Cadence", "Next", "Status"}, rows))
}

func printConfirmation(w io.Writer, c *renewal.Confirmation) {
	sub := c.Subscription
	if !sub.IsActive {
		fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Cancelled %s", sub.Name)))
		if c.Savings != nil {
			fmt.Fprintln(w, cli.FormatInfo(fmt.Sprintf("Saving %s a month, %s a year",
				cli.FormatMoney(c.Savings.Monthly, c.Savings.Currency),
				cli.FormatMoney(c.Savings.Yearly, c.Savings.Currency))))
		}
		return
	}

	fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Renewed %s, next charge %s", sub.Name, sub.NextOccurrence.Format("2006-01-02"))))
	if c.PriceChange != nil {
		fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("Price changed from %s to %s",
			cli.FormatMoney(c.PriceChange.OldPrice, c.PriceChange.Currency),
			cli.FormatMoney(c.PriceChange.NewPrice, c.PriceChange.Currency))))
	}
}

func printPriceHistory(w io.Writer, h *renewal.PriceHistory) {
	sub := h.Subscription
	fmt.Fprintln(w, cli.FormatTitle(sub.Name+" price history"))
	if h.Count == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No price changes; still "+cli.FormatMoney(h.Current, sub.Currency)))
		return
	}

	rows := make([][]string, 0, len(h.Changes))
	for _, c := range h.Changes {
		rows = append(rows, []string{
			c.DetectedAt.Format("2006-01-02"),
			cli.FormatMoney(c.OldPrice, c.Currency),
			cli.FormatMoney(c.NewPrice, c.Currency),
		})
	}
	fmt.Fprintln(w, cli.RenderTable([]string{"Date", "From", "To"}, rows))
	fmt.Fprintf(w, "%s → %s (%+.2f%% over %d changes)\n",
		cli.FormatMoney(h.Starting, sub.Currency),
		cli.FormatMoney(h.Current, sub.Currency),
		h.PercentChange, h.Count)
}
