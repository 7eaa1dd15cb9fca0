package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "candidates",
		Aliases: []string{"candidate"},
		Short:   "List and decide detected recurring charges",
	}

	cmd.AddCommand(candidatesListCmd())
	cmd.AddCommand(candidatesAcceptCmd())
	cmd.AddCommand(candidatesDismissCmd())

	return cmd
}

func candidatesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List candidates, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			filter := service.CandidateFilter{MinConfidence: minConfidence, Limit: limit}
			if status != "all" {
				s := model.CandidateStatus(status)
				switch s {
				case model.CandidatePending, model.CandidateAccepted, model.CandidateDismissed:
				default:
					return common.NewUserError(fmt.Sprintf("unknown status %q (pending, accepted, dismissed, all)", status), nil)
				}
				filter.Status = &s
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			candidates, err := a.manager.Candidates(cmd.Context(), a.userID(), filter)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), candidateRecords(candidates))
			}
			printCandidates(cmd.OutOrStdout(), candidates)
			return nil
		},
	}

	cmd.Flags().String("status", string(model.CandidatePending), "status to list (pending, accepted, dismissed, all)")
	cmd.Flags().Float64("min-confidence", 0, "hide candidates below this confidence")
	cmd.Flags().Int("limit", 0, "maximum number of candidates (0 for all)")
	cmd.Flags().Bool("json", false, "print candidates as JSON")

	return cmd
}

func candidatesAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <candidate-id>",
		Short: "Accept a candidate as a subscription",
		Long: `Accept a pending candidate, turning it into a tracked subscription.

The proposed name, amount, cadence and next occurrence can be overridden.`,
		Example: `  recur candidates accept 3f2c... --name "Netflix" --amount 17.99`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := overridesFromFlags(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			sub, err := a.manager.Accept(cmd.Context(), lifecycle.AcceptCandidate{
				UserID:      a.userID(),
				CandidateID: args[0],
				Overrides:   overrides,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Tracking %s: %s %s, next charge %s",
				sub.Name,
				cli.FormatMoney(sub.Cost, sub.Currency),
				sub.Cadence,
				sub.NextOccurrence.Format("2006-01-02"))))
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Subscription ID: "+sub.ID))
			return nil
		},
	}

	cmd.Flags().String("name", "", "subscription name")
	cmd.Flags().String("amount", "", "subscription cost")
	cmd.Flags().String("cadence", "", "billing cadence (daily, weekly, monthly, yearly)")
	cmd.Flags().String("next", "", "next charge date (YYYY-MM-DD)")

	return cmd
}

func candidatesDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <candidate-id>",
		Short: "Dismiss a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			c, err := a.manager.Dismiss(cmd.Context(), lifecycle.DismissCandidate{
				UserID:      a.userID(),
				CandidateID: args[0],
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Dismissed "+c.ProposedName))
			return nil
		},
	}
}

// overridesFromFlags reads only the flags the user actually set.
func overridesFromFlags(cmd *cobra.Command) (lifecycle.Overrides, error) {
	var o lifecycle.Overrides
	flags := cmd.Flags()

	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		o.Name = &name
	}
	if flags.Changed("amount") {
		raw, _ := flags.GetString("amount")
		amount, err := decimal.NewFromString(strings.TrimPrefix(raw, "$"))
		if err != nil {
			return o, common.NewUserError(fmt.Sprintf("invalid amount %q", raw), err)
		}
		o.Amount = &amount
	}
	if flags.Changed("cadence") {
		raw, _ := flags.GetString("cadence")
		cadence, ok := model.ParseCadence(strings.ToLower(raw))
		if !ok {
			return o, common.NewUserError(fmt.Sprintf("invalid cadence %q (daily, weekly, monthly, yearly)", raw), nil)
		}
		o.Cadence = &cadence
	}
	if flags.Changed("next") {
		raw, _ := flags.GetString("next")
		next, err := parseDate(raw)
		if err != nil {
			return o, common.NewUserError(err.Error(), nil)
		}
		o.NextOccurrence = &next
	}
	return o, nil
}

func printCandidates(w io.Writer, candidates []model.DetectionCandidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No candidates"))
		return
	}

	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			c.ID,
			c.ProposedName,
			cli.FormatMoney(c.ProposedAmount, c.ProposedCurrency),
			cadenceLabel(c.ProposedCadence),
			cli.FormatConfidence(c.Confidence),
			string(c.Status),
			c.ProposedNextOccurrence.Format("2006-01-02"),
		})
	}
	fmt.Fprintln(w, cli.RenderTable([]string{"ID", "Merchant", "Amount", "Cadence", "Confidence", "Status", "Next"}, rows))
}

func cadenceLabel(c model.Cadence) string {
	if c == model.CadenceNone {
		return "unknown"
	}
	return string(c)
}

// candidateRecord is the JSON form of a candidate.
type candidateRecord struct {
	ProposedNextOccurrence string   `json:"proposed_next_occurrence"`
	ID                     string   `json:"id"`
	MerchantKey            string   `json:"merchant_key"`
	ProposedName           string   `json:"proposed_name"`
	ProposedAmount         string   `json:"proposed_amount"`
	ProposedCurrency       string   `json:"proposed_currency"`
	ProposedCadence        string   `json:"proposed_cadence"`
	Status                 string   `json:"status"`
	SupportingEventIDs     []string `json:"supporting_event_ids"`
	Confidence             float64  `json:"confidence"`
}

func candidateRecords(candidates []model.DetectionCandidate) []candidateRecord {
	out := make([]candidateRecord, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidateRecord{
			ProposedNextOccurrence: c.ProposedNextOccurrence.Format("2006-01-02"),
			ID:                     c.ID,
			MerchantKey:            string(c.MerchantKey),
			ProposedName:           c.ProposedName,
			ProposedAmount:         c.ProposedAmount.StringFixed(2),
			ProposedCurrency:       c.ProposedCurrency,
			ProposedCadence:        string(c.ProposedCadence),
			Status:                 string(c.Status),
			SupportingEventIDs:     c.SupportingEventIDs,
			Confidence:             c.Confidence,
		})
	}
	return out
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		common.LogError(err, "Failed to close storage", common.Fields{"db": a.cfg.Database.Path})
	}
}
