package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/sheets"
	"github.com/spf13/cobra"
)

const (
	exportSheets = "sheets"
	exportJSON   = "json"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export subscriptions, price changes and savings",
		Long: `Export every subscription with its price changes and the savings from
cancelled ones.

With --to sheets the report replaces the Subscriptions, Price Changes and
Savings tabs of a Google spreadsheet. Configure sheets.service_account_path,
or sheets.client_id, sheets.client_secret and sheets.refresh_token. Without
sheets.spreadsheet_id a new spreadsheet is created.

With --to json the report is printed to stdout.`,
		Example: `  recur export --to json > subscriptions.json
  recur export --to sheets --spreadsheet 1AbC...`,
		Args: cobra.NoArgs,
		RunE: runExport,
	}

	cmd.Flags().String("to", exportSheets, "export target (sheets, json)")
	cmd.Flags().String("spreadsheet", "", "spreadsheet ID to write to (overrides sheets.spreadsheet_id)")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	target, _ := cmd.Flags().GetString("to")
	if target != exportSheets && target != exportJSON {
		return common.NewUserError(fmt.Sprintf("unknown export target %q", target), nil)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if target == exportJSON {
		report, err := buildReport(ctx, a)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), report)
	}

	cfg := a.cfg.Sheets
	if v, _ := cmd.Flags().GetString("spreadsheet"); v != "" {
		cfg.SpreadsheetID = v
	}
	if err := cfg.Validate(); err != nil {
		return common.NewUserError("Google Sheets is not configured; set sheets.service_account_path or OAuth2 client credentials", err)
	}

	report, err := buildReport(ctx, a)
	if err != nil {
		return err
	}

	writer, err := sheets.NewWriter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Google Sheets: %w", err)
	}

	id, err := writer.Write(ctx, report)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Exported %d subscriptions and %d price changes",
		len(report.Subscriptions), len(report.PriceChanges))))
	fmt.Fprintln(w, cli.FormatInfo("https://docs.google.com/spreadsheets/d/"+id))
	return nil
}

// buildReport gathers every subscription of the current user with its price history.
func buildReport(ctx context.Context, a *app) (sheets.Report, error) {
	user := a.userID()
	subs, err := a.tracker.Subscriptions(ctx, user, false)
	if err != nil {
		return sheets.Report{}, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	changes := make(map[string][]model.PriceChangeEntry, len(subs))
	for _, sub := range subs {
		history, err := a.tracker.PriceHistory(ctx, user, sub.ID)
		if err != nil {
			return sheets.Report{}, err
		}
		if len(history.Changes) > 0 {
			changes[sub.ID] = history.Changes
		}
	}

	common.LogDebug("Built export report", common.Fields{"user": user, "subscriptions": len(subs), "with_changes": len(changes)})
	return sheets.BuildReport(user, subs, changes, time.Now()), nil
}
