package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/engine"
	"github.com/Veraticus/the-spice-must-recur/internal/gmail"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/ofx"
	"github.com/Veraticus/the-spice-must-recur/internal/plaid"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/Veraticus/the-spice-must-recur/internal/simplefin"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	sourceFile      = "file"
	sourceOFX       = "ofx"
	sourcePlaid     = "plaid"
	sourceGmail     = "gmail"
	sourceSimpleFIN = "simplefin"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [files...]",
		Short: "Ingest records and propose recurring charges",
		Long: `Ingest provider records and score every merchant they touch.

Records come from one of these sources:
  file       JSON or YAML files holding a list of provider records
  ofx        OFX/QFX bank statement exports
  plaid      transactions fetched from Plaid
  gmail      receipt emails fetched from Gmail
  simplefin  transactions fetched from a SimpleFIN bridge

File sources accept glob patterns. Re-running a scan over the same records
is safe: already ingested records are skipped.`,
		Example: `  recur scan --source ofx ~/Downloads/*.qfx
  recur scan records.json
  recur scan --source gmail --since 2024-01-01`,
		RunE: runScan,
	}

	cmd.Flags().String("source", sourceFile, "record source (file, ofx, plaid, gmail, simplefin)")
	cmd.Flags().String("since", "", "start date for remote sources (YYYY-MM-DD, default: one year ago)")
	cmd.Flags().String("until", "", "end date for remote sources (YYYY-MM-DD, default: today)")
	cmd.Flags().Bool("credits", false, "include OFX credits as well as debits")
	cmd.Flags().Bool("json", false, "print the batch report as JSON")
	cmd.Flags().Bool("no-progress", false, "hide the progress bar")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	asJSON, _ := cmd.Flags().GetBool("json")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, stop := handler.HandleInterrupts(cmd.Context(), "Scan", "Run the same scan again; ingested records are skipped.")
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	records, err := collectRecords(ctx, cmd, a, source, args)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("No records found"))
		return nil
	}

	var opts []engine.Option
	if !noProgress && !asJSON {
		bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(records), "Ingesting")
		opts = append(opts, engine.WithProgress(func() { cli.Tick(bar) }))
		defer func() { _ = bar.Finish() }()
	}

	report, err := a.engine(opts...).ProcessBatch(ctx, a.userID(), records)
	if err != nil {
		if handler.WasInterrupted() {
			return nil
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	common.LogInfo("Scan finished", common.Fields{
		"source":   source,
		"received": report.Received,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"duration": report.Duration.String(),
	})

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printBatchReport(cmd.OutOrStdout(), report)
	return nil
}

// collectRecords reads provider records from the selected source.
func collectRecords(ctx context.Context, cmd *cobra.Command, a *app, source string, args []string) ([]model.ProviderRecord, error) {
	switch source {
	case sourceFile, sourceOFX:
		files, err := expandFiles(args)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, common.NewUserError("no input files given", nil)
		}
		if source == sourceOFX {
			includeCredits, _ := cmd.Flags().GetBool("credits")
			return readOFXFiles(ctx, files, includeCredits)
		}
		return readRecordFiles(files)

	case sourcePlaid, sourceGmail, sourceSimpleFIN:
		if len(args) > 0 {
			return nil, common.NewUserError(fmt.Sprintf("%s source does not take file arguments", source), nil)
		}
		start, end, err := dateRange(cmd)
		if err != nil {
			return nil, err
		}
		fetcher, err := newFetcher(ctx, a, source)
		if err != nil {
			return nil, err
		}
		records, err := fetcher.FetchRecords(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s records: %w", source, err)
		}
		return records, nil

	default:
		return nil, common.NewUserError(fmt.Sprintf("unknown source %q", source), nil)
	}
}

func newFetcher(ctx context.Context, a *app, source string) (service.RecordFetcher, error) {
	switch source {
	case sourcePlaid:
		cfg := a.cfg.Plaid
		client, err := plaid.NewClient(&cfg)
		if err != nil {
			return nil, common.NewUserError("Plaid is not configured; set plaid.client_id, plaid.secret and plaid.access_token", err)
		}
		return client, nil
	case sourceSimpleFIN:
		client, err := simplefin.NewClient(ctx, a.cfg.SimpleFIN)
		if err != nil {
			return nil, common.NewUserError("SimpleFIN is not ready; run 'recur auth simplefin' first", err)
		}
		return client, nil
	}

	client, err := gmail.NewClient(ctx, a.cfg.Gmail)
	if err != nil {
		return nil, common.NewUserError("Gmail is not ready; run 'recur auth gmail' first", err)
	}
	return client, nil
}

func dateRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(-1, 0, 0)

	if v, _ := cmd.Flags().GetString("since"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if v, _ := cmd.Flags().GetString("until"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, common.NewUserError("--since must be before --until", nil)
	}
	return start, end, nil
}

// expandFiles resolves glob patterns, keeping literal paths that match nothing so
// the open error names them.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			files = append(files, pattern)
			continue
		}
		files = append(files, matches...)
	}
	return files, nil
}

func readOFXFiles(ctx context.Context, files []string, includeCredits bool) ([]model.ProviderRecord, error) {
	parser := ofx.NewParser()
	parser.IncludeCredits = includeCredits

	var records []model.ProviderRecord
	for _, path := range files {
		f, err := os.Open(path) //nolint:gosec // user-provided statement file
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		parsed, err := parser.ParseFile(ctx, f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		slog.Info("Parsed statement", "file", path, "records", len(parsed))
		records = append(records, parsed...)
	}
	return records, nil
}

func readRecordFiles(files []string) ([]model.ProviderRecord, error) {
	var records []model.ProviderRecord
	for _, path := range files {
		data, err := os.ReadFile(path) //nolint:gosec // user-provided record file
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := decodeRecords(path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		records = append(records, parsed...)
	}
	return records, nil
}

// decodeRecords accepts a JSON array, JSON lines or a YAML list.
func decodeRecords(path string, data []byte) ([]model.ProviderRecord, error) {
	var records []model.ProviderRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	case ".jsonl", ".ndjson":
		dec := json.NewDecoder(strings.NewReader(string(data)))
		for {
			var rec model.ProviderRecord
			if err := dec.Decode(&rec); err != nil {
				if errors.Is(err, io.EOF) {
					return records, nil
				}
				return nil, err
			}
			records = append(records, rec)
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
}

func printBatchReport(w io.Writer, r *engine.BatchReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "Received:            %d\n", r.Received)
	fmt.Fprintf(&b, "Stored:              %d\n", r.Inserted)
	fmt.Fprintf(&b, "Already ingested:    %d\n", r.Skipped)
	fmt.Fprintf(&b, "Filtered out:        %d\n", r.Filtered)
	fmt.Fprintf(&b, "Malformed:           %d\n", r.Malformed)
	fmt.Fprintf(&b, "Duplicate charges:   %d\n", r.DuplicateCharges)
	fmt.Fprintf(&b, "Merchants scored:    %d\n", r.MerchantsScored)
	fmt.Fprintf(&b, "New candidates:      %d\n", r.CandidatesCreated)
	fmt.Fprintf(&b, "Updated candidates:  %d", r.CandidatesUpdated)

	fmt.Fprintln(w, cli.RenderBox(cli.RecurIcon+" Scan complete", b.String()))

	if r.Malformed > 0 {
		fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%d records could not be parsed; rerun with --log-level debug for details", r.Malformed)))
	}
	if r.CandidatesCreated > 0 || r.CandidatesUpdated > 0 {
		fmt.Fprintln(w, cli.FormatInfo("Run 'recur review' to accept or dismiss the new candidates"))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
