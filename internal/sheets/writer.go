package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Tab titles written by the exporter.
const (
	TabSubscriptions = "Subscriptions"
	TabPriceChanges  = "Price Changes"
	TabSavings       = "Savings"
)

// tab is one worksheet of the export with its rendered rows.
type tab struct {
	title string
	// moneyColumns are zero-based column indexes formatted as currency.
	moneyColumns []int64
	values       [][]any
	width        int64
}

// Writer exports reports to a Google spreadsheet.
type Writer struct {
	service   *sheets.Service
	logger    *slog.Logger
	config    Config
	retryOpts service.RetryOptions
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	svc, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWriterWithService(svc, config), nil
}

// NewWriterWithService wraps an existing Sheets service.
func NewWriterWithService(svc *sheets.Service, config Config) *Writer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Writer{
		service: svc,
		logger:  slog.Default().With("component", "sheets"),
		config:  config,
		retryOpts: service.RetryOptions{
			MaxAttempts:  config.RetryAttempts,
			InitialDelay: config.RetryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = client.TokenSource(ctx, &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

// Write replaces the export tabs with report and returns the spreadsheet ID.
func (w *Writer) Write(ctx context.Context, report Report) (string, error) {
	tabs := renderTabs(report)
	w.logger.Info("starting export",
		"user", report.UserID,
		"subscriptions", len(report.Subscriptions),
		"price_changes", len(report.PriceChanges))

	spreadsheet, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	id := spreadsheet.SpreadsheetId

	sheetIDs, err := w.ensureTabs(ctx, spreadsheet, tabs)
	if err != nil {
		return "", fmt.Errorf("failed to prepare tabs: %w", err)
	}

	if err := w.clearTabs(ctx, id, tabs); err != nil {
		return "", fmt.Errorf("failed to clear tabs: %w", err)
	}

	if err := w.writeData(ctx, id, tabs); err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}

	if w.config.EnableFormatting {
		err := w.retry(ctx, "failed to apply formatting", func() error {
			return w.applyFormatting(ctx, id, sheetIDs, tabs)
		})
		if err != nil {
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("export completed", "spreadsheet_id", id, "url", spreadsheet.SpreadsheetUrl)
	return id, nil
}

// getOrCreateSpreadsheet gets the configured spreadsheet or creates a new one.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (*sheets.Spreadsheet, error) {
	var spreadsheet *sheets.Spreadsheet

	if w.config.SpreadsheetID != "" {
		err := w.retry(ctx, "unable to access spreadsheet "+w.config.SpreadsheetID, func() error {
			var err error
			spreadsheet, err = w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
			return err
		})
		return spreadsheet, err
	}

	request := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: TabSubscriptions}},
			{Properties: &sheets.SheetProperties{Title: TabPriceChanges}},
			{Properties: &sheets.SheetProperties{Title: TabSavings}},
		},
	}
	err := w.retry(ctx, "unable to create spreadsheet", func() error {
		var err error
		spreadsheet, err = w.service.Spreadsheets.Create(request).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("created new spreadsheet",
		"id", spreadsheet.SpreadsheetId,
		"url", spreadsheet.SpreadsheetUrl)
	return spreadsheet, nil
}

// ensureTabs adds missing tabs and returns the sheet ID of every export tab.
func (w *Writer) ensureTabs(ctx context.Context, spreadsheet *sheets.Spreadsheet, tabs []tab) (map[string]int64, error) {
	ids := make(map[string]int64, len(tabs))
	for _, s := range spreadsheet.Sheets {
		if s.Properties != nil {
			ids[s.Properties.Title] = s.Properties.SheetId
		}
	}

	var requests []*sheets.Request
	for _, t := range tabs {
		if _, ok := ids[t.title]; !ok {
			requests = append(requests, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: t.title}},
			})
		}
	}
	if len(requests) == 0 {
		return ids, nil
	}

	var resp *sheets.BatchUpdateSpreadsheetResponse
	err := w.retry(ctx, "unable to add tabs", func() error {
		var err error
		resp, err = w.service.Spreadsheets.BatchUpdate(spreadsheet.SpreadsheetId, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: requests,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, reply := range resp.Replies {
		if reply != nil && reply.AddSheet != nil && reply.AddSheet.Properties != nil {
			ids[reply.AddSheet.Properties.Title] = reply.AddSheet.Properties.SheetId
		}
	}
	return ids, nil
}

// clearTabs clears all data from the export tabs.
func (w *Writer) clearTabs(ctx context.Context, spreadsheetID string, tabs []tab) error {
	ranges := make([]string, 0, len(tabs))
	for _, t := range tabs {
		ranges = append(ranges, a1(t.title, "A:Z"))
	}
	return w.retry(ctx, "unable to clear tabs", func() error {
		_, err := w.service.Spreadsheets.Values.BatchClear(spreadsheetID, &sheets.BatchClearValuesRequest{
			Ranges: ranges,
		}).Context(ctx).Do()
		return err
	})
}

// writeData writes each tab in batches to avoid API limits.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, tabs []tab) error {
	for _, t := range tabs {
		for i := 0; i < len(t.values); i += w.config.BatchSize {
			end := min(i+w.config.BatchSize, len(t.values))

			batch := &sheets.BatchUpdateValuesRequest{
				ValueInputOption: "USER_ENTERED",
				Data: []*sheets.ValueRange{{
					Range:  a1(t.title, fmt.Sprintf("A%d", i+1)),
					Values: t.values[i:end],
				}},
			}
			msg := fmt.Sprintf("failed to write %s rows starting at %d", t.title, i+1)
			err := w.retry(ctx, msg, func() error {
				_, err := w.service.Spreadsheets.Values.BatchUpdate(spreadsheetID, batch).Context(ctx).Do()
				return err
			})
			if err != nil {
				return err
			}

			w.logger.Debug("wrote batch", "tab", t.title, "start_row", i+1, "rows", end-i)
		}
	}
	return nil
}

// applyFormatting bolds and freezes header rows and formats money columns.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, sheetIDs map[string]int64, tabs []tab) error {
	var requests []*sheets.Request
	for _, t := range tabs {
		sheetID := sheetIDs[t.title]
		rows := int64(len(t.values))

		requests = append(requests,
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1, StartColumnIndex: 0, EndColumnIndex: t.width},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
					},
					Fields: "userEnteredFormat.textFormat",
				},
			},
			&sheets.Request{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        sheetID,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		)

		for _, col := range t.moneyColumns {
			if rows <= 1 {
				break
			}
			requests = append(requests, &sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 1, EndRowIndex: rows, StartColumnIndex: col, EndColumnIndex: col + 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: "#,##0.00"},
						},
					},
					Fields: "userEnteredFormat.numberFormat",
				},
			})
		}

		requests = append(requests, &sheets.Request{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{SheetId: sheetID, Dimension: "COLUMNS", StartIndex: 0, EndIndex: t.width},
			},
		})
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	return err
}

func (w *Writer) retry(ctx context.Context, msg string, op func() error) error {
	return common.WithRetry(ctx, func() error {
		return classify(op(), msg)
	}, w.retryOpts)
}

// classify marks quota and server errors retryable.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrProviderRateLimit, err), Retryable: true}
		case apiErr.Code >= 500:
			return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrProviderConnection, err), Retryable: true}
		default:
			return &common.RetryableError{Err: fmt.Errorf("%s: %w", msg, err), Retryable: false}
		}
	}
	return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrProviderConnection, err), Retryable: true}
}

// a1 builds a quoted A1 range for a tab title.
func a1(title, cells string) string {
	return "'" + title + "'!" + cells
}

// renderTabs turns a report into worksheet rows.
func renderTabs(r Report) []tab {
	subs := tab{
		title:        TabSubscriptions,
		width:        9,
		moneyColumns: []int64{1, 4, 5},
		values: [][]any{{
			"Name", "Cost", "Currency", "Cadence", "Monthly", "Yearly", "Next charge", "Status", "Price changes",
		}},
	}
	for _, s := range r.Subscriptions {
		subs.values = append(subs.values, []any{
			s.Name,
			s.Cost.InexactFloat64(),
			s.Currency,
			s.Cadence,
			s.Monthly.InexactFloat64(),
			s.Yearly.InexactFloat64(),
			s.NextOccurrence.Format("2006-01-02"),
			s.Status,
			s.PriceChanges,
		})
	}

	changes := tab{
		title:        TabPriceChanges,
		width:        6,
		moneyColumns: []int64{3, 4},
		values:       [][]any{{"Date", "Subscription", "Currency", "Old price", "New price", "Change %"}},
	}
	for _, c := range r.PriceChanges {
		changes.values = append(changes.values, []any{
			c.DetectedAt.Format("2006-01-02"),
			c.Subscription,
			c.Currency,
			c.OldPrice.InexactFloat64(),
			c.NewPrice.InexactFloat64(),
			c.PercentChange,
		})
	}

	savings := tab{
		title:        TabSavings,
		width:        4,
		moneyColumns: []int64{1, 2},
		values:       [][]any{{"Currency", "Monthly", "Yearly", "Cancelled"}},
	}
	for _, s := range r.Savings {
		savings.values = append(savings.values, []any{
			s.Currency,
			s.Monthly.InexactFloat64(),
			s.Yearly.InexactFloat64(),
			s.Cancelled,
		})
	}

	return []tab{subs, changes, savings}
}
