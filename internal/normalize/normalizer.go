// Package normalize converts provider records into canonical raw events.
package normalize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/prefilter"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultCurrency is used when neither the record nor its amount text names a currency.
const DefaultCurrency = "USD"

var (
	htmlTagRegex    = regexp.MustCompile(`(?i)<\s*/?\s*(html|body|div|p|br|table|td|tr|span|a|img|head|style)\b`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
	spaceRunRegex   = regexp.MustCompile(`[ \t]+`)
)

// Config controls normalization defaults.
type Config struct {
	DefaultCurrency string
}

// Normalizer maps provider records to RawEvents. It is safe for concurrent use.
type Normalizer struct {
	md              *converter.Converter
	strict          *bluemonday.Policy
	now             func() time.Time
	defaultCurrency string
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = DefaultCurrency
	}

	return &Normalizer{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		strict:          bluemonday.StrictPolicy(),
		now:             time.Now,
		defaultCurrency: currency,
	}
}

// Normalize converts one provider record into a RawEvent for userID. Records with a
// missing identifier, unknown source, or unparseable amount or date fail with
// common.ErrMalformedRecord.
func (n *Normalizer) Normalize(userID string, rec model.ProviderRecord) (*model.RawEvent, error) {
	if !rec.Source.Valid() {
		return nil, fmt.Errorf("unknown source %q: %w", rec.Source, common.ErrMalformedRecord)
	}
	rawID := strings.TrimSpace(rec.RawIdentifier)
	if rawID == "" {
		return nil, fmt.Errorf("missing raw identifier: %w", common.ErrMalformedRecord)
	}

	subject := strings.TrimSpace(rec.SubjectOrDescription)
	body := strings.TrimSpace(rec.BodyOrMerchantString)
	if rec.Source == model.SourceEmail {
		body = n.PlainText(body)
	}

	amountText := rec.Amount
	if strings.TrimSpace(amountText) == "" && rec.Source == model.SourceEmail {
		amountText = extractAmount(subject, body)
	}
	amount, err := ParseAmount(amountText, rec.Currency, n.defaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rawID, err)
	}

	occurredAt, err := ParseDate(rec.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rawID, err)
	}

	if rec.Source == model.SourceTransaction && rec.MerchantHint != "" {
		body = strings.TrimSpace(rec.MerchantHint)
	}

	return &model.RawEvent{
		ID:                   model.EventID(userID, rec.Source, rawID),
		UserID:               userID,
		Source:               rec.Source,
		SubjectOrDescription: subject,
		BodyOrMerchantString: body,
		SenderOrAccountRef:   strings.TrimSpace(rec.SenderOrAccountRef),
		Amount:               amount,
		OccurredAt:           occurredAt,
		RawIdentifier:        rawID,
		IngestedAt:           n.now().UTC(),
	}, nil
}

// PlainText converts an HTML email body to text. Non-HTML input is returned trimmed.
func (n *Normalizer) PlainText(body string) string {
	if !htmlTagRegex.MatchString(body) {
		return body
	}

	text, err := n.md.ConvertString(body)
	if err != nil || strings.TrimSpace(text) == "" {
		text = html.UnescapeString(n.strict.Sanitize(body))
	}

	text = spaceRunRegex.ReplaceAllString(text, " ")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func extractAmount(subject, body string) string {
	if m := prefilter.AmountPattern.FindString(subject); m != "" {
		return m
	}
	return prefilter.AmountPattern.FindString(body)
}
