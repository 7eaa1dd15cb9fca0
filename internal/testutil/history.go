package testutil

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/scoring"
	"github.com/shopspring/decimal"
)

// DefaultStart is the first charge date used by history builders.
var DefaultStart = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// HistoryBuilder builds a merchant payment history with a fluent API.
//
// Example:
//
//	records := testutil.NewHistory("NETFLIX.COM").Gaps(30, 30, 30).Amounts("15.49").Records()
type HistoryBuilder struct {
	start    time.Time
	merchant string
	account  string
	currency string
	prefix   string
	gaps     []int
	amounts  []string
}

// NewHistory starts a history for a merchant string as it appears on statements.
func NewHistory(merchant string) *HistoryBuilder {
	return &HistoryBuilder{
		start:    DefaultStart,
		merchant: merchant,
		account:  "acct-checking",
		currency: "USD",
		prefix:   "txn",
		amounts:  []string{"9.99"},
	}
}

// Gaps sets the day gaps between consecutive charges.
func (b *HistoryBuilder) Gaps(days ...int) *HistoryBuilder {
	b.gaps = days
	return b
}

// Every sets count charges spaced days apart.
func (b *HistoryBuilder) Every(days, count int) *HistoryBuilder {
	b.gaps = make([]int, 0, count-1)
	for i := 1; i < count; i++ {
		b.gaps = append(b.gaps, days)
	}
	return b
}

// Amounts sets per-charge amounts; the last amount repeats for remaining charges.
func (b *HistoryBuilder) Amounts(amounts ...string) *HistoryBuilder {
	b.amounts = amounts
	return b
}

// Account sets the account reference.
func (b *HistoryBuilder) Account(ref string) *HistoryBuilder {
	b.account = ref
	return b
}

// Currency sets the currency code.
func (b *HistoryBuilder) Currency(code string) *HistoryBuilder {
	b.currency = code
	return b
}

// IDPrefix sets the raw identifier prefix so several histories can share a batch.
func (b *HistoryBuilder) IDPrefix(prefix string) *HistoryBuilder {
	b.prefix = prefix
	return b
}

// Dates returns the charge dates.
func (b *HistoryBuilder) Dates() []time.Time {
	dates := []time.Time{b.start}
	at := b.start
	for _, g := range b.gaps {
		at = at.AddDate(0, 0, g)
		dates = append(dates, at)
	}
	return dates
}

func (b *HistoryBuilder) amount(i int) string {
	if i < len(b.amounts) {
		return b.amounts[i]
	}
	return b.amounts[len(b.amounts)-1]
}

// Records returns the history as transaction feed records.
func (b *HistoryBuilder) Records() []model.ProviderRecord {
	dates := b.Dates()
	records := make([]model.ProviderRecord, len(dates))
	for i, d := range dates {
		records[i] = model.ProviderRecord{
			Source:               model.SourceTransaction,
			SubjectOrDescription: b.merchant,
			BodyOrMerchantString: b.merchant,
			SenderOrAccountRef:   b.account,
			Amount:               "-" + b.amount(i),
			Currency:             b.currency,
			OccurredAt:           d.Format(time.RFC3339),
			RawIdentifier:        fmt.Sprintf("%s-%03d", b.prefix, i),
		}
	}
	return records
}

// Observations returns the history as scorer input.
func (b *HistoryBuilder) Observations() []scoring.Observation {
	dates := b.Dates()
	obs := make([]scoring.Observation, len(dates))
	for i, d := range dates {
		obs[i] = scoring.Observation{
			OccurredAt: d,
			EventID:    fmt.Sprintf("%s-%03d", b.prefix, i),
			Currency:   b.currency,
			Amount:     decimal.RequireFromString(b.amount(i)),
		}
	}
	return obs
}
