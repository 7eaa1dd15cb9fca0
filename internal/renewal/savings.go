package renewal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/shopspring/decimal"
)

var (
	twelve        = decimal.NewFromInt(12)
	weeksPerMonth = decimal.RequireFromString("4.33")
	daysPerMonth  = decimal.NewFromInt(30)
	weeksPerYear  = decimal.NewFromInt(52)
	daysPerYear   = decimal.NewFromInt(365)
)

// Figures is the normalized monthly and yearly cost of one subscription.
type Figures struct {
	Monthly  decimal.Decimal `json:"monthly"`
	Yearly   decimal.Decimal `json:"yearly"`
	Currency string          `json:"currency"`
}

// SavingsFor normalizes a subscription's cost to monthly and yearly figures.
func SavingsFor(sub model.Subscription) Figures {
	f := Figures{Currency: sub.Currency}
	switch sub.Cadence {
	case model.CadenceMonthly:
		f.Monthly = sub.Cost
		f.Yearly = sub.Cost.Mul(twelve)
	case model.CadenceYearly:
		f.Monthly = sub.Cost.Div(twelve)
		f.Yearly = sub.Cost
	case model.CadenceWeekly:
		f.Monthly = sub.Cost.Mul(weeksPerMonth)
		f.Yearly = sub.Cost.Mul(weeksPerYear)
	case model.CadenceDaily:
		f.Monthly = sub.Cost.Mul(daysPerMonth)
		f.Yearly = sub.Cost.Mul(daysPerYear)
	}
	return f
}

// Summary aggregates savings from cancelled subscriptions, one total per currency.
type Summary struct {
	Since     *time.Time `json:"since,omitempty"`
	Totals    []Figures  `json:"totals"`
	Cancelled int        `json:"cancelled"`
}

// Savings sums the figures of every subscription cancelled at or after since.
// A nil since covers all cancellations.
func (t *Tracker) Savings(ctx context.Context, userID string, since *time.Time) (*Summary, error) {
	if err := requireUser(ctx, t.store, userID); err != nil {
		return nil, err
	}

	inactive := false
	filter := service.SubscriptionFilter{UserID: userID, Active: &inactive, CancelledFrom: since}
	if since == nil {
		epoch := time.Unix(0, 0).UTC()
		filter.CancelledFrom = &epoch
	}
	cancelled, err := t.store.ListSubscriptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list cancelled subscriptions: %w", err)
	}

	byCurrency := make(map[string]*Figures)
	for _, sub := range cancelled {
		f := SavingsFor(sub)
		total, ok := byCurrency[f.Currency]
		if !ok {
			total = &Figures{Currency: f.Currency}
			byCurrency[f.Currency] = total
		}
		total.Monthly = total.Monthly.Add(f.Monthly)
		total.Yearly = total.Yearly.Add(f.Yearly)
	}

	summary := &Summary{Since: since, Cancelled: len(cancelled), Totals: make([]Figures, 0, len(byCurrency))}
	for _, total := range byCurrency {
		summary.Totals = append(summary.Totals, Figures{
			Currency: total.Currency,
			Monthly:  total.Monthly.Round(2),
			Yearly:   total.Yearly.Round(2),
		})
	}
	sort.Slice(summary.Totals, func(i, j int) bool {
		return summary.Totals[i].Currency < summary.Totals[j].Currency
	})
	return summary, nil
}
