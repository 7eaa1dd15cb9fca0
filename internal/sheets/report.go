package sheets

import (
	"sort"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/shopspring/decimal"
)

// SubscriptionRow is one row of the Subscriptions tab.
type SubscriptionRow struct {
	NextOccurrence time.Time       `json:"next_occurrence"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	Cadence        string          `json:"cadence"`
	Status         string          `json:"status"`
	Cost           decimal.Decimal `json:"cost"`
	Monthly        decimal.Decimal `json:"monthly"`
	Yearly         decimal.Decimal `json:"yearly"`
	PriceChanges   int             `json:"price_changes"`
}

// PriceChangeRow is one row of the Price Changes tab.
type PriceChangeRow struct {
	DetectedAt    time.Time       `json:"detected_at"`
	Subscription  string          `json:"subscription"`
	Currency      string          `json:"currency"`
	OldPrice      decimal.Decimal `json:"old_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	PercentChange float64         `json:"percent_change"`
}

// SavingsRow totals cancelled subscriptions in one currency.
type SavingsRow struct {
	Currency  string          `json:"currency"`
	Monthly   decimal.Decimal `json:"monthly"`
	Yearly    decimal.Decimal `json:"yearly"`
	Cancelled int             `json:"cancelled"`
}

// Report is everything exported for one user.
type Report struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	UserID        string            `json:"user_id"`
	Subscriptions []SubscriptionRow `json:"subscriptions"`
	PriceChanges  []PriceChangeRow  `json:"price_changes"`
	Savings       []SavingsRow      `json:"savings"`
}

// BuildReport assembles a report from a user's subscriptions and their price changes,
// keyed by subscription ID.
func BuildReport(userID string, subs []model.Subscription, changes map[string][]model.PriceChangeEntry, now time.Time) Report {
	report := Report{
		GeneratedAt:   now.UTC(),
		UserID:        userID,
		Subscriptions: make([]SubscriptionRow, 0, len(subs)),
		PriceChanges:  []PriceChangeRow{},
		Savings:       []SavingsRow{},
	}

	sorted := make([]model.Subscription, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsActive != sorted[j].IsActive {
			return sorted[i].IsActive
		}
		return sorted[i].Name < sorted[j].Name
	})

	savings := map[string]*SavingsRow{}
	for _, sub := range sorted {
		figures := renewal.SavingsFor(sub)
		subChanges := changes[sub.ID]

		report.Subscriptions = append(report.Subscriptions, SubscriptionRow{
			NextOccurrence: sub.NextOccurrence,
			CancelledAt:    sub.CancelledAt,
			Name:           sub.Name,
			Currency:       sub.Currency,
			Cadence:        string(sub.Cadence),
			Status:         subscriptionStatus(sub),
			Cost:           sub.Cost,
			Monthly:        figures.Monthly.Round(2),
			Yearly:         figures.Yearly.Round(2),
			PriceChanges:   len(subChanges),
		})

		for _, c := range subChanges {
			report.PriceChanges = append(report.PriceChanges, PriceChangeRow{
				DetectedAt:    c.DetectedAt,
				Subscription:  sub.Name,
				Currency:      c.Currency,
				OldPrice:      c.OldPrice,
				NewPrice:      c.NewPrice,
				PercentChange: percentChange(c.OldPrice, c.NewPrice),
			})
		}

		if !sub.IsActive {
			row, ok := savings[sub.Currency]
			if !ok {
				row = &SavingsRow{Currency: sub.Currency}
				savings[sub.Currency] = row
			}
			row.Monthly = row.Monthly.Add(figures.Monthly)
			row.Yearly = row.Yearly.Add(figures.Yearly)
			row.Cancelled++
		}
	}

	sort.SliceStable(report.PriceChanges, func(i, j int) bool {
		return report.PriceChanges[i].DetectedAt.Before(report.PriceChanges[j].DetectedAt)
	})

	for _, row := range savings {
		row.Monthly = row.Monthly.Round(2)
		row.Yearly = row.Yearly.Round(2)
		report.Savings = append(report.Savings, *row)
	}
	sort.Slice(report.Savings, func(i, j int) bool {
		return report.Savings[i].Currency < report.Savings[j].Currency
	})

	return report
}

func subscriptionStatus(sub model.Subscription) string {
	switch {
	case !sub.IsActive:
		return "cancelled"
	case sub.RenewalStatus == model.RenewalPendingConfirmation:
		return "needs confirmation"
	default:
		return "active"
	}
}

func percentChange(from, to decimal.Decimal) float64 {
	if from.IsZero() {
		return 0
	}
	pct, _ := to.Sub(from).Div(from).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return pct
}
