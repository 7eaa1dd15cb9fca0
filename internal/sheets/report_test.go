package sheets

import (
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sub(id, name, cost string, cadence model.Cadence, active bool) model.Subscription {
	s := model.Subscription{
		NextOccurrence: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
		ID:             id,
		UserID:         "alice",
		Name:           name,
		Currency:       "USD",
		Cadence:        cadence,
		Cost:           decimal.RequireFromString(cost),
		IsActive:       active,
	}
	if !active {
		cancelled := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
		s.CancelledAt = &cancelled
		s.RenewalStatus = model.RenewalConfirmedCancelled
	}
	return s
}

func TestBuildReport(t *testing.T) {
	pending := sub("s3", "Adobe", "54.99", model.CadenceMonthly, true)
	pending.RenewalStatus = model.RenewalPendingConfirmation

	subs := []model.Subscription{
		sub("s1", "Netflix", "15.49", model.CadenceMonthly, true),
		sub("s2", "Gym", "40", model.CadenceMonthly, false),
		pending,
		sub("s4", "NYT", "4", model.CadenceWeekly, false),
		sub("s5", "Cloud", "120", model.CadenceYearly, false),
	}
	subs[4].Currency = "EUR"

	changes := map[string][]model.PriceChangeEntry{
		"s1": {
			{DetectedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Currency: "USD", OldPrice: decimal.RequireFromString("13.99"), NewPrice: decimal.RequireFromString("15.49")},
		},
		"s3": {
			{DetectedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Currency: "USD", OldPrice: decimal.RequireFromString("59.99"), NewPrice: decimal.RequireFromString("54.99")},
		},
	}

	report := BuildReport("alice", subs, changes, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))

	names := make([]string, 0, len(report.Subscriptions))
	for _, s := range report.Subscriptions {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Adobe", "Netflix", "Cloud", "Gym", "NYT"}, names)
	assert.Equal(t, "needs confirmation", report.Subscriptions[0].Status)
	assert.Equal(t, "active", report.Subscriptions[1].Status)
	assert.Equal(t, 1, report.Subscriptions[1].PriceChanges)
	assert.Equal(t, "cancelled", report.Subscriptions[3].Status)
	assert.Equal(t, "185.88", report.Subscriptions[1].Yearly.StringFixed(2))

	require.Len(t, report.PriceChanges, 2)
	assert.Equal(t, "Adobe", report.PriceChanges[0].Subscription, "ordered by date")
	assert.InDelta(t, -8.33, report.PriceChanges[0].PercentChange, 0.001)
	assert.InDelta(t, 10.72, report.PriceChanges[1].PercentChange, 0.001)

	require.Len(t, report.Savings, 2)
	eur, usd := report.Savings[0], report.Savings[1]
	assert.Equal(t, "EUR", eur.Currency)
	assert.Equal(t, 1, eur.Cancelled)
	assert.Equal(t, "10.00", eur.Monthly.StringFixed(2))
	assert.Equal(t, "USD", usd.Currency)
	assert.Equal(t, 2, usd.Cancelled)
	// 40 + 4*4.33 monthly, 480 + 4*52 yearly
	assert.Equal(t, "57.32", usd.Monthly.StringFixed(2))
	assert.Equal(t, "688.00", usd.Yearly.StringFixed(2))
}

func TestBuildReport_Empty(t *testing.T) {
	report := BuildReport("alice", nil, nil, time.Now())
	assert.Empty(t, report.Subscriptions)
	assert.NotNil(t, report.PriceChanges)
	assert.NotNil(t, report.Savings)
}

func TestRenderTabs_HeadersOnly(t *testing.T) {
	tabs := renderTabs(BuildReport("alice", nil, nil, time.Now()))
	require.Len(t, tabs, 3)
	for _, tab := range tabs {
		assert.Len(t, tab.values, 1)
		assert.Equal(t, int(tab.width), len(tab.values[0]))
	}
}
