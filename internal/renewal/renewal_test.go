package renewal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/Veraticus/the-spice-must-recur/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(store service.Store) *Tracker {
	var seq atomic.Int64
	return NewTracker(store,
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return fmt.Sprintf("pc-%d", seq.Add(1)) }),
	)
}

func putSubscription(t *testing.T, s service.Store, sub model.Subscription) *model.Subscription {
	t.Helper()
	if sub.Currency == "" {
		sub.Currency = "USD"
	}
	if sub.Cadence == "" {
		sub.Cadence = model.CadenceMonthly
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now.AddDate(0, -3, 0)
		sub.UpdatedAt = sub.CreatedAt
	}
	require.NoError(t, s.PutSubscription(context.Background(), &sub))
	return &sub
}

func TestAdvance(t *testing.T) {
	from := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		cadence model.Cadence
		want    time.Time
	}{
		{model.CadenceDaily, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{model.CadenceWeekly, time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC)},
		{model.CadenceMonthly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{model.CadenceYearly, time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.cadence), func(t *testing.T) {
			assert.Equal(t, tt.want, Advance(from, tt.cadence))
		})
	}
}

func TestSavingsFor(t *testing.T) {
	tests := []struct {
		cadence model.Cadence
		cost    string
		monthly string
		yearly  string
	}{
		{model.CadenceMonthly, "15.49", "15.49", "185.88"},
		{model.CadenceYearly, "120", "10", "120"},
		{model.CadenceWeekly, "10", "43.3", "520"},
		{model.CadenceDaily, "1.5", "45", "547.5"},
	}
	for _, tt := range tests {
		t.Run(string(tt.cadence), func(t *testing.T) {
			f := SavingsFor(model.Subscription{Cadence: tt.cadence, Cost: decimal.RequireFromString(tt.cost), Currency: "USD"})
			assert.True(t, decimal.RequireFromString(tt.monthly).Equal(f.Monthly), "monthly %s", f.Monthly)
			assert.True(t, decimal.RequireFromString(tt.yearly).Equal(f.Yearly), "yearly %s", f.Yearly)
			assert.Equal(t, "USD", f.Currency)
		})
	}
}

func TestSweep(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice", "bob"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)

		due := putSubscription(t, s, model.Subscription{ID: "due", UserID: "alice", Name: "Netflix",
			Cost: decimal.RequireFromString("15.49"), NextOccurrence: now.AddDate(0, 0, -2), IsActive: true})
		renewed := putSubscription(t, s, model.Subscription{ID: "renewed", UserID: "bob", Name: "Hulu",
			Cost: decimal.RequireFromString("7.99"), NextOccurrence: now.AddDate(0, 0, -1), IsActive: true,
			RenewalStatus: model.RenewalConfirmedRenewed})
		putSubscription(t, s, model.Subscription{ID: "future", UserID: "alice", Name: "Spotify",
			Cost: decimal.RequireFromString("9.99"), NextOccurrence: now.AddDate(0, 0, 5), IsActive: true})
		putSubscription(t, s, model.Subscription{ID: "waiting", UserID: "alice", Name: "Max",
			Cost: decimal.RequireFromString("9.99"), NextOccurrence: now.AddDate(0, 0, -9), IsActive: true,
			RenewalStatus: model.RenewalPendingConfirmation})
		cancelledAt := now.AddDate(0, -1, 0)
		putSubscription(t, s, model.Subscription{ID: "cancelled", UserID: "alice", Name: "Disney",
			Cost: decimal.RequireFromString("7.99"), NextOccurrence: now.AddDate(0, 0, -30),
			RenewalStatus: model.RenewalConfirmedCancelled, CancelledAt: &cancelledAt})

		report, err := tr.Sweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, SweepReport{Due: 2, Flagged: 2}, report)

		for _, id := range []string{due.ID, renewed.ID} {
			got, err := s.GetSubscription(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.RenewalPendingConfirmation, got.RenewalStatus, id)
		}
		future, err := s.GetSubscription(ctx, "future")
		require.NoError(t, err)
		assert.Equal(t, model.RenewalUnset, future.RenewalStatus)

		needs, err := tr.NeedsConfirmation(ctx, "alice")
		require.NoError(t, err)
		ids := make([]string, len(needs))
		for i, sub := range needs {
			ids[i] = sub.ID
		}
		assert.ElementsMatch(t, []string{"due", "waiting"}, ids)

		again, err := tr.Sweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, SweepReport{}, again)
	})
}

func TestConfirm_Renewed(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)
		next := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
		putSubscription(t, s, model.Subscription{ID: "sub", UserID: "alice", Name: "Netflix",
			Cost: decimal.RequireFromString("15.49"), NextOccurrence: next, IsActive: true,
			RenewalStatus: model.RenewalPendingConfirmation})

		res, err := tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionRenewed})
		require.NoError(t, err)
		assert.Nil(t, res.PriceChange)
		assert.Nil(t, res.Savings)
		assert.Equal(t, model.RenewalConfirmedRenewed, res.Subscription.RenewalStatus)
		assert.True(t, next.AddDate(0, 0, 30).Equal(res.Subscription.NextOccurrence))

		same := decimal.RequireFromString("15.49")
		res, err = tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionRenewed, NewCost: &same})
		require.NoError(t, err)
		assert.Nil(t, res.PriceChange)

		changes, err := s.ListPriceChanges(ctx, "sub")
		require.NoError(t, err)
		assert.Empty(t, changes)
	})
}

func TestConfirm_RenewedWithNewCost(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)
		putSubscription(t, s, model.Subscription{ID: "sub", UserID: "alice", Name: "Netflix",
			Cost: decimal.RequireFromString("15.49"), NextOccurrence: now.AddDate(0, 0, -1), IsActive: true})

		for _, cost := range []string{"17.99", "22.99"} {
			c := decimal.RequireFromString(cost)
			res, err := tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionRenewed, NewCost: &c})
			require.NoError(t, err)
			require.NotNil(t, res.PriceChange)
			assert.True(t, c.Equal(res.PriceChange.NewPrice))
			assert.True(t, c.Equal(res.Subscription.Cost))
		}

		stored, err := s.GetSubscription(ctx, "sub")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("22.99").Equal(stored.Cost))

		h, err := tr.PriceHistory(ctx, "alice", "sub")
		require.NoError(t, err)
		assert.Equal(t, 2, h.Count)
		assert.True(t, decimal.RequireFromString("15.49").Equal(h.Starting))
		assert.True(t, decimal.RequireFromString("22.99").Equal(h.Current))
		assert.InDelta(t, 48.42, h.PercentChange, 0.001)
		assert.True(t, decimal.RequireFromString("15.49").Equal(h.Changes[0].OldPrice))
		assert.True(t, decimal.RequireFromString("17.99").Equal(h.Changes[1].OldPrice))
	})
}

func TestConfirm_Cancelled(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)
		putSubscription(t, s, model.Subscription{ID: "sub", UserID: "alice", Name: "Adobe",
			Cost: decimal.RequireFromString("120"), Cadence: model.CadenceYearly,
			NextOccurrence: now.AddDate(0, 0, -1), IsActive: true, RenewalStatus: model.RenewalPendingConfirmation})

		res, err := tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionCancelled})
		require.NoError(t, err)
		assert.False(t, res.Subscription.IsActive)
		assert.Equal(t, model.RenewalConfirmedCancelled, res.Subscription.RenewalStatus)
		require.NotNil(t, res.Subscription.CancelledAt)
		assert.True(t, now.Equal(*res.Subscription.CancelledAt))
		require.NotNil(t, res.Savings)
		assert.True(t, decimal.NewFromInt(10).Equal(res.Savings.Monthly))
		assert.True(t, decimal.NewFromInt(120).Equal(res.Savings.Yearly))

		again, err := tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionCancelled})
		require.NoError(t, err)
		assert.True(t, now.Equal(*again.Subscription.CancelledAt))

		_, err = tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionRenewed})
		assert.ErrorIs(t, err, common.ErrInvalidTransition)

		report, err := tr.Sweep(ctx, now.AddDate(1, 0, 0))
		require.NoError(t, err)
		assert.Zero(t, report.Due)
	})
}

func TestConfirm_Errors(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice", "bob"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)
		putSubscription(t, s, model.Subscription{ID: "sub", UserID: "alice", Name: "Netflix",
			Cost: decimal.RequireFromString("15.49"), NextOccurrence: now, IsActive: true})
		negative := decimal.RequireFromString("-3")

		tests := []struct {
			name string
			cmd  ConfirmRenewal
			want error
		}{
			{"unknown action", ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: "paused"}, ErrInvalidAction},
			{"negative cost", ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionRenewed, NewCost: &negative}, ErrInvalidAction},
			{"unknown user", ConfirmRenewal{UserID: "mallory", SubscriptionID: "sub", Action: ActionRenewed}, common.ErrUnknownUser},
			{"unknown subscription", ConfirmRenewal{UserID: "alice", SubscriptionID: "nope", Action: ActionRenewed}, common.ErrUnknownSubscription},
			{"not the owner", ConfirmRenewal{UserID: "bob", SubscriptionID: "sub", Action: ActionCancelled}, common.ErrUnauthorized},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := tr.Confirm(ctx, tt.cmd)
				assert.ErrorIs(t, err, tt.want)
			})
		}

		stored, err := s.GetSubscription(ctx, "sub")
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
		assert.True(t, now.Equal(stored.NextOccurrence))

		_, err = tr.PriceHistory(ctx, "bob", "sub")
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})
}

func TestSavings(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)

		early := now.AddDate(0, -6, 0)
		late := now.AddDate(0, 0, -3)
		putSubscription(t, s, model.Subscription{ID: "a", UserID: "alice", Name: "A", Cost: decimal.RequireFromString("10"),
			NextOccurrence: now, RenewalStatus: model.RenewalConfirmedCancelled, CancelledAt: &early})
		putSubscription(t, s, model.Subscription{ID: "b", UserID: "alice", Name: "B", Cost: decimal.RequireFromString("120"),
			Cadence: model.CadenceYearly, NextOccurrence: now, RenewalStatus: model.RenewalConfirmedCancelled, CancelledAt: &late})
		putSubscription(t, s, model.Subscription{ID: "c", UserID: "alice", Name: "C", Cost: decimal.RequireFromString("5"),
			Currency: "EUR", NextOccurrence: now, RenewalStatus: model.RenewalConfirmedCancelled, CancelledAt: &late})
		putSubscription(t, s, model.Subscription{ID: "d", UserID: "alice", Name: "D", Cost: decimal.RequireFromString("99"),
			NextOccurrence: now, IsActive: true})

		all, err := tr.Savings(ctx, "alice", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, all.Cancelled)
		require.Len(t, all.Totals, 2)
		assert.Equal(t, "EUR", all.Totals[0].Currency)
		assert.True(t, decimal.NewFromInt(5).Equal(all.Totals[0].Monthly))
		assert.Equal(t, "USD", all.Totals[1].Currency)
		assert.True(t, decimal.NewFromInt(20).Equal(all.Totals[1].Monthly))
		assert.True(t, decimal.NewFromInt(240).Equal(all.Totals[1].Yearly))

		cutoff := now.AddDate(0, -1, 0)
		recent, err := tr.Savings(ctx, "alice", &cutoff)
		require.NoError(t, err)
		assert.Equal(t, 2, recent.Cancelled)
		require.Len(t, recent.Totals, 2)
		assert.True(t, decimal.NewFromInt(10).Equal(recent.Totals[1].Monthly))

		_, err = tr.Savings(ctx, "mallory", nil)
		assert.ErrorIs(t, err, common.ErrUnknownUser)
	})
}

func TestSweep_RacesConfirmation(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		tr := newTestTracker(s)
		putSubscription(t, s, model.Subscription{ID: "sub", UserID: "alice", Name: "Netflix",
			Cost: decimal.RequireFromString("15.49"), NextOccurrence: now.AddDate(0, 0, -1), IsActive: true})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := tr.Sweep(ctx, now)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := tr.Confirm(ctx, ConfirmRenewal{UserID: "alice", SubscriptionID: "sub", Action: ActionCancelled})
			assert.NoError(t, err)
		}()
		wg.Wait()

		stored, err := s.GetSubscription(ctx, "sub")
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Equal(t, model.RenewalConfirmedCancelled, stored.RenewalStatus)
	})
}
