package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/scoring"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/Veraticus/the-spice-must-recur/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

func newTestManager(store service.Store) *Manager {
	var seq atomic.Int64
	return NewManager(store, scoring.NewScorer(scoring.DefaultConfig()),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
}

func monthly(t *testing.T, known bool) scoring.Result {
	t.Helper()
	s := scoring.NewScorer(scoring.DefaultConfig())
	return s.Score(testutil.NewHistory("NETFLIX.COM").Every(30, 5).Amounts("15.49").Observations(), known)
}

// seedPending stores a pending candidate for alice and returns it.
func seedPending(t *testing.T, m *Manager) *model.DetectionCandidate {
	t.Helper()
	c, outcome, err := m.Observe(context.Background(), "alice", "NETFLIX", monthly(t, true))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	return c
}

func TestObserve(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)

		weak := scoring.NewScorer(scoring.DefaultConfig()).Score(
			testutil.NewHistory("X").Gaps(10, 45, 3, 120, 7).Amounts("5", "42.10", "12", "99.99", "3.5", "61").Observations(), false)
		c, outcome, err := m.Observe(ctx, "alice", "X", weak)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Nil(t, c)

		created := seedPending(t, m)
		assert.Equal(t, model.CandidatePending, created.Status)
		assert.Equal(t, "Netflix", created.ProposedName)
		assert.Equal(t, model.CadenceMonthly, created.ProposedCadence)
		assert.True(t, decimal.RequireFromString("15.49").Equal(created.ProposedAmount))
		assert.Len(t, created.SupportingEventIDs, 5)

		_, outcome, err = m.Observe(ctx, "alice", "NETFLIX", monthly(t, true))
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome)

		grown := scoring.NewScorer(scoring.DefaultConfig()).Score(
			testutil.NewHistory("NETFLIX.COM").Every(30, 6).Amounts("15.49").Observations(), true)
		updated, outcome, err := m.Observe(ctx, "alice", "NETFLIX", grown)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, outcome)
		assert.Equal(t, created.ID, updated.ID)
		assert.Len(t, updated.SupportingEventIDs, 6)

		stored, err := s.GetCandidate(ctx, created.ID)
		require.NoError(t, err)
		assert.Len(t, stored.SupportingEventIDs, 6)
	})
}

func TestObserve_BrokenPatternLowersConfidence(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		created := seedPending(t, m)
		require.Greater(t, created.Confidence, 0.9)

		broken := scoring.NewScorer(scoring.DefaultConfig()).Score(
			testutil.NewHistory("NETFLIX.COM").Gaps(30, 30, 30, 30, 2, 2, 2, 2, 2, 2).Amounts("15.49").Observations(), true)
		require.False(t, broken.Matched)

		updated, outcome, err := m.Observe(ctx, "alice", "NETFLIX", broken)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, outcome)
		assert.LessOrEqual(t, updated.Confidence, scoring.DefaultConfig().NoCadenceCeiling)
		assert.Len(t, updated.SupportingEventIDs, 11)
		assert.Equal(t, model.CadenceMonthly, updated.ProposedCadence)
		assert.True(t, created.ProposedNextOccurrence.Equal(updated.ProposedNextOccurrence))

		stored, err := s.GetCandidate(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CandidatePending, stored.Status)
		assert.InDelta(t, updated.Confidence, stored.Confidence, 1e-9)

		_, outcome, err = m.Observe(ctx, "alice", "NETFLIX", broken)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome)
	})
}

func TestObserve_LeavesReviewedCandidatesAlone(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		c := seedPending(t, m)

		_, err := m.Dismiss(ctx, DismissCandidate{UserID: "alice", CandidateID: c.ID})
		require.NoError(t, err)

		grown := scoring.NewScorer(scoring.DefaultConfig()).Score(
			testutil.NewHistory("NETFLIX.COM").Every(30, 8).Amounts("15.49").Observations(), true)
		got, outcome, err := m.Observe(ctx, "alice", "NETFLIX", grown)
		require.NoError(t, err)
		assert.Equal(t, OutcomeReviewed, outcome)
		assert.Equal(t, model.CandidateDismissed, got.Status)
		assert.Len(t, got.SupportingEventIDs, 5)
	})
}

func TestAccept(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		c := seedPending(t, m)

		sub, err := m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, "Netflix", sub.Name)
		assert.True(t, c.ProposedAmount.Equal(sub.Cost))
		assert.Equal(t, model.CadenceMonthly, sub.Cadence)
		assert.True(t, c.ProposedNextOccurrence.Equal(sub.NextOccurrence))
		assert.True(t, sub.IsActive)
		assert.Equal(t, model.RenewalUnset, sub.RenewalStatus)
		require.NotNil(t, sub.OriginatingCandidateID)
		assert.Equal(t, c.ID, *sub.OriginatingCandidateID)

		stored, err := s.GetCandidate(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CandidateAccepted, stored.Status)
		require.NotNil(t, stored.ResultingSubscriptionID)
		assert.Equal(t, sub.ID, *stored.ResultingSubscriptionID)
		require.NotNil(t, stored.ReviewedAt)
		assert.True(t, now.Equal(*stored.ReviewedAt))

		audit, err := m.AuditTrail(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, model.AuditCandidateAccepted, audit[0].Action)
		assert.Equal(t, c.ID, audit[0].CandidateID)
		assert.Equal(t, sub.ID, audit[0].SubscriptionID)
		assert.Equal(t, "Netflix", audit[0].MerchantName)
		assert.InDelta(t, c.Confidence, audit[0].Confidence, 1e-9)
	})
}

func TestAccept_WithOverrides(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		c := seedPending(t, m)

		name := "Netflix Premium"
		amount := decimal.RequireFromString("22.99")
		cadence := model.CadenceYearly
		next := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		sub, err := m.Accept(ctx, AcceptCandidate{
			UserID:      "alice",
			CandidateID: c.ID,
			Overrides:   Overrides{Name: &name, Amount: &amount, Cadence: &cadence, NextOccurrence: &next},
		})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name)
		assert.True(t, amount.Equal(sub.Cost))
		assert.Equal(t, cadence, sub.Cadence)
		assert.True(t, next.Equal(sub.NextOccurrence))
	})
}

func TestAccept_InvalidOverrides(t *testing.T) {
	blank := "  "
	negative := decimal.RequireFromString("-1")
	fortnightly := model.Cadence("fortnightly")

	tests := []struct {
		name      string
		overrides Overrides
	}{
		{name: "blank name", overrides: Overrides{Name: &blank}},
		{name: "negative amount", overrides: Overrides{Amount: &negative}},
		{name: "unknown cadence", overrides: Overrides{Cadence: &fortnightly}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.SetupTestDB(t, "alice").Storage
			m := newTestManager(store)
			c := seedPending(t, m)

			_, err := m.Accept(context.Background(), AcceptCandidate{UserID: "alice", CandidateID: c.ID, Overrides: tt.overrides})
			assert.ErrorIs(t, err, ErrInvalidOverride)

			stored, err := store.GetCandidate(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, model.CandidatePending, stored.Status)
		})
	}
}

func TestTransitions(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice", "bob"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)

		t.Run("repeat accept is a no-op", func(t *testing.T) {
			c := seedPendingFor(t, m, "alice", "SPOTIFY")
			first, err := m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
			require.NoError(t, err)
			second, err := m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)

			audit, err := m.AuditTrail(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, audit, 1)
		})

		t.Run("dismiss accepted is rejected", func(t *testing.T) {
			c := seedPendingFor(t, m, "alice", "HULU")
			_, err := m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
			require.NoError(t, err)
			_, err = m.Dismiss(ctx, DismissCandidate{UserID: "alice", CandidateID: c.ID})
			assert.ErrorIs(t, err, common.ErrInvalidTransition)
		})

		t.Run("accept dismissed is rejected", func(t *testing.T) {
			c := seedPendingFor(t, m, "alice", "DISNEY PLUS")
			dismissed, err := m.Dismiss(ctx, DismissCandidate{UserID: "alice", CandidateID: c.ID})
			require.NoError(t, err)
			assert.Equal(t, model.CandidateDismissed, dismissed.Status)
			require.NotNil(t, dismissed.ReviewedAt)
			assert.Nil(t, dismissed.ResultingSubscriptionID)

			again, err := m.Dismiss(ctx, DismissCandidate{UserID: "alice", CandidateID: c.ID})
			require.NoError(t, err)
			assert.Equal(t, model.CandidateDismissed, again.Status)

			_, err = m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
			assert.ErrorIs(t, err, common.ErrInvalidTransition)
		})

		t.Run("other user is unauthorized", func(t *testing.T) {
			c := seedPendingFor(t, m, "alice", "YOUTUBE")
			_, err := m.Accept(ctx, AcceptCandidate{UserID: "bob", CandidateID: c.ID})
			assert.ErrorIs(t, err, common.ErrUnauthorized)
			_, err = m.Dismiss(ctx, DismissCandidate{UserID: "bob", CandidateID: c.ID})
			assert.ErrorIs(t, err, common.ErrUnauthorized)

			stored, err := s.GetCandidate(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, model.CandidatePending, stored.Status)
		})

		t.Run("unknown entities", func(t *testing.T) {
			_, err := m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: "missing"})
			assert.ErrorIs(t, err, common.ErrUnknownCandidate)
			_, err = m.Dismiss(ctx, DismissCandidate{UserID: "mallory", CandidateID: "missing"})
			assert.ErrorIs(t, err, common.ErrUnknownUser)
			_, err = m.Candidates(ctx, "mallory", service.CandidateFilter{})
			assert.ErrorIs(t, err, common.ErrUnknownUser)
		})
	})
}

func seedPendingFor(t *testing.T, m *Manager, user string, key model.MerchantKey) *model.DetectionCandidate {
	t.Helper()
	c, outcome, err := m.Observe(context.Background(), user, key, monthly(t, false))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	return c
}

func TestAccept_ConcurrentCallsCreateOneSubscription(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		c := seedPending(t, m)

		const callers = 10
		ids := make([]string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sub, err := m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
				if assert.NoError(t, err) {
					ids[i] = sub.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids[1:] {
			assert.Equal(t, ids[0], id)
		}

		subs, err := s.ListSubscriptions(ctx, service.SubscriptionFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Len(t, subs, 1)

		audit, err := s.ListAudit(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, audit, 1)

		stored, err := s.GetCandidate(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CandidateAccepted, stored.Status)
		assert.Equal(t, ids[0], *stored.ResultingSubscriptionID)
	})
}

func TestAccept_ConcurrentAcceptAndDismiss(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		c := seedPending(t, m)

		var wg sync.WaitGroup
		var acceptErr, dismissErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = m.Accept(ctx, AcceptCandidate{UserID: "alice", CandidateID: c.ID})
		}()
		go func() {
			defer wg.Done()
			_, dismissErr = m.Dismiss(ctx, DismissCandidate{UserID: "alice", CandidateID: c.ID})
		}()
		wg.Wait()

		// Exactly one wins; the loser sees an invalid transition.
		assert.True(t, (acceptErr == nil) != (dismissErr == nil))

		stored, err := s.GetCandidate(ctx, c.ID)
		require.NoError(t, err)
		subs, err := s.ListSubscriptions(ctx, service.SubscriptionFilter{UserID: "alice"})
		require.NoError(t, err)

		if stored.Status == model.CandidateAccepted {
			assert.NotNil(t, stored.ResultingSubscriptionID)
			assert.Len(t, subs, 1)
		} else {
			assert.Equal(t, model.CandidateDismissed, stored.Status)
			assert.Nil(t, stored.ResultingSubscriptionID)
			assert.Empty(t, subs)
		}
	})
}

func TestCandidates_Listing(t *testing.T) {
	testutil.ForEachStore(t, []string{"alice"}, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		m := newTestManager(s)
		seedPendingFor(t, m, "alice", "A")
		c := seedPendingFor(t, m, "alice", "B")
		_, err := m.Dismiss(ctx, DismissCandidate{UserID: "alice", CandidateID: c.ID})
		require.NoError(t, err)

		pending := model.CandidatePending
		list, err := m.Candidates(ctx, "alice", service.CandidateFilter{Status: &pending})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, model.MerchantKey("A"), list[0].MerchantKey)
	})
}
