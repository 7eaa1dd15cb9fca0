// Package lifecycle owns the pending, accepted and dismissed states of detection
// candidates and turns accepted candidates into subscriptions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/merchant"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/scoring"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/google/uuid"
)

// ConfidenceEpsilon is the smallest confidence movement treated as a material change.
const ConfidenceEpsilon = 0.01

// ErrInvalidOverride is returned when an acceptance override is unusable.
var ErrInvalidOverride = errors.New("invalid override")

// ObserveOutcome describes what Observe did with a score.
type ObserveOutcome string

const (
	// OutcomeIgnored means the score was not strong enough to surface a candidate.
	OutcomeIgnored ObserveOutcome = "ignored"
	// OutcomeCreated means a new pending candidate was stored.
	OutcomeCreated ObserveOutcome = "created"
	// OutcomeUpdated means a pending candidate was refreshed with the new score.
	OutcomeUpdated ObserveOutcome = "updated"
	// OutcomeUnchanged means the pending candidate already reflected the score.
	OutcomeUnchanged ObserveOutcome = "unchanged"
	// OutcomeReviewed means the merchant's candidate was already accepted or dismissed.
	OutcomeReviewed ObserveOutcome = "reviewed"
)

// Manager executes candidate lifecycle commands against a store.
type Manager struct {
	store  service.Store
	scorer *scoring.Scorer
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides how new identifiers are minted.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// NewManager creates a lifecycle manager.
func NewManager(store service.Store, scorer *scoring.Scorer, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		scorer: scorer,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe records a fresh score for a merchant. A promotable score creates a pending
// candidate when none exists; a matched score that differs materially refreshes a
// pending one. A score with no cadence only lowers the pending candidate's confidence
// and evidence, keeping its last proposed cadence and amount. Reviewed candidates are
// never touched.
func (m *Manager) Observe(ctx context.Context, userID string, key model.MerchantKey, result scoring.Result) (*model.DetectionCandidate, ObserveOutcome, error) {
	var candidate *model.DetectionCandidate
	outcome := OutcomeIgnored

	err := m.store.Atomically(ctx, func(tx service.Store) error {
		existing, err := tx.GetCandidateByMerchant(ctx, userID, key)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}

		now := m.now().UTC()

		if existing == nil {
			if !m.scorer.Promotable(result) {
				return nil
			}
			candidate = &model.DetectionCandidate{
				ID:          m.newID(),
				UserID:      userID,
				MerchantKey: key,
				Status:      model.CandidatePending,
				CreatedAt:   now,
			}
			applyResult(candidate, key, result, now)
			outcome = OutcomeCreated
			return tx.PutCandidate(ctx, candidate)
		}

		candidate = existing
		if existing.Status.Terminal() {
			outcome = OutcomeReviewed
			return nil
		}
		if !result.Matched {
			if !scoreChanged(existing, result) {
				outcome = OutcomeUnchanged
				return nil
			}
			applyScores(candidate, result, now)
			outcome = OutcomeUpdated
			return tx.PutCandidate(ctx, candidate)
		}
		if !materiallyDifferent(existing, result) {
			outcome = OutcomeUnchanged
			return nil
		}

		applyResult(candidate, key, result, now)
		outcome = OutcomeUpdated
		return tx.PutCandidate(ctx, candidate)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to observe merchant %s: %w", key, err)
	}

	if outcome == OutcomeCreated || outcome == OutcomeUpdated {
		m.logger.Debug("candidate "+string(outcome),
			"candidate", candidate.ID,
			"merchant", key,
			"cadence", candidate.ProposedCadence,
			"confidence", candidate.Confidence)
	}
	return candidate, outcome, nil
}

func applyResult(c *model.DetectionCandidate, key model.MerchantKey, r scoring.Result, now time.Time) {
	c.ProposedName = merchant.DisplayName(key)
	c.ProposedAmount = r.LatestAmount
	c.ProposedCurrency = r.Currency
	c.ProposedCadence = r.Cadence
	c.ProposedNextOccurrence = r.NextOccurrence
	c.Confidence = r.Confidence
	c.PeriodicityScore = r.PeriodicityScore
	c.AmountStabilityScore = r.AmountStabilityScore
	c.SupportingEventIDs = append([]string(nil), r.EventIDs...)
	c.UpdatedAt = now
}

// applyScores records the scores of a result that matched no cadence band.
func applyScores(c *model.DetectionCandidate, r scoring.Result, now time.Time) {
	c.Confidence = r.Confidence
	c.PeriodicityScore = r.PeriodicityScore
	c.AmountStabilityScore = r.AmountStabilityScore
	c.SupportingEventIDs = append([]string(nil), r.EventIDs...)
	c.UpdatedAt = now
}

func scoreChanged(c *model.DetectionCandidate, r scoring.Result) bool {
	return math.Abs(c.Confidence-r.Confidence) >= ConfidenceEpsilon ||
		!slices.Equal(c.SupportingEventIDs, r.EventIDs)
}

func materiallyDifferent(c *model.DetectionCandidate, r scoring.Result) bool {
	return c.ProposedCadence != r.Cadence ||
		c.ProposedCurrency != r.Currency ||
		!c.ProposedAmount.Equal(r.LatestAmount) ||
		!c.ProposedNextOccurrence.Equal(r.NextOccurrence) ||
		math.Abs(c.Confidence-r.Confidence) >= ConfidenceEpsilon ||
		!slices.Equal(c.SupportingEventIDs, r.EventIDs)
}

// Accept executes an AcceptCandidate command. Accepting an already-accepted candidate
// returns its existing subscription without writing anything.
func (m *Manager) Accept(ctx context.Context, cmd AcceptCandidate) (*model.Subscription, error) {
	var subscription *model.Subscription
	created := false

	err := m.store.Atomically(ctx, func(tx service.Store) error {
		c, err := loadOwned(ctx, tx, cmd.UserID, cmd.CandidateID)
		if err != nil {
			return err
		}

		switch c.Status {
		case model.CandidateAccepted:
			subscription, err = tx.GetSubscription(ctx, *c.ResultingSubscriptionID)
			return err
		case model.CandidateDismissed:
			return fmt.Errorf("cannot accept dismissed candidate %s: %w", c.ID, common.ErrInvalidTransition)
		}

		now := m.now().UTC()
		subscription, err = cmd.Overrides.apply(c, now)
		if err != nil {
			return err
		}
		subscription.ID = m.newID()
		if err := tx.PutSubscription(ctx, subscription); err != nil {
			return err
		}

		c.Status = model.CandidateAccepted
		c.ResultingSubscriptionID = &subscription.ID
		c.ReviewedAt = &now
		c.UpdatedAt = now
		if err := tx.PutCandidate(ctx, c); err != nil {
			return err
		}

		created = true
		return tx.AppendAudit(ctx, &model.AuditEntry{
			ID:             m.newID(),
			UserID:         c.UserID,
			Action:         model.AuditCandidateAccepted,
			CandidateID:    c.ID,
			SubscriptionID: subscription.ID,
			MerchantName:   subscription.Name,
			Confidence:     c.Confidence,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to accept candidate %s: %w", cmd.CandidateID, err)
	}

	if created {
		m.logger.Info("candidate accepted",
			"candidate", cmd.CandidateID,
			"subscription", subscription.ID,
			"name", subscription.Name)
	}
	return subscription, nil
}

// Dismiss executes a DismissCandidate command. Dismissing an already-dismissed
// candidate is a no-op.
func (m *Manager) Dismiss(ctx context.Context, cmd DismissCandidate) (*model.DetectionCandidate, error) {
	var candidate *model.DetectionCandidate

	err := m.store.Atomically(ctx, func(tx service.Store) error {
		c, err := loadOwned(ctx, tx, cmd.UserID, cmd.CandidateID)
		if err != nil {
			return err
		}
		candidate = c

		switch c.Status {
		case model.CandidateDismissed:
			return nil
		case model.CandidateAccepted:
			return fmt.Errorf("cannot dismiss accepted candidate %s: %w", c.ID, common.ErrInvalidTransition)
		}

		now := m.now().UTC()
		c.Status = model.CandidateDismissed
		c.ReviewedAt = &now
		c.UpdatedAt = now
		return tx.PutCandidate(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dismiss candidate %s: %w", cmd.CandidateID, err)
	}
	return candidate, nil
}

// Candidates lists a user's candidates, most recently updated first.
func (m *Manager) Candidates(ctx context.Context, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error) {
	if err := requireUser(ctx, m.store, userID); err != nil {
		return nil, err
	}
	return m.store.ListCandidates(ctx, userID, filter)
}

// AuditTrail returns the acceptance audit entries of a user.
func (m *Manager) AuditTrail(ctx context.Context, userID string) ([]model.AuditEntry, error) {
	if err := requireUser(ctx, m.store, userID); err != nil {
		return nil, err
	}
	return m.store.ListAudit(ctx, userID)
}

func loadOwned(ctx context.Context, tx service.Store, userID, candidateID string) (*model.DetectionCandidate, error) {
	if err := requireUser(ctx, tx, userID); err != nil {
		return nil, err
	}
	c, err := tx.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("candidate %s: %w", candidateID, common.ErrUnauthorized)
	}
	return c, nil
}

func requireUser(ctx context.Context, store service.Store, userID string) error {
	ok, err := store.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", userID, common.ErrUnknownUser)
	}
	return nil
}
