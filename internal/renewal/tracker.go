// Package renewal tracks accepted subscriptions after acceptance: it flags renewals
// that are due, applies the user's confirmation and keeps the price history.
package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sweepable lists the renewal states a due subscription may be flagged from.
// A confirmed renewal becomes due again once its advanced date passes.
var sweepable = []model.RenewalStatus{model.RenewalUnset, model.RenewalConfirmedRenewed}

// Tracker applies renewal transitions to subscriptions.
type Tracker struct {
	store  service.Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used to stamp confirmations.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator overrides how price change identifiers are minted.
func WithIDGenerator(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

// NewTracker creates a renewal tracker.
func NewTracker(store service.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "renewal"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Due     int `json:"due"`
	Flagged int `json:"flagged"`
}

// Sweep moves every active subscription whose next occurrence is before now into
// pending_confirmation. Each subscription is re-read and updated atomically so a
// sweep can race user confirmations safely.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	active := true
	due, err := t.store.ListSubscriptions(ctx, service.SubscriptionFilter{
		Active:        &active,
		RenewalStatus: sweepable,
		DueBefore:     &now,
	})
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to list due subscriptions: %w", err)
	}

	report := SweepReport{Due: len(due)}
	for _, candidate := range due {
		flagged := false
		err := t.store.Atomically(ctx, func(tx service.Store) error {
			sub, err := tx.GetSubscription(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !isDue(sub, now) {
				return nil
			}
			sub.RenewalStatus = model.RenewalPendingConfirmation
			sub.UpdatedAt = now.UTC()
			flagged = true
			return tx.PutSubscription(ctx, sub)
		})
		if err != nil {
			return report, fmt.Errorf("failed to flag subscription %s: %w", candidate.ID, err)
		}
		if flagged {
			report.Flagged++
			t.logger.Info("renewal needs confirmation",
				"subscription", candidate.ID,
				"user", candidate.UserID,
				"name", candidate.Name,
				"due", candidate.NextOccurrence.Format("2006-01-02"))
		}
	}

	return report, nil
}

func isDue(sub *model.Subscription, now time.Time) bool {
	if !sub.IsActive || !sub.NextOccurrence.Before(now) {
		return false
	}
	for _, status := range sweepable {
		if sub.RenewalStatus == status {
			return true
		}
	}
	return false
}

// NeedsConfirmation lists a user's subscriptions awaiting renewal confirmation.
func (t *Tracker) NeedsConfirmation(ctx context.Context, userID string) ([]model.Subscription, error) {
	if err := requireUser(ctx, t.store, userID); err != nil {
		return nil, err
	}
	active := true
	return t.store.ListSubscriptions(ctx, service.SubscriptionFilter{
		UserID:        userID,
		Active:        &active,
		RenewalStatus: []model.RenewalStatus{model.RenewalPendingConfirmation},
	})
}

// Subscriptions lists a user's subscriptions ordered by next occurrence.
func (t *Tracker) Subscriptions(ctx context.Context, userID string, activeOnly bool) ([]model.Subscription, error) {
	if err := requireUser(ctx, t.store, userID); err != nil {
		return nil, err
	}
	filter := service.SubscriptionFilter{UserID: userID}
	if activeOnly {
		active := true
		filter.Active = &active
	}
	return t.store.ListSubscriptions(ctx, filter)
}

// Confirm executes a ConfirmRenewal command.
func (t *Tracker) Confirm(ctx context.Context, cmd ConfirmRenewal) (*Confirmation, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	var result *Confirmation
	err := t.store.Atomically(ctx, func(tx service.Store) error {
		sub, err := loadOwned(ctx, tx, cmd.UserID, cmd.SubscriptionID)
		if err != nil {
			return err
		}

		now := t.now().UTC()
		switch cmd.Action {
		case ActionRenewed:
			result, err = t.renew(ctx, tx, sub, cmd.NewCost, now)
		case ActionCancelled:
			result, err = t.cancel(ctx, tx, sub, now)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm renewal of %s: %w", cmd.SubscriptionID, err)
	}

	t.logger.Info("renewal confirmed",
		"subscription", cmd.SubscriptionID,
		"action", cmd.Action,
		"next", result.Subscription.NextOccurrence.Format("2006-01-02"))
	return result, nil
}

func (t *Tracker) renew(ctx context.Context, tx service.Store, sub *model.Subscription, newCost *decimal.Decimal, now time.Time) (*Confirmation, error) {
	if !sub.IsActive {
		return nil, fmt.Errorf("cannot renew cancelled subscription %s: %w", sub.ID, common.ErrInvalidTransition)
	}

	result := &Confirmation{Subscription: sub}

	// The price change entry must land before the cost moves.
	if newCost != nil && !newCost.Equal(sub.Cost) {
		entry := &model.PriceChangeEntry{
			ID:             t.newID(),
			SubscriptionID: sub.ID,
			OldPrice:       sub.Cost,
			NewPrice:       *newCost,
			Currency:       sub.Currency,
			DetectedAt:     now,
		}
		if err := tx.AppendPriceChange(ctx, entry); err != nil {
			return nil, err
		}
		sub.Cost = *newCost
		result.PriceChange = entry
	}

	sub.NextOccurrence = Advance(sub.NextOccurrence, sub.Cadence)
	sub.RenewalStatus = model.RenewalConfirmedRenewed
	sub.UpdatedAt = now
	if err := tx.PutSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *Tracker) cancel(ctx context.Context, tx service.Store, sub *model.Subscription, now time.Time) (*Confirmation, error) {
	if !sub.IsActive {
		// Already cancelled; report the original savings without touching the row.
		savings := SavingsFor(*sub)
		return &Confirmation{Subscription: sub, Savings: &savings}, nil
	}

	sub.IsActive = false
	sub.RenewalStatus = model.RenewalConfirmedCancelled
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := tx.PutSubscription(ctx, sub); err != nil {
		return nil, err
	}

	savings := SavingsFor(*sub)
	return &Confirmation{Subscription: sub, Savings: &savings}, nil
}

// Advance moves a date forward by one fixed-length cadence unit.
func Advance(from time.Time, cadence model.Cadence) time.Time {
	return from.AddDate(0, 0, cadence.Days())
}

func loadOwned(ctx context.Context, store service.Store, userID, subscriptionID string) (*model.Subscription, error) {
	if err := requireUser(ctx, store, userID); err != nil {
		return nil, err
	}
	sub, err := store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, common.ErrUnauthorized)
	}
	return sub, nil
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
