// Package dedup keeps ingestion idempotent and flags likely double charges.
package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
)

// Status is the result of ingesting one event.
type Status string

const (
	// StatusInserted means the event was new and has been stored.
	StatusInserted Status = "inserted"
	// StatusSkipped means the ingestion key was already present; nothing changed.
	StatusSkipped Status = "skipped"
)

// Outcome reports what Ingest did with an event.
type Outcome struct {
	Status  Status
	EventID string
	// DuplicateOf lists already-stored events with the same fingerprint but a
	// different raw identifier.
	DuplicateOf []string
}

// Fingerprint derives the duplicate-charge key of a transaction from its account,
// amount, calendar day and merchant. It does not depend on insertion order.
func Fingerprint(accountRef string, amount model.Money, date time.Time, key model.MerchantKey) string {
	canonical := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(accountRef)),
		amount.Amount.Abs().StringFixed(2),
		strings.ToUpper(amount.Currency),
		date.UTC().Format("2006-01-02"),
		string(key),
	}, "|")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(canonical)))
}

// Store wraps a service.Store with the ingestion rules.
type Store struct {
	store  service.Store
	logger *slog.Logger
}

// NewStore creates a deduplicating store.
func NewStore(store service.Store) *Store {
	return &Store{
		store:  store,
		logger: slog.Default().With("component", "dedup"),
	}
}

// Ingest stores event unless its (user, source, raw identifier) was seen before, in
// which case the outcome is skipped and no error is returned. Transaction events get a
// fingerprint if they lack one, and new ones are checked against earlier events.
func (s *Store) Ingest(ctx context.Context, event *model.RawEvent) (Outcome, error) {
	if event.Source == model.SourceTransaction && event.Fingerprint == "" {
		event.Fingerprint = Fingerprint(event.SenderOrAccountRef, event.Amount, event.OccurredAt, event.MerchantKey)
	}

	outcome := Outcome{EventID: event.ID}
	err := s.store.Atomically(ctx, func(tx service.Store) error {
		res, err := tx.InsertRawEvent(ctx, event)
		if err != nil {
			return err
		}
		if !res.Inserted {
			outcome.Status = StatusSkipped
			return nil
		}
		outcome.Status = StatusInserted

		if event.Fingerprint == "" {
			return nil
		}
		matches, err := tx.GetRawEventsByFingerprint(ctx, event.UserID, event.Fingerprint)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if m.RawIdentifier != event.RawIdentifier {
				outcome.DuplicateOf = append(outcome.DuplicateOf, m.ID)
			}
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to ingest event %s: %w", event.RawIdentifier, err)
	}

	if len(outcome.DuplicateOf) > 0 {
		s.logger.Info("possible duplicate charge",
			"event", event.ID,
			"merchant", event.MerchantKey,
			"amount", event.Amount.String(),
			"matches", len(outcome.DuplicateOf))
	}
	return outcome, nil
}

// DuplicateCharges lists groups of distinct events that share a fingerprint.
func (s *Store) DuplicateCharges(ctx context.Context, userID string) ([]service.DuplicateGroup, error) {
	groups, err := s.store.GetDuplicateGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate charges: %w", err)
	}
	return groups, nil
}
