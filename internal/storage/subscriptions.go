package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
)

const subscriptionColumns = `id, user_id, name, cost, currency, cadence, next_occurrence, is_active,
	renewal_status, cancelled_at, originating_candidate_id, created_at, updated_at`

// GetSubscription retrieves a subscription by ID.
func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getSubscriptionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getSubscriptionTx(ctx context.Context, q queryable, id string) (*model.Subscription, error) {
	row := q.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, common.ErrUnknownSubscription)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// PutSubscription inserts or replaces a subscription.
func (s *SQLiteStorage) PutSubscription(ctx context.Context, subscription *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(subscription); err != nil {
		return err
	}
	return s.putSubscriptionTx(ctx, s.db, subscription)
}

func (s *SQLiteStorage) putSubscriptionTx(ctx context.Context, q queryable, sub *model.Subscription) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			cost = excluded.cost,
			currency = excluded.currency,
			cadence = excluded.cadence,
			next_occurrence = excluded.next_occurrence,
			is_active = excluded.is_active,
			renewal_status = excluded.renewal_status,
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at
	`,
		sub.ID,
		sub.UserID,
		sub.Name,
		sub.Cost,
		sub.Currency,
		string(sub.Cadence),
		sub.NextOccurrence.UTC(),
		sub.IsActive,
		string(sub.RenewalStatus),
		nullTime(sub.CancelledAt),
		nullString(sub.OriginatingCandidateID),
		sub.CreatedAt.UTC(),
		sub.UpdatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("subscription for candidate: %w", common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns subscriptions matching filter, soonest renewal first.
func (s *SQLiteStorage) ListSubscriptions(ctx context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listSubscriptionsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) listSubscriptionsTx(ctx context.Context, q queryable, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.Active)
	}
	if len(filter.RenewalStatus) > 0 {
		placeholders := make([]string, len(filter.RenewalStatus))
		for i, status := range filter.RenewalStatus {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, "renewal_status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.DueBefore != nil {
		where = append(where, "next_occurrence < ?")
		args = append(args, filter.DueBefore.UTC())
	}
	if filter.CancelledFrom != nil {
		where = append(where, "cancelled_at IS NOT NULL AND cancelled_at >= ?")
		args = append(args, filter.CancelledFrom.UTC())
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY next_occurrence, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// AppendPriceChange records a price change. Entries are never updated.
func (s *SQLiteStorage) AppendPriceChange(ctx context.Context, entry *model.PriceChangeEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePriceChange(entry); err != nil {
		return err
	}
	return s.appendPriceChangeTx(ctx, s.db, entry)
}

func (s *SQLiteStorage) appendPriceChangeTx(ctx context.Context, q queryable, p *model.PriceChangeEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO price_changes (id, subscription_id, old_price, new_price, currency, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.SubscriptionID, p.OldPrice, p.NewPrice, p.Currency, p.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append price change: %w", err)
	}
	return nil
}

// ListPriceChanges returns a subscription's price changes, oldest first.
func (s *SQLiteStorage) ListPriceChanges(ctx context.Context, subscriptionID string) ([]model.PriceChangeEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listPriceChangesTx(ctx, s.db, subscriptionID)
}

func (s *SQLiteStorage) listPriceChangesTx(ctx context.Context, q queryable, subscriptionID string) ([]model.PriceChangeEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, subscription_id, old_price, new_price, currency, detected_at
		FROM price_changes
		WHERE subscription_id = ?
		ORDER BY detected_at, rowid
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.PriceChangeEntry
	for rows.Next() {
		var p model.PriceChangeEntry
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.OldPrice, &p.NewPrice, &p.Currency, &p.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price change: %w", err)
		}
		p.DetectedAt = p.DetectedAt.UTC()
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var sub model.Subscription
	var cadence, renewal string
	var cancelled sql.NullTime
	var candidateID sql.NullString

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Name,
		&sub.Cost,
		&sub.Currency,
		&cadence,
		&sub.NextOccurrence,
		&sub.IsActive,
		&renewal,
		&cancelled,
		&candidateID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Cadence = model.Cadence(cadence)
	sub.RenewalStatus = model.RenewalStatus(renewal)
	sub.NextOccurrence = sub.NextOccurrence.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	sub.CancelledAt = timePtr(cancelled)
	sub.OriginatingCandidateID = stringPtr(candidateID)
	return &sub, nil
}
