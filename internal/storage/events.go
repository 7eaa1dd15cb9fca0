package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/shopspring/decimal"
)

const rawEventColumns = `id, user_id, source, raw_identifier, subject, body, sender,
	amount, currency, occurred_at, merchant_key, fingerprint, filter_tier, ingested_at`

// InsertRawEvent stores an event unless one with the same ingestion key exists.
func (s *SQLiteStorage) InsertRawEvent(ctx context.Context, event *model.RawEvent) (service.InsertResult, error) {
	if err := validateContext(ctx); err != nil {
		return service.InsertResult{}, err
	}
	if err := validateEvent(event); err != nil {
		return service.InsertResult{}, err
	}
	return s.insertRawEventTx(ctx, s.db, event)
}

func (s *SQLiteStorage) insertRawEventTx(ctx context.Context, q queryable, e *model.RawEvent) (service.InsertResult, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO raw_events (`+rawEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, source, raw_identifier) DO NOTHING
	`,
		e.ID,
		e.UserID,
		string(e.Source),
		e.RawIdentifier,
		e.SubjectOrDescription,
		e.BodyOrMerchantString,
		e.SenderOrAccountRef,
		e.Amount.Amount,
		e.Amount.Currency,
		e.OccurredAt.UTC(),
		string(e.MerchantKey),
		e.Fingerprint,
		string(e.FilterTier),
		e.IngestedAt.UTC(),
	)
	if err != nil {
		return service.InsertResult{}, fmt.Errorf("failed to insert raw event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return service.InsertResult{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return service.InsertResult{Inserted: affected > 0}, nil
}

// GetRawEvent retrieves an event by ID.
func (s *SQLiteStorage) GetRawEvent(ctx context.Context, id string) (*model.RawEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getRawEventTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getRawEventTx(ctx context.Context, q queryable, id string) (*model.RawEvent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE id = ?`, id)
	e, err := scanRawEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("raw event %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw event: %w", err)
	}
	return e, nil
}

// GetRawEventsByMerchant returns a user's events for one merchant, oldest first.
func (s *SQLiteStorage) GetRawEventsByMerchant(ctx context.Context, userID string, key model.MerchantKey) ([]model.RawEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRawEventsByMerchantTx(ctx, s.db, userID, key)
}

func (s *SQLiteStorage) getRawEventsByMerchantTx(ctx context.Context, q queryable, userID string, key model.MerchantKey) ([]model.RawEvent, error) {
	return queryRawEvents(ctx, q, `
		SELECT `+rawEventColumns+` FROM raw_events
		WHERE user_id = ? AND merchant_key = ?
		ORDER BY occurred_at, id
	`, userID, string(key))
}

// GetRawEventsByFingerprint returns a user's events sharing a duplicate-charge fingerprint.
func (s *SQLiteStorage) GetRawEventsByFingerprint(ctx context.Context, userID, fingerprint string) ([]model.RawEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRawEventsByFingerprintTx(ctx, s.db, userID, fingerprint)
}

func (s *SQLiteStorage) getRawEventsByFingerprintTx(ctx context.Context, q queryable, userID, fingerprint string) ([]model.RawEvent, error) {
	if fingerprint == "" {
		return nil, nil
	}
	return queryRawEvents(ctx, q, `
		SELECT `+rawEventColumns+` FROM raw_events
		WHERE user_id = ? AND fingerprint = ?
		ORDER BY ingested_at, id
	`, userID, fingerprint)
}

// GetDuplicateGroups lists fingerprints shared by more than one event.
func (s *SQLiteStorage) GetDuplicateGroups(ctx context.Context, userID string) ([]service.DuplicateGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDuplicateGroupsTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getDuplicateGroupsTx(ctx context.Context, q queryable, userID string) ([]service.DuplicateGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT fingerprint FROM raw_events
		WHERE user_id = ? AND fingerprint != ''
		GROUP BY fingerprint
		HAVING COUNT(*) > 1
		ORDER BY MIN(occurred_at), fingerprint
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate fingerprints: %w", err)
	}

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	groups := make([]service.DuplicateGroup, 0, len(fingerprints))
	for _, fp := range fingerprints {
		events, err := s.getRawEventsByFingerprintTx(ctx, q, userID, fp)
		if err != nil {
			return nil, err
		}
		groups = append(groups, service.DuplicateGroup{Fingerprint: fp, Events: events})
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawEvent(row rowScanner) (*model.RawEvent, error) {
	var e model.RawEvent
	var source, key, tier string
	var amount decimal.Decimal

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&source,
		&e.RawIdentifier,
		&e.SubjectOrDescription,
		&e.BodyOrMerchantString,
		&e.SenderOrAccountRef,
		&amount,
		&e.Amount.Currency,
		&e.OccurredAt,
		&key,
		&e.Fingerprint,
		&tier,
		&e.IngestedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Source = model.EventSource(source)
	e.MerchantKey = model.MerchantKey(key)
	e.FilterTier = model.FilterTier(tier)
	e.Amount.Amount = amount
	e.OccurredAt = e.OccurredAt.UTC()
	e.IngestedAt = e.IngestedAt.UTC()
	return &e, nil
}

func queryRawEvents(ctx context.Context, q queryable, query string, args ...any) ([]model.RawEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.RawEvent
	for rows.Next() {
		e, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
