package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
)

const candidateColumns = `id, user_id, merchant_key, proposed_name, proposed_amount, proposed_currency,
	proposed_cadence, proposed_next_occurrence, confidence, periodicity_score, amount_stability_score,
	status, supporting_event_ids, created_at, updated_at, reviewed_at, resulting_subscription_id`

// GetCandidate retrieves a candidate by ID.
func (s *SQLiteStorage) GetCandidate(ctx context.Context, id string) (*model.DetectionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getCandidateTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getCandidateTx(ctx context.Context, q queryable, id string) (*model.DetectionCandidate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, common.ErrUnknownCandidate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	return c, nil
}

// GetCandidateByMerchant retrieves the candidate for a user's merchant.
func (s *SQLiteStorage) GetCandidateByMerchant(ctx context.Context, userID string, key model.MerchantKey) (*model.DetectionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCandidateByMerchantTx(ctx, s.db, userID, key)
}

func (s *SQLiteStorage) getCandidateByMerchantTx(ctx context.Context, q queryable, userID string, key model.MerchantKey) (*model.DetectionCandidate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE user_id = ? AND merchant_key = ?`,
		userID, string(key))
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merchant %s: %w", key, common.ErrUnknownCandidate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate by merchant: %w", err)
	}
	return c, nil
}

// PutCandidate inserts or replaces a candidate.
func (s *SQLiteStorage) PutCandidate(ctx context.Context, candidate *model.DetectionCandidate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCandidate(candidate); err != nil {
		return err
	}
	return s.putCandidateTx(ctx, s.db, candidate)
}

func (s *SQLiteStorage) putCandidateTx(ctx context.Context, q queryable, c *model.DetectionCandidate) error {
	ids := c.SupportingEventIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode supporting events: %w", err)
	}

	var next sql.NullTime
	if !c.ProposedNextOccurrence.IsZero() {
		next = sql.NullTime{Time: c.ProposedNextOccurrence.UTC(), Valid: true}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			proposed_name = excluded.proposed_name,
			proposed_amount = excluded.proposed_amount,
			proposed_currency = excluded.proposed_currency,
			proposed_cadence = excluded.proposed_cadence,
			proposed_next_occurrence = excluded.proposed_next_occurrence,
			confidence = excluded.confidence,
			periodicity_score = excluded.periodicity_score,
			amount_stability_score = excluded.amount_stability_score,
			status = excluded.status,
			supporting_event_ids = excluded.supporting_event_ids,
			updated_at = excluded.updated_at,
			reviewed_at = excluded.reviewed_at,
			resulting_subscription_id = excluded.resulting_subscription_id
	`,
		c.ID,
		c.UserID,
		string(c.MerchantKey),
		c.ProposedName,
		c.ProposedAmount,
		c.ProposedCurrency,
		string(c.ProposedCadence),
		next,
		c.Confidence,
		c.PeriodicityScore,
		c.AmountStabilityScore,
		string(c.Status),
		string(idsJSON),
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
		nullTime(c.ReviewedAt),
		nullString(c.ResultingSubscriptionID),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("candidate for merchant %s: %w", c.MerchantKey, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to save candidate: %w", err)
	}
	return nil
}

// ListCandidates returns a user's candidates, most recently updated first.
func (s *SQLiteStorage) ListCandidates(ctx context.Context, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listCandidatesTx(ctx, s.db, userID, filter)
}

func (s *SQLiteStorage) listCandidatesTx(ctx context.Context, q queryable, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE user_id = ? AND confidence >= ?`
	args := []any{userID, filter.MinConfidence}

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY updated_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.DetectionCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, *c)
	}
	return candidates, rows.Err()
}

func scanCandidate(row rowScanner) (*model.DetectionCandidate, error) {
	var c model.DetectionCandidate
	var key, cadence, status, idsJSON string
	var next, reviewed sql.NullTime
	var subID sql.NullString

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&key,
		&c.ProposedName,
		&c.ProposedAmount,
		&c.ProposedCurrency,
		&cadence,
		&next,
		&c.Confidence,
		&c.PeriodicityScore,
		&c.AmountStabilityScore,
		&status,
		&idsJSON,
		&c.CreatedAt,
		&c.UpdatedAt,
		&reviewed,
		&subID,
	)
	if err != nil {
		return nil, err
	}

	c.MerchantKey = model.MerchantKey(key)
	c.ProposedCadence = model.Cadence(cadence)
	c.Status = model.CandidateStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if next.Valid {
		c.ProposedNextOccurrence = next.Time.UTC()
	}
	c.ReviewedAt = timePtr(reviewed)
	c.ResultingSubscriptionID = stringPtr(subID)

	if err := json.Unmarshal([]byte(idsJSON), &c.SupportingEventIDs); err != nil {
		return nil, fmt.Errorf("failed to parse supporting events: %w", err)
	}
	return &c, nil
}
