package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
)

// AppendAudit writes one audit trail entry.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAudit(entry); err != nil {
		return err
	}
	return s.appendAuditTx(ctx, s.db, entry)
}

func (s *SQLiteStorage) appendAuditTx(ctx context.Context, q queryable, a *model.AuditEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, candidate_id, subscription_id, merchant_name, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, string(a.Action), a.CandidateID, a.SubscriptionID, a.MerchantName, a.Confidence, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns a user's audit trail, oldest first.
func (s *SQLiteStorage) ListAudit(ctx context.Context, userID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listAuditTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) listAuditTx(ctx context.Context, q queryable, userID string) ([]model.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, action, candidate_id, subscription_id, merchant_name, confidence, created_at
		FROM audit_log
		WHERE user_id = ?
		ORDER BY created_at, rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var a model.AuditEntry
		var action string
		if err := rows.Scan(&a.ID, &a.UserID, &action, &a.CandidateID, &a.SubscriptionID, &a.MerchantName, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		a.Action = model.AuditAction(action)
		a.CreatedAt = a.CreatedAt.UTC()
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
