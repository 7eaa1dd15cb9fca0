package storage

import (
	"context"
	"fmt"
	"time"
)

// EnsureUser records a user if it does not exist yet.
func (s *SQLiteStorage) EnsureUser(ctx context.Context, userID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	return s.ensureUserTx(ctx, s.db, userID, time.Now())
}

func (s *SQLiteStorage) ensureUserTx(ctx context.Context, q queryable, userID string, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// UserExists reports whether the user has been recorded.
func (s *SQLiteStorage) UserExists(ctx context.Context, userID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return s.userExistsTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) userExistsTx(ctx context.Context, q queryable, userID string) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}
