package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS raw_events (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id),
					source TEXT NOT NULL,
					raw_identifier TEXT NOT NULL,
					subject TEXT NOT NULL DEFAULT '',
					body TEXT NOT NULL DEFAULT '',
					sender TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					occurred_at DATETIME NOT NULL,
					merchant_key TEXT NOT NULL DEFAULT '',
					fingerprint TEXT NOT NULL DEFAULT '',
					filter_tier TEXT NOT NULL DEFAULT '',
					ingested_at DATETIME NOT NULL,
					UNIQUE (user_id, source, raw_identifier)
				)`,
				`CREATE INDEX idx_raw_events_merchant ON raw_events(user_id, merchant_key, occurred_at)`,
				`CREATE INDEX idx_raw_events_fingerprint ON raw_events(user_id, fingerprint)`,

				`CREATE TABLE IF NOT EXISTS candidates (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id),
					merchant_key TEXT NOT NULL,
					proposed_name TEXT NOT NULL,
					proposed_amount TEXT NOT NULL,
					proposed_currency TEXT NOT NULL,
					proposed_cadence TEXT NOT NULL,
					proposed_next_occurrence DATETIME,
					confidence REAL NOT NULL DEFAULT 0,
					periodicity_score REAL NOT NULL DEFAULT 0,
					amount_stability_score REAL NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					supporting_event_ids TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					reviewed_at DATETIME,
					resulting_subscription_id TEXT,
					UNIQUE (user_id, merchant_key),
					CHECK ((status = 'accepted') = (resulting_subscription_id IS NOT NULL))
				)`,
				`CREATE INDEX idx_candidates_status ON candidates(user_id, status, updated_at)`,

				`CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id),
					name TEXT NOT NULL,
					cost TEXT NOT NULL,
					currency TEXT NOT NULL,
					cadence TEXT NOT NULL,
					next_occurrence DATETIME NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					renewal_status TEXT NOT NULL DEFAULT '',
					cancelled_at DATETIME,
					originating_candidate_id TEXT UNIQUE,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_subscriptions_due ON subscriptions(is_active, next_occurrence)`,
				`CREATE INDEX idx_subscriptions_user ON subscriptions(user_id)`,

				`CREATE TABLE IF NOT EXISTS price_changes (
					id TEXT PRIMARY KEY,
					subscription_id TEXT NOT NULL REFERENCES subscriptions(id),
					old_price TEXT NOT NULL,
					new_price TEXT NOT NULL,
					currency TEXT NOT NULL,
					detected_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_price_changes_subscription ON price_changes(subscription_id, detected_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add acceptance audit log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS audit_log (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					action TEXT NOT NULL,
					candidate_id TEXT NOT NULL DEFAULT '',
					subscription_id TEXT NOT NULL DEFAULT '',
					merchant_name TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_audit_log_user ON audit_log(user_id, created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add snapshot metadata table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS snapshot_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER,
					is_auto BOOLEAN DEFAULT 0
				)
			`)
			if err != nil {
				return fmt.Errorf("failed to create snapshot_metadata table: %w", err)
			}
			return nil
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
