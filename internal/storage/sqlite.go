package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements service.Store using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers; Atomically relies on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// NewSnapshotManager creates a snapshot manager for this storage instance.
func (s *SQLiteStorage) NewSnapshotManager() (*SnapshotManager, error) {
	return NewSnapshotManager(s.db, s.dbPath)
}

// Atomically runs fn inside one database transaction. The transaction is rolled back
// if fn returns an error.
func (s *SQLiteStorage) Atomically(ctx context.Context, fn func(tx service.Store) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTransaction{tx: tx, storage: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sqliteTransaction wraps sql.Tx to implement service.Store.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

// Atomically joins the enclosing transaction.
func (t *sqliteTransaction) Atomically(_ context.Context, fn func(tx service.Store) error) error {
	return fn(t)
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) EnsureUser(ctx context.Context, userID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	return t.storage.ensureUserTx(ctx, t.tx, userID, time.Now())
}

func (t *sqliteTransaction) UserExists(ctx context.Context, userID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return t.storage.userExistsTx(ctx, t.tx, userID)
}

func (t *sqliteTransaction) InsertRawEvent(ctx context.Context, event *model.RawEvent) (service.InsertResult, error) {
	if err := validateContext(ctx); err != nil {
		return service.InsertResult{}, err
	}
	if err := validateEvent(event); err != nil {
		return service.InsertResult{}, err
	}
	return t.storage.insertRawEventTx(ctx, t.tx, event)
}

func (t *sqliteTransaction) GetRawEvent(ctx context.Context, id string) (*model.RawEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getRawEventTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetRawEventsByMerchant(ctx context.Context, userID string, key model.MerchantKey) ([]model.RawEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getRawEventsByMerchantTx(ctx, t.tx, userID, key)
}

func (t *sqliteTransaction) GetRawEventsByFingerprint(ctx context.Context, userID, fingerprint string) ([]model.RawEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getRawEventsByFingerprintTx(ctx, t.tx, userID, fingerprint)
}

func (t *sqliteTransaction) GetDuplicateGroups(ctx context.Context, userID string) ([]service.DuplicateGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getDuplicateGroupsTx(ctx, t.tx, userID)
}

func (t *sqliteTransaction) GetCandidate(ctx context.Context, id string) (*model.DetectionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getCandidateTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetCandidateByMerchant(ctx context.Context, userID string, key model.MerchantKey) (*model.DetectionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getCandidateByMerchantTx(ctx, t.tx, userID, key)
}

func (t *sqliteTransaction) PutCandidate(ctx context.Context, candidate *model.DetectionCandidate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCandidate(candidate); err != nil {
		return err
	}
	return t.storage.putCandidateTx(ctx, t.tx, candidate)
}

func (t *sqliteTransaction) ListCandidates(ctx context.Context, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listCandidatesTx(ctx, t.tx, userID, filter)
}

func (t *sqliteTransaction) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getSubscriptionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) PutSubscription(ctx context.Context, subscription *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(subscription); err != nil {
		return err
	}
	return t.storage.putSubscriptionTx(ctx, t.tx, subscription)
}

func (t *sqliteTransaction) ListSubscriptions(ctx context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listSubscriptionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) AppendPriceChange(ctx context.Context, entry *model.PriceChangeEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePriceChange(entry); err != nil {
		return err
	}
	return t.storage.appendPriceChangeTx(ctx, t.tx, entry)
}

func (t *sqliteTransaction) ListPriceChanges(ctx context.Context, subscriptionID string) ([]model.PriceChangeEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listPriceChangesTx(ctx, t.tx, subscriptionID)
}

func (t *sqliteTransaction) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAudit(entry); err != nil {
		return err
	}
	return t.storage.appendAuditTx(ctx, t.tx, entry)
}

func (t *sqliteTransaction) ListAudit(ctx context.Context, userID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listAuditTx(ctx, t.tx, userID)
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Compile-time interface checks.
var (
	_ service.Store = (*SQLiteStorage)(nil)
	_ service.Store = (*sqliteTransaction)(nil)
)
