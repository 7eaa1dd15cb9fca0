package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Snapshot errors.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotExists   = errors.New("snapshot already exists")
	ErrInvalidSnapshot  = errors.New("invalid snapshot tag")
)

// maxAutoSnapshots is how many automatic snapshots are retained.
const maxAutoSnapshots = 5

// SnapshotManager writes point-in-time copies of the database next to it.
type SnapshotManager struct {
	db           *sql.DB
	dbPath       string
	snapshotsDir string
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
	IsAuto        bool           `json:"is_auto"`
}

// NewSnapshotManager creates a snapshot manager storing files under <db dir>/snapshots.
func NewSnapshotManager(db *sql.DB, dbPath string) (*SnapshotManager, error) {
	if dbPath == ":memory:" {
		return nil, fmt.Errorf("%w: in-memory databases cannot be snapshotted", ErrInvalidSnapshot)
	}

	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	snapshotsDir := filepath.Join(filepath.Dir(absPath), "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &SnapshotManager{
		db:           db,
		dbPath:       absPath,
		snapshotsDir: snapshotsDir,
	}, nil
}

// Create writes a snapshot with the given tag. An empty tag is generated from the clock.
func (sm *SnapshotManager) Create(ctx context.Context, tag, description string) (*SnapshotInfo, error) {
	return sm.create(ctx, tag, description, false)
}

// Auto writes an automatic snapshot before an operation and prunes old automatic ones.
func (sm *SnapshotManager) Auto(ctx context.Context, operation string) (*SnapshotInfo, error) {
	tag := fmt.Sprintf("auto-%s-%s", operation, time.Now().UTC().Format("2006-01-02-150405"))
	info, err := sm.create(ctx, tag, "Automatic snapshot before "+operation, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create auto-snapshot: %w", err)
	}

	if err := sm.pruneAuto(ctx); err != nil {
		slog.Warn("failed to prune automatic snapshots", "error", err)
	}
	return info, nil
}

func (sm *SnapshotManager) create(ctx context.Context, tag, description string, auto bool) (*SnapshotInfo, error) {
	if tag == "" {
		tag = fmt.Sprintf("snapshot-%s", time.Now().UTC().Format("2006-01-02-150405"))
	}
	if err := validateTag(tag); err != nil {
		return nil, err
	}

	dest := filepath.Join(sm.snapshotsDir, tag+".db")
	if _, err := os.Stat(dest); err == nil {
		return nil, ErrSnapshotExists
	}

	var schemaVersion int
	if err := sm.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&schemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	counts := sm.rowCounts(ctx)

	if _, err := sm.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	if _, err := sm.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	info := &SnapshotInfo{
		ID:            tag,
		CreatedAt:     time.Now().UTC(),
		Description:   description,
		FileSize:      stat.Size(),
		RowCounts:     counts,
		SchemaVersion: schemaVersion,
		IsAuto:        auto,
	}

	if err := sm.saveMetadata(info); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil {
			slog.Error("failed to remove snapshot after metadata failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}

	if err := sm.storeMetadataInDB(ctx, info); err != nil {
		// The snapshot file is still usable without the database record.
		slog.Warn("failed to store snapshot metadata in database", "error", err)
	}

	return info, nil
}

// List returns all snapshots, newest first.
func (sm *SnapshotManager) List(_ context.Context) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(sm.snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	snapshots := make([]SnapshotInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		info, err := sm.loadMetadata(strings.TrimSuffix(entry.Name(), ".meta.json"))
		if err != nil {
			continue
		}
		snapshots = append(snapshots, *info)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Delete removes a snapshot and its metadata.
func (sm *SnapshotManager) Delete(ctx context.Context, id string) error {
	if err := validateTag(id); err != nil {
		return err
	}

	path := filepath.Join(sm.snapshotsDir, id+".db")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("failed to access snapshot: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	if err := os.Remove(filepath.Join(sm.snapshotsDir, id+".meta.json")); err != nil {
		slog.Debug("failed to remove metadata file", "error", err, "snapshot", id)
	}
	if _, err := sm.db.ExecContext(ctx, "DELETE FROM snapshot_metadata WHERE id = ?", id); err != nil {
		slog.Debug("failed to remove snapshot metadata from database", "error", err, "snapshot", id)
	}
	return nil
}

func (sm *SnapshotManager) pruneAuto(ctx context.Context) error {
	snapshots, err := sm.List(ctx)
	if err != nil {
		return err
	}

	kept := 0
	for _, snap := range snapshots {
		if !snap.IsAuto {
			continue
		}
		kept++
		if kept > maxAutoSnapshots {
			if err := sm.Delete(ctx, snap.ID); err != nil {
				slog.Debug("failed to delete old auto-snapshot", "error", err, "snapshot", snap.ID)
			}
		}
	}
	return nil
}

func (sm *SnapshotManager) rowCounts(ctx context.Context) map[string]int {
	tableQueries := map[string]string{
		"raw_events":    "SELECT COUNT(*) FROM raw_events",
		"candidates":    "SELECT COUNT(*) FROM candidates",
		"subscriptions": "SELECT COUNT(*) FROM subscriptions",
		"price_changes": "SELECT COUNT(*) FROM price_changes",
		"audit_log":     "SELECT COUNT(*) FROM audit_log",
	}

	counts := make(map[string]int, len(tableQueries))
	for table, query := range tableQueries {
		var count int
		if err := sm.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			continue
		}
		counts[table] = count
	}
	return counts
}

func (sm *SnapshotManager) saveMetadata(info *SnapshotInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(sm.snapshotsDir, info.ID+".meta.json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (sm *SnapshotManager) loadMetadata(id string) (*SnapshotInfo, error) {
	// #nosec G304 - id is a file name read from the snapshots directory
	data, err := os.ReadFile(filepath.Join(sm.snapshotsDir, id+".meta.json"))
	if err != nil {
		return nil, err
	}

	var info SnapshotInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (sm *SnapshotManager) storeMetadataInDB(ctx context.Context, info *SnapshotInfo) error {
	counts, err := json.Marshal(info.RowCounts)
	if err != nil {
		return err
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot_metadata
		(id, created_at, description, file_size, row_counts, schema_version, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.CreatedAt, info.Description, info.FileSize, string(counts), info.SchemaVersion, info.IsAuto)
	return err
}

func validateTag(tag string) error {
	if tag == "" || strings.ContainsAny(tag, `/\'";`) || strings.Contains(tag, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshot, tag)
	}
	return nil
}
