// Package testutil provides shared test infrastructure: migrated databases and
// fluent builders for payment histories.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/Veraticus/the-spice-must-recur/internal/storage"
)

// TestDB is a migrated SQLite database scoped to one test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated SQLite database in the test's temp directory and
// seeds the given users. Cleanup is registered automatically.
//
// Example:
//
//	db := testutil.SetupTestDB(t, "alice")
//	mgr := lifecycle.NewManager(db.Storage, scoring.NewScorer(scoring.DefaultConfig()))
func SetupTestDB(t *testing.T, users ...string) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "recur.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	seedUsers(t, store, users)
	return &TestDB{Storage: store, t: t}
}

// ForEachStore runs test against a migrated SQLite store and an in-memory store,
// each seeded with users.
func ForEachStore(t *testing.T, users []string, test func(t *testing.T, s service.Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		test(t, SetupTestDB(t, users...).Storage)
	})
	t.Run("memory", func(t *testing.T) {
		mem := storage.NewMemoryStore()
		seedUsers(t, mem, users)
		test(t, mem)
	})
}

func seedUsers(t *testing.T, store service.Store, users []string) {
	t.Helper()
	for _, u := range users {
		if err := store.EnsureUser(context.Background(), u); err != nil {
			t.Fatalf("failed to seed user %q: %v", u, err)
		}
	}
}
