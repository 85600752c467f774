// Package testutil provides a migrated SQLite store and seed fixtures for
// tests outside the storage package.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/chargemap/internal/storage"
)

// TestDBOptions configures SetupTestDBWithOptions.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	Fixtures       *Fixtures
	SkipMigrations bool
}

// SetupTestDB creates a migrated database in a temp dir that is closed when
// the test ends.
//
// Example:
//
//	store := testutil.SetupTestDB(t)
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates a test database, seeds the fixtures, and
// runs any custom setup.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.Fixtures != nil {
		opts.Fixtures.Seed(t, store)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return store
}
