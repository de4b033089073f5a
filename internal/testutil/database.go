// Package testutil provides test utilities for the buyornot project: an
// in-memory database with migrations applied and a fluent builder for seeding
// decisions and ledgers.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup func(context.Context, *storage.SQLiteStorage) error
	Fixtures    *Fixtures
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	db := &TestDB{Storage: store, t: t}

	if opts.Fixtures != nil {
		if err := opts.Fixtures.Apply(ctx, store); err != nil {
			t.Fatalf("failed to seed fixtures: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return db
}

// MustGetDecision returns the stored decision or fails the test.
func (db *TestDB) MustGetDecision(userID, id string) model.Decision {
	db.t.Helper()
	d, err := db.Storage.GetDecision(context.Background(), userID, id)
	if err != nil {
		db.t.Fatalf("failed to get decision %s: %v", id, err)
	}
	return *d
}

// MustGetLedger returns the stored ledger or fails the test.
func (db *TestDB) MustGetLedger(userID string) model.Ledger {
	db.t.Helper()
	l, err := db.Storage.GetLedger(context.Background(), userID)
	if err != nil {
		db.t.Fatalf("failed to get ledger for %s: %v", userID, err)
	}
	return l
}
