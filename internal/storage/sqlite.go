package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Veraticus/buyornot/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const preferencesCacheTTL = 5 * time.Minute

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db         *sql.DB
	prefsCache map[string]cachedPreferences
	prefsGen   map[string]uint64 // Bumped on every preferences write
	dbPath     string
	cacheMutex sync.RWMutex
}

type cachedPreferences struct {
	expires time.Time
	prefs   model.UserPreferences
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
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

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and :memory: needs exactly one
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:         db,
		dbPath:     dbPath,
		prefsCache: make(map[string]cachedPreferences),
		prefsGen:   make(map[string]uint64),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when fn succeeds.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) getCachedPreferences(userID string) (model.UserPreferences, bool) {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()

	entry, ok := s.prefsCache[userID]
	if !ok || time.Now().After(entry.expires) {
		return model.UserPreferences{}, false
	}
	return entry.prefs.Clone(), true
}

func (s *SQLiteStorage) preferencesGeneration(userID string) uint64 {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()
	return s.prefsGen[userID]
}

// cachePreferences stores a loaded value unless a write happened after gen
// was read, so a slow read never replaces a newer write.
func (s *SQLiteStorage) cachePreferences(prefs model.UserPreferences, gen uint64) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	if s.prefsGen[prefs.UserID] != gen {
		return
	}
	s.prefsCache[prefs.UserID] = cachedPreferences{
		prefs:   prefs.Clone(),
		expires: time.Now().Add(preferencesCacheTTL),
	}
}

// storePreferences records a committed write in the cache.
func (s *SQLiteStorage) storePreferences(prefs model.UserPreferences) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	s.prefsGen[prefs.UserID]++
	s.prefsCache[prefs.UserID] = cachedPreferences{
		prefs:   prefs.Clone(),
		expires: time.Now().Add(preferencesCacheTTL),
	}
}

// utc normalizes timestamps so that stored values sort chronologically.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
