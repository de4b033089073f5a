package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Decisions and ledgers",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS decisions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					title TEXT NOT NULL,
					category TEXT NOT NULL DEFAULT '',
					price TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('pending', 'skipped', 'purchased')),
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_decisions_user_created ON decisions(user_id, created_at)`,
				`CREATE INDEX idx_decisions_user_status ON decisions(user_id, status)`,

				`CREATE TABLE IF NOT EXISTS ledgers (
					user_id TEXT PRIMARY KEY,
					saved TEXT NOT NULL DEFAULT '0',
					updated_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS expenses (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					name TEXT NOT NULL,
					price TEXT NOT NULL,
					date DATETIME NOT NULL,
					decision_id TEXT,
					position INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_expenses_user ON expenses(user_id, position)`,
				`CREATE INDEX idx_expenses_decision ON expenses(decision_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Conversations and embeddings",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS conversations (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					decision_id TEXT NOT NULL,
					messages TEXT NOT NULL DEFAULT '[]',
					is_active INTEGER NOT NULL DEFAULT 1,
					last_updated DATETIME NOT NULL,
					UNIQUE (user_id, decision_id)
				)`,

				`CREATE TABLE IF NOT EXISTS conversation_embeddings (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					decision_id TEXT NOT NULL,
					text TEXT NOT NULL,
					summary TEXT NOT NULL,
					vector BLOB NOT NULL,
					dimension INTEGER NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_embeddings_user_created ON conversation_embeddings(user_id, created_at DESC)`,
				`CREATE INDEX idx_embeddings_decision ON conversation_embeddings(decision_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "User preferences",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS user_preferences (
					user_id TEXT PRIMARY KEY,
					preferred_categories TEXT NOT NULL DEFAULT '[]',
					price_min REAL NOT NULL DEFAULT 0,
					price_max REAL NOT NULL DEFAULT 0,
					total_decisions INTEGER NOT NULL DEFAULT 0,
					bought_count INTEGER NOT NULL DEFAULT 0,
					skipped_count INTEGER NOT NULL DEFAULT 0,
					average_price_bought REAL NOT NULL DEFAULT 0,
					average_price_skipped REAL NOT NULL DEFAULT 0,
					last_updated DATETIME NOT NULL
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Track decisions counted in preferences",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE user_preferences ADD COLUMN counted_decisions TEXT NOT NULL DEFAULT '{}'`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
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

// SchemaVersion reports the applied migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
