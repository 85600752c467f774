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

var migrations = []Migration{
	{
		Version:     1,
		Description: "Customers and matching rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS customers (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					organization_id TEXT,
					created_at DATETIME NOT NULL
				)`,

				// Global rules store an empty customer_name so the unique
				// index covers both scopes.
				`CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					scope TEXT NOT NULL CHECK (scope IN ('custom', 'global')),
					customer_name TEXT NOT NULL DEFAULT '',
					priority INTEGER NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					classification TEXT NOT NULL,
					charge_group_heading TEXT,
					enabled INTEGER NOT NULL DEFAULT 1,
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE UNIQUE INDEX idx_rules_scope_priority ON rules(scope, customer_name, priority)`,

				`CREATE TABLE IF NOT EXISTS rule_conditions (
					rule_id INTEGER NOT NULL,
					position INTEGER NOT NULL,
					field TEXT NOT NULL,
					operator TEXT NOT NULL,
					value TEXT NOT NULL,
					PRIMARY KEY (rule_id, position),
					FOREIGN KEY (rule_id) REFERENCES rules(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_rule_conditions_value ON rule_conditions(field, value)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Charges and classification history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS charges (
					id TEXT PRIMARY KEY,
					customer_name TEXT NOT NULL,
					statement_id TEXT NOT NULL DEFAULT '',
					statement_date DATETIME,
					provider_name TEXT,
					account_number TEXT,
					meter_number TEXT,
					charge_name TEXT NOT NULL,
					usage_unit TEXT,
					service_type TEXT,
					measurement TEXT,
					classification TEXT NOT NULL DEFAULT 'ch.uncategorized_charge',
					contribution_status TEXT NOT NULL DEFAULT 'non_contributing',
					updated_at DATETIME
				)`,
				`CREATE INDEX idx_charges_customer_classification ON charges(customer_name, classification)`,
				`CREATE INDEX idx_charges_customer_date ON charges(customer_name, statement_date)`,

				`CREATE TABLE IF NOT EXISTS classification_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					charge_id TEXT NOT NULL,
					old_classification TEXT NOT NULL,
					new_classification TEXT NOT NULL,
					rule_id INTEGER,
					run_id TEXT,
					changed_at DATETIME NOT NULL,
					FOREIGN KEY (charge_id) REFERENCES charges(id)
				)`,
				`CREATE INDEX idx_classification_history_charge_id ON classification_history(charge_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Apply run audit log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS apply_runs (
					id TEXT PRIMARY KEY,
					customer_name TEXT NOT NULL,
					rule_id INTEGER,
					succeeded INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					unchanged INTEGER NOT NULL DEFAULT 0,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_apply_runs_customer ON apply_runs(customer_name, started_at)`,
				`CREATE INDEX idx_classification_history_run_id ON classification_history(run_id)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Add rule approval tracking",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`ALTER TABLE rules ADD COLUMN approved INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE rules ADD COLUMN validated_by TEXT`,
				`ALTER TABLE rules ADD COLUMN validated_at DATETIME`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// Migrate runs all database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return storeError("get schema version", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return storeError("begin migration", txErr)
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

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, storeError("get schema version", err)
	}
	return version, nil
}
