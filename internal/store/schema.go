package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is bumped when the table layout changes.
const schemaVersion = 1

// InitSchema creates the run persistence tables if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_info (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			config     TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trial_results (
			run_id      TEXT NOT NULL REFERENCES runs(id),
			trial_index INTEGER NOT NULL,
			ranks       TEXT NOT NULL,
			warnings    TEXT NOT NULL,
			PRIMARY KEY (run_id, trial_index)
		)`,
		`CREATE TABLE IF NOT EXISTS trial_skips (
			run_id      TEXT NOT NULL REFERENCES runs(id),
			trial_index INTEGER NOT NULL,
			PRIMARY KEY (run_id, trial_index)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_info`).Scan(&count); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if count == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_info LIMIT 1`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("database schema version %d, this build expects %d", version, schemaVersion)
	}
	return nil
}
