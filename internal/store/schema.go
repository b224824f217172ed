package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the SQLite store.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    ensemble_id TEXT,
    replicate INTEGER NOT NULL DEFAULT 0,
    seed INTEGER NOT NULL,
    sites INTEGER NOT NULL,
    horizon REAL NOT NULL,
    config TEXT,             -- JSON SimConfig
    status TEXT NOT NULL,    -- idle, running, absorbed, horizon_reached
    final_time REAL NOT NULL DEFAULT 0,
    events INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_ensemble ON runs(ensemble_id);

-- One row per recorded trajectory point, with aggregates for cheap listing
CREATE TABLE IF NOT EXISTS samples (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    time REAL NOT NULL,
    events INTEGER NOT NULL,
    status TEXT NOT NULL,
    total_cells INTEGER NOT NULL,
    resistant_share REAL NOT NULL,
    PRIMARY KEY (run_id, seq)
);

-- Per-site population at each sample
CREATE TABLE IF NOT EXISTS site_counts (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    site INTEGER NOT NULL,
    capacity INTEGER NOT NULL,
    non_resistant INTEGER NOT NULL,
    resistant_a INTEGER NOT NULL,
    resistant_b INTEGER NOT NULL,
    resistant_ab INTEGER NOT NULL,
    drug_a REAL NOT NULL,
    drug_b REAL NOT NULL,
    PRIMARY KEY (run_id, seq, site),
    FOREIGN KEY (run_id, seq) REFERENCES samples(run_id, seq) ON DELETE CASCADE
);

`

// InitSchema creates the tables on a fresh database (user_version 0) and
// checks the integrity of an existing one.
func InitSchema(ctx context.Context, db *sql.DB) error {
	version, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	switch {
	case version == 0:
		return createSchema(ctx, db)
	case version > SchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}
	if err := CheckIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}
	return nil
}

// schemaVersion reads PRAGMA user_version, which is 0 on a new file.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	// PRAGMA takes no bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// CheckIntegrity runs PRAGMA quick_check and PRAGMA foreign_key_check and
// reports every problem found.
func CheckIntegrity(ctx context.Context, db *sql.DB) error {
	var errs []error

	problems, err := pragmaStrings(ctx, db, `PRAGMA quick_check`)
	if err != nil {
		return err
	}
	for _, p := range problems {
		if p != "ok" {
			errs = append(errs, fmt.Errorf("quick_check: %s", p))
		}
	}

	rows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("foreign_key_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("foreign_key_check: %w", err)
		}
		errs = append(errs, fmt.Errorf("orphaned %s row %d references %s", table, rowid.Int64, parent))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func pragmaStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", query, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%s: %w", query, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ResetSchema drops every table and recreates them. Tests only.
func ResetSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"site_counts", "samples", "runs"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	if _, err := db.ExecContext(ctx, `PRAGMA user_version = 0`); err != nil {
		return fmt.Errorf("clear schema version: %w", err)
	}
	return InitSchema(ctx, db)
}
