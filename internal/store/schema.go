package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migrations[i] brings the database from version i to i+1.
var migrations = []string{
	`
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    tracts INTEGER NOT NULL,
    population INTEGER NOT NULL,
    seed TEXT NOT NULL,  -- uint64 does not fit INTEGER
    infection_rate REAL NOT NULL,
    recovery_rate REAL NOT NULL,
    mortality_rate REAL NOT NULL,
    socioeconomic_impact REAL NOT NULL
);
CREATE INDEX idx_runs_created ON runs(created_at);

CREATE TABLE days (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    day INTEGER NOT NULL,
    susceptible INTEGER NOT NULL,
    infectious INTEGER NOT NULL,
    recovered INTEGER NOT NULL,
    deceased INTEGER NOT NULL,
    infected_tracts INTEGER NOT NULL,
    new_infections INTEGER NOT NULL,
    new_recoveries INTEGER NOT NULL,
    new_deaths INTEGER NOT NULL,
    infection_rate REAL NOT NULL,
    recovery_rate REAL NOT NULL,
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (run_id, day)
);
`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

// InitSchema migrates db to SchemaVersion. An existing database is
// integrity-checked first; one written by a newer cura is refused.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	if current > 0 {
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	for v := current; v < SchemaVersion; v++ {
		if err := migrate(ctx, db, v+1, migrations[v]); err != nil {
			return fmt.Errorf("migrate to version %d: %w", v+1, err)
		}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB, version int, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateIntegrity fails unless PRAGMA integrity_check reports ok and
// PRAGMA foreign_key_check reports nothing.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	var problems []string

	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("integrity_check: %w", err)
	}
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			rows.Close()
			return fmt.Errorf("integrity_check: %w", err)
		}
		if result != "ok" {
			problems = append(problems, result)
		}
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `PRAGMA foreign_key_check`)
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
		problems = append(problems, fmt.Sprintf("%s row %d references missing %s", table, rowid.Int64, parent))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
