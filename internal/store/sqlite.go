package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteHistoryStore implements HistoryStore using SQLite for persistence.
type SQLiteHistoryStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteHistoryStore opens (or creates) the history database at dbPath.
func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	if err := EnsureDir(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteHistoryStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteHistoryStore) Path() string {
	return s.dbPath
}

// CreateRun inserts a run row.
func (s *SQLiteHistoryStore) CreateRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	exists, err := s.runExists(ctx, run.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create run %s: %w", run.ID, ErrDuplicateRun)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, tracts, population, seed,
			infection_rate, recovery_rate, mortality_rate, socioeconomic_impact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, createdAt.UTC().Format(time.RFC3339Nano), run.Tracts, run.Population,
		strconv.FormatUint(run.Seed, 10),
		run.InfectionRate, run.RecoveryRate, run.MortalityRate, run.SocioeconomicImpact,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// RecordDay inserts one day row for an existing run.
func (s *SQLiteHistoryStore) RecordDay(ctx context.Context, day Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.runExists(ctx, day.RunID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("record day %d for %s: %w", day.Day, day.RunID, ErrRunNotFound)
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM days WHERE run_id = ? AND day = ?`, day.RunID, day.Day).Scan(&n); err != nil {
		return fmt.Errorf("failed to check day: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("record day %d for %s: %w", day.Day, day.RunID, ErrDuplicateDay)
	}

	recordedAt := day.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO days (run_id, day, susceptible, infectious, recovered, deceased,
			infected_tracts, new_infections, new_recoveries, new_deaths,
			infection_rate, recovery_rate, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		day.RunID, day.Day, day.Susceptible, day.Infectious, day.Recovered, day.Deceased,
		day.InfectedTracts, day.NewInfections, day.NewRecoveries, day.NewDeaths,
		day.InfectionRate, day.RecoveryRate, recordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert day: %w", err)
	}
	return nil
}

// Days returns the recorded days of a run in order.
func (s *SQLiteHistoryStore) Days(ctx context.Context, runID string) ([]Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("days for %s: %w", runID, ErrRunNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, day, susceptible, infectious, recovered, deceased,
			infected_tracts, new_infections, new_recoveries, new_deaths,
			infection_rate, recovery_rate, recorded_at
		FROM days WHERE run_id = ? ORDER BY day`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	var days []Day
	for rows.Next() {
		var d Day
		var recordedAt string
		if err := rows.Scan(&d.RunID, &d.Day, &d.Susceptible, &d.Infectious, &d.Recovered, &d.Deceased,
			&d.InfectedTracts, &d.NewInfections, &d.NewRecoveries, &d.NewDeaths,
			&d.InfectionRate, &d.RecoveryRate, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		d.RecordedAt = parseTime(recordedAt)
		days = append(days, d)
	}
	return days, rows.Err()
}

// Runs returns all runs, newest first.
func (s *SQLiteHistoryStore) Runs(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, tracts, population, seed,
			infection_rate, recovery_rate, mortality_rate, socioeconomic_impact
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt, seed string
		if err := rows.Scan(&r.ID, &createdAt, &r.Tracts, &r.Population, &seed,
			&r.InfectionRate, &r.RecoveryRate, &r.MortalityRate, &r.SocioeconomicImpact); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.Seed, err = strconv.ParseUint(seed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("run %s: invalid seed %q: %w", r.ID, seed, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *SQLiteHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteHistoryStore) runExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up run %s: %w", id, err)
	}
	return true, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
