// Package store defines the HistoryStore interface for persisting run
// metadata and per-day aggregates, with SQLite and in-memory backends.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRunNotFound is returned when a day is recorded or queried for an
	// unknown run.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when a run id is created twice.
	ErrDuplicateRun = errors.New("run already exists")

	// ErrDuplicateDay is returned when a run's day is recorded twice.
	ErrDuplicateDay = errors.New("day already recorded")
)

// Run describes one simulation run.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Tracts     int       `json:"tracts"`
	Population int       `json:"population"`
	Seed       uint64    `json:"seed"`

	InfectionRate       float64 `json:"infection_rate"`
	RecoveryRate        float64 `json:"recovery_rate"`
	MortalityRate       float64 `json:"mortality_rate"`
	SocioeconomicImpact float64 `json:"socioeconomic_impact"`
}

// Day is the aggregate state of a run at the end of one simulated day.
type Day struct {
	RunID string `json:"run_id"`
	Day   int    `json:"day"`

	Susceptible    int `json:"susceptible"`
	Infectious     int `json:"infectious"`
	Recovered      int `json:"recovered"`
	Deceased       int `json:"deceased"`
	InfectedTracts int `json:"infected_tracts"`

	NewInfections int `json:"new_infections"`
	NewRecoveries int `json:"new_recoveries"`
	NewDeaths     int `json:"new_deaths"`

	InfectionRate float64   `json:"effective_infection_rate"` // jittered rate drawn for the day
	RecoveryRate  float64   `json:"effective_recovery_rate"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// HistoryStore persists runs and their daily aggregates.
type HistoryStore interface {
	// CreateRun registers a run. Days can only be recorded for known runs.
	CreateRun(ctx context.Context, run Run) error

	// RecordDay appends one day to a run's history.
	RecordDay(ctx context.Context, day Day) error

	// Days returns a run's history ordered by day.
	Days(ctx context.Context, runID string) ([]Day, error)

	// Runs returns all runs, newest first.
	Runs(ctx context.Context) ([]Run, error)

	Close() error
}
