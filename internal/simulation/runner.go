package simulation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/store"
	"github.com/nvandessel/cura/internal/tract"
)

// Runner orchestrates multi-day simulation experiments against a real
// history store and epidemic engine.
type Runner struct {
	t     *testing.T
	store *store.SQLiteHistoryStore
}

// NewRunner creates a simulation runner with an isolated SQLite store
// and sandboxed HOME directory.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := store.NewSQLiteHistoryStore(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("NewRunner: failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &Runner{t: t, store: s}
}

// Run executes the scenario and returns the collected results.
func (r *Runner) Run(scenario Scenario) SimulationResult {
	r.t.Helper()
	ctx := context.Background()

	// Phase 1: Build the graph.
	tracts := make([]tract.Tract, len(scenario.Tracts))
	for i, s := range scenario.Tracts {
		tracts[i] = s.ToTract()
	}
	g, err := graph.New(tracts)
	if err != nil {
		r.t.Fatalf("Run(%s): build graph: %v", scenario.Name, err)
	}

	d, err := runner.New(g, runner.WithHistory(r.store))
	if err != nil {
		r.t.Fatalf("Run(%s): new runner: %v", scenario.Name, err)
	}
	defer d.Close()

	// Phase 2: Create the run and seed it.
	params := epidemic.DefaultParams()
	if scenario.Params != nil {
		params = *scenario.Params
	}
	first, rest := r.initial(scenario)
	snap, err := d.Create(ctx, runner.StartRequest{
		Params:       params,
		Seed:         scenario.Seed,
		InitialTract: first,
		InitialCount: scenario.Infect[first],
	})
	if err != nil {
		r.t.Fatalf("Run(%s): create: %v", scenario.Name, err)
	}
	for _, id := range rest {
		if _, err := d.SeedMore(id, scenario.Infect[id]); err != nil {
			r.t.Fatalf("Run(%s): seed %s: %v", scenario.Name, id, err)
		}
	}

	result := SimulationResult{
		Name:    scenario.Name,
		RunID:   snap.RunID,
		Seed:    snap.Seed,
		History: r.store,
	}
	result.Days = append(result.Days, capture(d.Snapshot()))

	// Phase 3: Step days.
	for day := 1; day <= scenario.Days; day++ {
		if scenario.BeforeDay != nil {
			scenario.BeforeDay(day, d)
		}
		if _, err := d.Step(ctx, 1); err != nil {
			r.t.Fatalf("Run(%s): day %d: %v", scenario.Name, day, err)
		}
		dr := capture(d.Snapshot())
		result.Days = append(result.Days, dr)
		if scenario.StopWhenClear && dr.Stats.Infectious == 0 {
			break
		}
	}

	return result
}

// initial splits the scenario's seeding into the tract handed to Create
// and the tracts seeded afterwards.
func (r *Runner) initial(scenario Scenario) (string, []string) {
	r.t.Helper()
	var ids []string
	for _, s := range scenario.Tracts {
		if scenario.Infect[s.ID] > 0 {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		r.t.Fatalf("Run(%s): scenario infects no known tract", scenario.Name)
	}
	return ids[0], ids[1:]
}

func capture(snap *runner.Snapshot) DayResult {
	dr := DayResult{
		Day:    snap.Stats.Day,
		Report: snap.LastDay,
		Stats:  snap.Stats,
		Tracts: make(map[string]tract.Compartments, len(snap.Tracts)),
	}
	for _, v := range snap.Tracts {
		dr.Tracts[v.ID] = v.Compartments
	}
	return dr
}
