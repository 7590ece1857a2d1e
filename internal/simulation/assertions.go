package simulation

import (
	"context"
	"testing"
)

// AssertConserved asserts that every tract's compartments sum to its
// population on every captured day.
func AssertConserved(t *testing.T, result SimulationResult, populations map[string]int) {
	t.Helper()
	for _, d := range result.Days {
		for id, c := range d.Tracts {
			if c.Total() != populations[id] {
				t.Errorf("AssertConserved: day %d: tract %s sums to %d, population %d", d.Day, id, c.Total(), populations[id])
			}
		}
	}
}

// AssertNonNegative asserts that no compartment ever goes below zero.
func AssertNonNegative(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, d := range result.Days {
		for id, c := range d.Tracts {
			if !c.NonNegative() {
				t.Errorf("AssertNonNegative: day %d: tract %s has %+v", d.Day, id, c)
			}
		}
	}
}

// AssertMonotone asserts that susceptible never grows while recovered and
// deceased never shrink, tract by tract, from afterDay onward. Seeding
// moves people out of susceptible, so mid-run seeding keeps this intact.
func AssertMonotone(t *testing.T, result SimulationResult, afterDay int) {
	t.Helper()
	for i := afterDay + 1; i < len(result.Days); i++ {
		prev, cur := result.Days[i-1], result.Days[i]
		for id, c := range cur.Tracts {
			p := prev.Tracts[id]
			if c.Susceptible > p.Susceptible {
				t.Errorf("AssertMonotone: day %d: tract %s susceptible rose %d -> %d", cur.Day, id, p.Susceptible, c.Susceptible)
			}
			if c.Recovered < p.Recovered {
				t.Errorf("AssertMonotone: day %d: tract %s recovered fell %d -> %d", cur.Day, id, p.Recovered, c.Recovered)
			}
			if c.Deceased < p.Deceased {
				t.Errorf("AssertMonotone: day %d: tract %s deceased fell %d -> %d", cur.Day, id, p.Deceased, c.Deceased)
			}
		}
	}
}

// AssertReached asserts that tract id had infectious people by byDay.
func AssertReached(t *testing.T, result SimulationResult, id string, byDay int) {
	t.Helper()
	first := result.FirstInfected(id)
	if first < 0 || first > byDay {
		t.Errorf("AssertReached: tract %s first infected on day %d, want <= %d", id, first, byDay)
	}
}

// AssertNeverInfected asserts that tract id stayed fully outside the
// infectious, recovered and deceased compartments.
func AssertNeverInfected(t *testing.T, result SimulationResult, id string) {
	t.Helper()
	for _, d := range result.Days {
		c := d.Tracts[id]
		if c.Infectious != 0 || c.Recovered != 0 || c.Deceased != 0 {
			t.Errorf("AssertNeverInfected: day %d: tract %s has %+v", d.Day, id, c)
			return
		}
	}
}

// AssertIdentical asserts that two results captured the same per-tract
// trajectory.
func AssertIdentical(t *testing.T, a, b SimulationResult) {
	t.Helper()
	if len(a.Days) != len(b.Days) {
		t.Fatalf("AssertIdentical: %d days vs %d days", len(a.Days), len(b.Days))
	}
	for i := range a.Days {
		da, db := a.Days[i], b.Days[i]
		if da.Report.NewInfections != db.Report.NewInfections ||
			da.Report.NewRecoveries != db.Report.NewRecoveries ||
			da.Report.NewDeaths != db.Report.NewDeaths {
			t.Errorf("AssertIdentical: day %d reports differ: %+v vs %+v", da.Day, da.Report, db.Report)
		}
		for id, ca := range da.Tracts {
			if cb := db.Tracts[id]; ca != cb {
				t.Errorf("AssertIdentical: day %d: tract %s %+v vs %+v", da.Day, id, ca, cb)
			}
		}
	}
}

// AssertHistoryMatches asserts that the persisted day rows agree with the
// captured aggregates.
func AssertHistoryMatches(t *testing.T, result SimulationResult) {
	t.Helper()
	days, err := result.History.Days(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("AssertHistoryMatches: Days: %v", err)
	}
	if len(days) != len(result.Days)-1 {
		t.Fatalf("AssertHistoryMatches: %d rows persisted, want %d", len(days), len(result.Days)-1)
	}
	for i, row := range days {
		want := result.Days[i+1]
		if row.Day != want.Day {
			t.Errorf("AssertHistoryMatches: row %d is day %d, want %d", i, row.Day, want.Day)
		}
		if row.Susceptible != want.Stats.Susceptible ||
			row.Infectious != want.Stats.Infectious ||
			row.Recovered != want.Stats.Recovered ||
			row.Deceased != want.Stats.Deceased {
			t.Errorf("AssertHistoryMatches: day %d: row %+v, stats %+v", row.Day, row, want.Stats)
		}
		if row.NewInfections != want.Report.NewInfections {
			t.Errorf("AssertHistoryMatches: day %d: new infections %d, want %d", row.Day, row.NewInfections, want.Report.NewInfections)
		}
	}
}

// Populations indexes TractSpec populations by id for AssertConserved.
func Populations(specs []TractSpec) map[string]int {
	m := make(map[string]int, len(specs))
	for _, s := range specs {
		m[s.ID] = s.Population
	}
	return m
}
