// Package simulation provides a multi-day test harness for validating the
// emergent dynamics of the epidemic engine.
//
// The harness exercises the real Runner, Engine and SQLiteHistoryStore with
// no mocks. Scenarios are Go builders that lay out small tract graphs, seed
// them, and step a configurable number of days, capturing per-tract
// compartment snapshots for property-based assertions.
//
// Each test gets an isolated SQLite database via t.TempDir() and a sandboxed
// HOME to prevent touching user data.
//
// Usage:
//
//	func TestLineSpread(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:   "line-spread",
//	        Tracts: simulation.Line(3, 1000),
//	        Seed:   7,
//	        Infect: map[string]int{"T00": 50},
//	        Days:   30,
//	    })
//	    simulation.AssertConserved(t, result)
//	    simulation.AssertReached(t, result, "T02", 30)
//	}
package simulation
