package simulation

import (
	"fmt"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/store"
	"github.com/nvandessel/cura/internal/tract"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name   string
	Tracts []TractSpec

	// Params defaults to epidemic.DefaultParams when nil.
	Params *epidemic.Params
	Seed   uint64

	// Infect maps tract ids to their initial infectious count. Tracts are
	// seeded in id order of the Tracts slice, not map order.
	Infect map[string]int

	Days int

	// StopWhenClear ends the run early once no tract is infectious.
	StopWhenClear bool

	// BeforeDay, when non-nil, is called before day (1-based) is stepped.
	// Use this to add infections mid-run.
	BeforeDay func(day int, r *runner.Runner)
}

// TractSpec is a flat builder for a census tract.
type TractSpec struct {
	ID           string
	Lon, Lat     float64
	Population   int
	Density      float64
	MedianIncome float64
	Neighbors    []string
}

// ToTract converts a TractSpec into a fully susceptible tract.
func (s TractSpec) ToTract() tract.Tract {
	area := 0.0
	if s.Density > 0 {
		area = float64(s.Population) / s.Density
	}
	t := tract.New(s.ID, s.Lon, s.Lat, s.Population, area, s.Density, s.MedianIncome)
	t.SetNeighbors(s.Neighbors)
	return t
}

// DayResult captures the graph at the end of one day. Day 0 is the seeded
// state before any step.
type DayResult struct {
	Day    int
	Report epidemic.DayReport
	Stats  epidemic.Aggregate
	Tracts map[string]tract.Compartments
}

// SimulationResult holds all collected data from a scenario run.
type SimulationResult struct {
	Name    string
	RunID   string
	Seed    uint64
	Days    []DayResult
	History *store.SQLiteHistoryStore
}

// Final returns the last captured day.
func (r SimulationResult) Final() DayResult {
	return r.Days[len(r.Days)-1]
}

// FirstInfected returns the first day tract id had infectious people, or
// -1 if it never did.
func (r SimulationResult) FirstInfected(id string) int {
	for _, d := range r.Days {
		if d.Tracts[id].Infectious > 0 {
			return d.Day
		}
	}
	return -1
}

// TractID formats the id of the i-th tract built by the layout helpers.
func TractID(i int) string {
	return fmt.Sprintf("T%02d", i)
}

// Line lays out n tracts in a chain T00 - T01 - ... with the given
// population each.
func Line(n, population int) []TractSpec {
	specs := make([]TractSpec, n)
	for i := range n {
		specs[i] = spec(i, float64(i)*0.01, 0, population)
		if i > 0 {
			specs[i].Neighbors = append(specs[i].Neighbors, TractID(i-1))
		}
		if i < n-1 {
			specs[i].Neighbors = append(specs[i].Neighbors, TractID(i+1))
		}
	}
	return specs
}

// Grid lays out a w by h lattice with four-way adjacency. Tract (x, y) has
// id TractID(y*w + x).
func Grid(w, h, population int) []TractSpec {
	specs := make([]TractSpec, 0, w*h)
	for y := range h {
		for x := range w {
			s := spec(y*w+x, float64(x)*0.01, float64(y)*0.01, population)
			if x > 0 {
				s.Neighbors = append(s.Neighbors, TractID(y*w+x-1))
			}
			if x < w-1 {
				s.Neighbors = append(s.Neighbors, TractID(y*w+x+1))
			}
			if y > 0 {
				s.Neighbors = append(s.Neighbors, TractID((y-1)*w+x))
			}
			if y < h-1 {
				s.Neighbors = append(s.Neighbors, TractID((y+1)*w+x))
			}
			specs = append(specs, s)
		}
	}
	return specs
}

func spec(i int, lon, lat float64, population int) TractSpec {
	return TractSpec{
		ID:           TractID(i),
		Lon:          -122.4 + lon,
		Lat:          37.7 + lat,
		Population:   population,
		Density:      1000,
		MedianIncome: 60000,
	}
}
