package epidemic

import (
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/rates"
	"github.com/nvandessel/cura/internal/tract"
)

// DayReport describes what happened on one simulated day.
type DayReport struct {
	Day           int         `json:"day"`
	NewInfections int         `json:"new_infections"`
	NewRecoveries int         `json:"new_recoveries"`
	NewDeaths     int         `json:"new_deaths"`
	Rates         rates.Daily `json:"rates"`
}

// Aggregate is a read-only summary of the whole graph.
type Aggregate struct {
	Day               int `json:"day"`
	Tracts            int `json:"total_tracts"`
	TotalPopulation   int `json:"total_population"`
	Susceptible       int `json:"susceptible"`
	Infectious        int `json:"infectious"`
	Recovered         int `json:"recovered"`
	Deceased          int `json:"deceased"`
	InfectedTracts    int `json:"infected_tracts"`
	QuarantinedTracts int `json:"quarantined_areas"`

	InfectionPercent float64 `json:"infection_rate"`
	RecoveryPercent  float64 `json:"recovery_rate"`
	MortalityPercent float64 `json:"mortality_rate"`

	NewInfections int `json:"new_infections"`
	NewRecoveries int `json:"new_recoveries"`
	NewDeaths     int `json:"new_deaths"`
}

// TractView is the per-tract state surfaced for map rendering.
type TractView struct {
	ID          string  `json:"geoid"`
	Lon         float64 `json:"lon"`
	Lat         float64 `json:"lat"`
	Population  int     `json:"total_population"`
	Quarantined bool    `json:"is_quarantined"`
	tract.Compartments
}

// Summarize totals the compartments of g. last is the most recent day's
// report; the zero value means no day has run yet.
func Summarize(g *graph.Graph, day int, last DayReport) Aggregate {
	a := Aggregate{
		Day:           day,
		Tracts:        g.Len(),
		NewInfections: last.NewInfections,
		NewRecoveries: last.NewRecoveries,
		NewDeaths:     last.NewDeaths,
	}

	for i := 0; i < g.Len(); i++ {
		t := g.At(i)
		a.TotalPopulation += t.Population
		a.Susceptible += t.Susceptible
		a.Infectious += t.Infectious
		a.Recovered += t.Recovered
		a.Deceased += t.Deceased
		if t.Infectious > 0 {
			a.InfectedTracts++
		}
		if t.Quarantined {
			a.QuarantinedTracts++
		}
	}

	a.InfectionPercent = percent(a.Infectious, a.TotalPopulation)
	a.RecoveryPercent = percent(a.Recovered, a.TotalPopulation)
	a.MortalityPercent = percent(a.Deceased, a.TotalPopulation)
	return a
}

// Views returns a TractView for every tract of g in index order.
func Views(g *graph.Graph) []TractView {
	views := make([]TractView, g.Len())
	for i := range views {
		t := g.At(i)
		views[i] = TractView{
			ID:           t.ID,
			Lon:          t.Lon,
			Lat:          t.Lat,
			Population:   t.Population,
			Quarantined:  t.Quarantined,
			Compartments: t.Compartments,
		}
	}
	return views
}

func percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
