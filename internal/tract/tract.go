// Package tract defines the census tract entity that forms a node of the
// epidemic graph: static geography and demographics, reserved modifiers,
// and the four SIRD compartment counts.
package tract

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// BedsPerPerson is the default healthcare capacity ratio (~1 bed per 1,000 people).
const BedsPerPerson = 0.001

// Compartments holds the SIRD split of a tract's population.
type Compartments struct {
	Susceptible int `json:"susceptible_pop"`
	Infectious  int `json:"infectious_pop"`
	Recovered   int `json:"recovered_pop"`
	Deceased    int `json:"deceased_pop"`
}

// Total returns the sum of all four compartments.
func (c Compartments) Total() int {
	return c.Susceptible + c.Infectious + c.Recovered + c.Deceased
}

// NonNegative reports whether every compartment is >= 0.
func (c Compartments) NonNegative() bool {
	return c.Susceptible >= 0 && c.Infectious >= 0 && c.Recovered >= 0 && c.Deceased >= 0
}

// Tract is a single geographic region of the simulation graph.
//
// Only the embedded Compartments change during a run, and only through the
// epidemic engine. Everything else is fixed at load time.
type Tract struct {
	ID string `json:"id"`

	Lon          float64 `json:"lon"`
	Lat          float64 `json:"lat"`
	Population   int     `json:"population"`
	AreaKm2      float64 `json:"area_km2"`
	Density      float64 `json:"population_density"` // people per km^2
	MedianIncome float64 `json:"median_income"`      // 0 means unknown

	Neighbors []string `json:"neighbors"`

	Compartments

	// Reserved modifiers. They are carried with the tract but the
	// transition logic does not read them.
	MobilityFactor     float64 `json:"mobility_factor"`
	ClimateFactor      float64 `json:"climate_factor"`
	HealthcareCapacity int     `json:"healthcare_capacity"`
	Quarantined        bool    `json:"is_quarantined"`
}

// New returns a fully populated tract with the whole population susceptible.
func New(id string, lon, lat float64, population int, areaKm2, density, medianIncome float64) Tract {
	if population < 0 {
		population = 0
	}
	return Tract{
		ID:                 id,
		Lon:                lon,
		Lat:                lat,
		Population:         population,
		AreaKm2:            areaKm2,
		Density:            density,
		MedianIncome:       medianIncome,
		Compartments:       Compartments{Susceptible: population},
		MobilityFactor:     1.0,
		ClimateFactor:      1.0,
		HealthcareCapacity: max(1, int(math.RoundToEven(float64(population)*BedsPerPerson))),
	}
}

// SetNeighbors replaces the neighbor list, dropping self references and
// duplicates while preserving first-seen order.
func (t *Tract) SetNeighbors(ids []string) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == t.ID || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	t.Neighbors = out
}

// Degree returns the number of neighbors.
func (t *Tract) Degree() int {
	return len(t.Neighbors)
}

// Location returns the tract centroid as an orb point (lon, lat).
func (t *Tract) Location() orb.Point {
	return orb.Point{t.Lon, t.Lat}
}

// DistanceKm returns the great-circle distance between two tract centroids.
func (t *Tract) DistanceKm(other *Tract) float64 {
	return geo.DistanceHaversine(t.Location(), other.Location()) / 1000.0
}

// Conserved reports whether the compartments are non-negative and sum to
// the population.
func (t *Tract) Conserved() bool {
	return t.Compartments.NonNegative() && t.Compartments.Total() == t.Population
}
