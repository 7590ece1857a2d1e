package epidemic

import (
	"fmt"
	"math"

	"github.com/nvandessel/cura/internal/rates"
	"github.com/nvandessel/cura/internal/tract"
)

// Step advances the simulation by one day and returns that day's report.
//
// Algorithm:
//  1. Draw the day's effective infection and recovery rates.
//  2. For every infectious tract, compute from the pre-day state:
//     intra-tract infections, flow to each neighbor, recoveries, deaths.
//  3. Apply all pending deltas, clamping new infections to susceptible.
//  4. Increment the day counter.
func (e *Engine) Step() DayReport {
	daily := e.model.Draw(e.rng)

	clear(e.pending)
	clear(e.recoveries)
	clear(e.deaths)

	// Compute phase: nothing below mutates a tract.
	n := e.graph.Len()
	for i := 0; i < n; i++ {
		t := e.graph.At(i)
		if t.Infectious <= 0 {
			continue
		}

		e.pending[i] += e.intraTract(t, daily.Infection)

		pressure := 0.0
		if t.Population > 0 {
			pressure = float64(t.Infectious) / float64(t.Population)
		}
		for _, j := range e.graph.Neighbors(i) {
			nb := e.graph.At(j)
			if nb.Susceptible <= 0 {
				continue
			}
			e.pending[j] += e.interTract(pressure, nb.Susceptible)
		}

		e.recoveries[i], e.deaths[i] = outcomes(t.Infectious, daily)
	}

	// Apply phase.
	report := DayReport{Day: e.day + 1, Rates: daily}
	for i := 0; i < n; i++ {
		t := e.graph.At(i)
		infections := min(t.Susceptible, e.pending[i])

		t.Susceptible -= infections
		t.Infectious += infections
		t.Infectious -= e.recoveries[i] + e.deaths[i]
		t.Recovered += e.recoveries[i]
		t.Deceased += e.deaths[i]

		report.NewInfections += infections
		report.NewRecoveries += e.recoveries[i]
		report.NewDeaths += e.deaths[i]
	}

	e.day++
	e.last = report

	e.logger.Debug("day complete",
		"day", report.Day,
		"new_infections", report.NewInfections,
		"new_recoveries", report.NewRecoveries,
		"new_deaths", report.NewDeaths,
		"infection_rate", daily.Infection,
		"recovery_rate", daily.Recovery,
	)
	return report
}

// Run advances the simulation exactly days times.
func (e *Engine) Run(days int) ([]DayReport, error) {
	if days < 0 {
		return nil, fmt.Errorf("run %d days: %w", days, ErrInvalidArgument)
	}
	reports := make([]DayReport, 0, days)
	for d := 0; d < days; d++ {
		reports = append(reports, e.Step())
	}
	return reports, nil
}

// intraTract returns new infections arising inside t. Any potential in
// (0, 1) becomes exactly one infection so a single case can still grow.
func (e *Engine) intraTract(t *tract.Tract, infectionRate float64) int {
	if t.Population <= 0 {
		return 0
	}
	densityFactor := t.Density/1000 + 1
	socio := e.model.SocioeconomicFactor(t.MedianIncome)

	potential := infectionRate * densityFactor * socio *
		float64(t.Susceptible) * float64(t.Infectious) / float64(t.Population)

	var infections int
	if potential > 0 && potential < 1 {
		infections = 1
	} else {
		infections = roundCount(potential)
	}
	return min(t.Susceptible, infections)
}

// interTract returns infections carried into a neighbor with the given
// susceptible count from a source with the given infection pressure.
func (e *Engine) interTract(pressure float64, susceptible int) int {
	expected := pressure * BaseMobilityRate * float64(susceptible)
	if expected <= 0 {
		return 0
	}

	var infections int
	if expected < 1 {
		if e.rng.Float64() < expected {
			infections = 1
		}
	} else {
		infections = e.rng.Poisson(expected)
	}
	return min(susceptible, max(0, infections))
}

// outcomes resolves recoveries first; deaths take what remains of the
// infectious pool.
func outcomes(infectious int, daily rates.Daily) (recoveries, deaths int) {
	recoveries = min(infectious, roundCount(float64(infectious)*daily.Recovery))
	deaths = min(infectious-recoveries, roundCount(float64(infectious)*daily.Mortality))
	return recoveries, deaths
}

// roundCount rounds to nearest, ties to even, and never returns a negative
// count.
func roundCount(x float64) int {
	if x <= 0 || math.IsNaN(x) {
		return 0
	}
	if math.IsInf(x, 1) || x > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.RoundToEven(x))
}
