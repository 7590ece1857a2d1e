// Package rates computes the daily effective transmission rates and the
// per-tract socioeconomic transmission multiplier.
package rates

import (
	"math"
	"sort"

	"github.com/nvandessel/cura/internal/random"
)

// Jitter and clamp constants for the daily rate draw.
const (
	InfectionJitterSigma = 0.10
	RecoveryJitterSigma  = 0.05
	MinRate              = 0.001
	MaxRecoveryRate      = 0.5
)

// DefaultMedianIncome is used when no tract reports a positive income.
const DefaultMedianIncome = 70000.0

// Socioeconomic multiplier shape.
const (
	lowIncomeSlope  = 0.5
	highIncomeSlope = 0.25
	highIncomeFloor = 0.6
)

// Model holds the base rates of a run and the national median income.
type Model struct {
	InfectionRate       float64
	RecoveryRate        float64
	MortalityRate       float64
	SocioeconomicImpact float64
	NationalMedian      float64
}

// Daily are the effective rates drawn for one simulated day.
type Daily struct {
	Infection float64 `json:"infection"`
	Recovery  float64 `json:"recovery"`
	Mortality float64 `json:"mortality"`
}

// Draw produces the day's effective rates. One normal draw is made for
// infection and one for recovery, in that order; mortality is not jittered.
func (m Model) Draw(rng random.Generator) Daily {
	infection := m.InfectionRate * rng.Normal(1.0, InfectionJitterSigma)
	recovery := m.RecoveryRate * rng.Normal(1.0, RecoveryJitterSigma)
	return Daily{
		Infection: math.Max(MinRate, infection),
		Recovery:  math.Min(MaxRecoveryRate, math.Max(MinRate, recovery)),
		Mortality: m.MortalityRate,
	}
}

// SocioeconomicFactor returns the transmission multiplier for a tract with
// the given median household income. Income <= 0 is neutral.
func (m Model) SocioeconomicFactor(income float64) float64 {
	if income <= 0 {
		return 1.0
	}
	median := m.NationalMedian
	if median <= 0 {
		median = DefaultMedianIncome
	}

	ratio := income / median
	var base float64
	if ratio < 1.0 {
		base = 1.0 + (1.0-ratio)*lowIncomeSlope
	} else {
		base = math.Max(highIncomeFloor, 1.0-(ratio-1.0)*highIncomeSlope)
	}
	return 1.0 + m.SocioeconomicImpact*(base-1.0)
}

// NationalMedianIncome returns the median of the positive incomes, or
// DefaultMedianIncome when there are none.
func NationalMedianIncome(incomes []float64) float64 {
	positive := make([]float64, 0, len(incomes))
	for _, v := range incomes {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return DefaultMedianIncome
	}
	sort.Float64s(positive)
	mid := len(positive) / 2
	if len(positive)%2 == 1 {
		return positive[mid]
	}
	return (positive[mid-1] + positive[mid]) / 2
}
