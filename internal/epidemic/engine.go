// Package epidemic implements the day-by-day SIRD propagation engine over a
// tract graph. Each day is computed from a snapshot of the previous day's
// compartments into pending delta buffers, then applied in one pass, so a
// tract's spread on a given day never sees partially updated neighbors.
package epidemic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/random"
	"github.com/nvandessel/cura/internal/rates"
	"github.com/nvandessel/cura/internal/tract"
)

// BaseMobilityRate is the fraction of a tract's susceptible population that
// interacts with each neighbor per day.
const BaseMobilityRate = 0.01

var (
	// ErrInvalidArgument indicates a caller-supplied count or target is out of range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownTract indicates a tract id that is not in the graph.
	ErrUnknownTract = errors.New("unknown tract")
)

// Params are the base rates of a run. The engine does not range-check them.
type Params struct {
	InfectionRate       float64 `json:"infection_rate" yaml:"infection_rate"`
	RecoveryRate        float64 `json:"recovery_rate" yaml:"recovery_rate"`
	MortalityRate       float64 `json:"mortality_rate" yaml:"mortality_rate"`
	SocioeconomicImpact float64 `json:"socioeconomic_impact" yaml:"socioeconomic_impact"`
}

// DefaultParams returns the rates used by the interactive server.
func DefaultParams() Params {
	return Params{
		InfectionRate:       0.05,
		RecoveryRate:        0.03,
		MortalityRate:       0.005,
		SocioeconomicImpact: 0,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed makes every draw of the run reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.rng = random.New(seed)
	}
}

// WithGenerator injects a custom randomness source. The seed reported by
// Seed() is 0 unless WithSeed is also given.
func WithGenerator(g random.Generator) Option {
	return func(e *Engine) {
		e.rng = g
	}
}

// WithLogger sets the engine's logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine owns a graph for the lifetime of a run and is the only code path
// that mutates its compartments. It is not safe for concurrent use; callers
// that step on one goroutine and read on another must synchronize.
type Engine struct {
	graph  *graph.Graph
	model  rates.Model
	rng    random.Generator
	seed   uint64
	logger *slog.Logger

	day  int
	last DayReport

	// Pending deltas, indexed like the graph.
	pending    []int
	recoveries []int
	deaths     []int
}

// New binds an engine to g. The national median income is computed once
// here. Without WithSeed or WithGenerator a crypto-random seed is drawn.
func New(g *graph.Graph, params Params, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("new engine: nil graph: %w", ErrInvalidArgument)
	}

	incomes := make([]float64, g.Len())
	for i := range incomes {
		incomes[i] = g.At(i).MedianIncome
	}

	e := &Engine{
		graph: g,
		model: rates.Model{
			InfectionRate:       params.InfectionRate,
			RecoveryRate:        params.RecoveryRate,
			MortalityRate:       params.MortalityRate,
			SocioeconomicImpact: params.SocioeconomicImpact,
			NationalMedian:      rates.NationalMedianIncome(incomes),
		},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:    make([]int, g.Len()),
		recoveries: make([]int, g.Len()),
		deaths:     make([]int, g.Len()),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.rng == nil {
		seed, err := random.NewSeed()
		if err != nil {
			return nil, fmt.Errorf("new engine: %w", err)
		}
		e.seed = seed
		e.rng = random.New(seed)
	}

	return e, nil
}

// Params returns the base rates the engine was built with.
func (e *Engine) Params() Params {
	return Params{
		InfectionRate:       e.model.InfectionRate,
		RecoveryRate:        e.model.RecoveryRate,
		MortalityRate:       e.model.MortalityRate,
		SocioeconomicImpact: e.model.SocioeconomicImpact,
	}
}

// Seed returns the seed of the run's generator.
func (e *Engine) Seed() uint64 {
	return e.seed
}

// Day returns the number of completed days.
func (e *Engine) Day() int {
	return e.day
}

// NationalMedian returns the median income fixed at construction.
func (e *Engine) NationalMedian() float64 {
	return e.model.NationalMedian
}

// LastDay returns the report of the most recent completed day.
func (e *Engine) LastDay() DayReport {
	return e.last
}

// Len returns the number of tracts in the engine's graph.
func (e *Engine) Len() int {
	return e.graph.Len()
}

// SeedInfection picks count distinct tracts uniformly at random and moves
// one person from susceptible to infectious in each. A chosen tract with no
// susceptible people is skipped rather than re-drawn, so the returned count
// can be lower than requested.
func (e *Engine) SeedInfection(count int) (int, error) {
	if count < 0 || count > e.graph.Len() {
		return 0, fmt.Errorf("seed %d tracts from %d: %w", count, e.graph.Len(), ErrInvalidArgument)
	}

	seeded := 0
	for _, i := range e.rng.Sample(e.graph.Len(), count) {
		t := e.graph.At(i)
		if t.Susceptible == 0 {
			continue
		}
		t.Susceptible--
		t.Infectious++
		seeded++
	}

	e.logger.Info("seeded infection", "requested", count, "seeded", seeded)
	return seeded, nil
}

// SeedInfectionAt moves up to target people from susceptible to infectious
// in one tract and returns how many were moved.
func (e *Engine) SeedInfectionAt(id string, target int) (int, error) {
	if target < 0 {
		return 0, fmt.Errorf("seed %d at %s: %w", target, id, ErrInvalidArgument)
	}
	i, ok := e.graph.Index(id)
	if !ok {
		return 0, fmt.Errorf("seed at %s: %w", id, ErrUnknownTract)
	}

	t := e.graph.At(i)
	moved := min(target, t.Susceptible)
	t.Susceptible -= moved
	t.Infectious += moved

	e.logger.Info("seeded infection at tract", "tract", id, "requested", target, "seeded", moved)
	return moved, nil
}

// SetQuarantined flags a tract as quarantined. The flag is reported in
// aggregates but does not change transmission.
func (e *Engine) SetQuarantined(id string, quarantined bool) error {
	i, ok := e.graph.Index(id)
	if !ok {
		return fmt.Errorf("quarantine %s: %w", id, ErrUnknownTract)
	}
	e.graph.At(i).Quarantined = quarantined
	return nil
}

// Graph returns a deep copy of the graph in its current state.
func (e *Engine) Graph() *graph.Graph {
	return e.graph.Clone()
}

// Tract returns a copy of one tract's current state.
func (e *Engine) Tract(id string) (tract.Tract, bool) {
	return e.graph.Tract(id)
}

// Stats summarizes the graph's current state.
func (e *Engine) Stats() Aggregate {
	return Summarize(e.graph, e.day, e.last)
}

// Tracts returns a per-tract view of the current state in graph order.
func (e *Engine) Tracts() []TractView {
	return Views(e.graph)
}
