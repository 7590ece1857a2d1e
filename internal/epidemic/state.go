package epidemic

import (
	"fmt"

	"github.com/nvandessel/cura/internal/random"
	"github.com/nvandessel/cura/internal/tract"
)

// State is the restorable part of a run: the day counter, the last day's
// report, every tract's compartments and, when the generator supports it,
// the generator's stream position.
type State struct {
	Day          int                           `json:"day"`
	Seed         uint64                        `json:"seed"`
	Params       Params                        `json:"params"`
	LastDay      DayReport                     `json:"last_day"`
	Compartments map[string]tract.Compartments `json:"compartments"`
	Generator    []byte                        `json:"generator,omitempty"`
}

// State captures the current state of the run.
func (e *Engine) State() State {
	s := State{
		Day:          e.day,
		Seed:         e.seed,
		Params:       e.Params(),
		LastDay:      e.last,
		Compartments: make(map[string]tract.Compartments, e.graph.Len()),
	}
	for i := 0; i < e.graph.Len(); i++ {
		t := e.graph.At(i)
		s.Compartments[t.ID] = t.Compartments
	}
	if sn, ok := e.rng.(random.Snapshotter); ok {
		b, err := sn.MarshalBinary()
		if err != nil {
			e.logger.Warn("generator position not captured", "error", err)
		} else {
			s.Generator = b
		}
	}
	return s
}

// Restore overwrites the day counter and compartments from s. Every tract
// in the graph must be present and conserved; on any mismatch nothing is
// changed. A captured generator position is restored when the engine's
// generator supports it; without one the generator continues from wherever
// it is.
func (e *Engine) Restore(s State) error {
	if s.Day < 0 {
		return fmt.Errorf("restore day %d: %w", s.Day, ErrInvalidArgument)
	}
	if len(s.Compartments) != e.graph.Len() {
		return fmt.Errorf("restore: %d tracts in state, %d in graph: %w",
			len(s.Compartments), e.graph.Len(), ErrInvalidArgument)
	}

	for i := 0; i < e.graph.Len(); i++ {
		t := e.graph.At(i)
		c, ok := s.Compartments[t.ID]
		if !ok {
			return fmt.Errorf("restore: tract %s missing from state: %w", t.ID, ErrUnknownTract)
		}
		if !c.NonNegative() || c.Total() != t.Population {
			return fmt.Errorf("restore: tract %s compartments %+v do not match population %d: %w",
				t.ID, c, t.Population, ErrInvalidArgument)
		}
	}

	if len(s.Generator) > 0 {
		if sn, ok := e.rng.(random.Snapshotter); ok {
			if err := sn.UnmarshalBinary(s.Generator); err != nil {
				return fmt.Errorf("restore: %v: %w", err, ErrInvalidArgument)
			}
		}
	}

	for i := 0; i < e.graph.Len(); i++ {
		t := e.graph.At(i)
		t.Compartments = s.Compartments[t.ID]
	}
	e.day = s.Day
	e.last = s.LastDay
	return nil
}
