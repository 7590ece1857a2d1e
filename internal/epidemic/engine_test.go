package epidemic

import (
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/random"
	"github.com/nvandessel/cura/internal/tract"
)

// stubGenerator returns fixed draws so tests can pin every stochastic branch.
type stubGenerator struct {
	normal       float64
	uniform      float64
	poisson      int
	poissonCalls []float64
}

func (s *stubGenerator) Float64() float64                 { return s.uniform }
func (s *stubGenerator) Normal(mu, sigma float64) float64 { return s.normal }
func (s *stubGenerator) Poisson(lambda float64) int {
	s.poissonCalls = append(s.poissonCalls, lambda)
	return s.poisson
}
func (s *stubGenerator) Sample(n, k int) []int {
	out := make([]int, 0, k)
	for i := 0; i < k && i < n; i++ {
		out = append(out, i)
	}
	return out
}

var _ random.Generator = (*stubGenerator)(nil)

// neutral returns a stub with no jitter and draws that never transmit.
func neutral() *stubGenerator {
	return &stubGenerator{normal: 1.0, uniform: 0.999999}
}

// mkTract is a test helper that builds a zero-density tract.
func mkTract(id string, pop int, neighbors ...string) tract.Tract {
	t := tract.New(id, 0, 0, pop, 1, 0, 0)
	t.SetNeighbors(neighbors)
	return t
}

// mkGraph is a test helper that builds a graph and fails the test on error.
func mkGraph(t *testing.T, tracts ...tract.Tract) *graph.Graph {
	t.Helper()
	g, err := graph.New(tracts)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return g
}

// mkEngine is a test helper that builds an engine and fails the test on error.
func mkEngine(t *testing.T, g *graph.Graph, p Params, opts ...Option) *Engine {
	t.Helper()
	e, err := New(g, p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustTract(t *testing.T, e *Engine, id string) tract.Tract {
	t.Helper()
	tr, ok := e.Tract(id)
	if !ok {
		t.Fatalf("tract %s not found", id)
	}
	return tr
}

func TestNew_NilGraph(t *testing.T) {
	_, err := New(nil, DefaultParams())
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New(nil) error = %v, want ErrInvalidArgument", err)
	}
}

func TestNew_NationalMedian(t *testing.T) {
	a := tract.New("A", 0, 0, 10, 1, 0, 0)
	b := tract.New("B", 0, 0, 10, 1, 0, 50000)
	c := tract.New("C", 0, 0, 10, 1, 0, 90000)

	e := mkEngine(t, mkGraph(t, a, b, c), DefaultParams(), WithSeed(1))
	if got := e.NationalMedian(); got != 70000 {
		t.Errorf("NationalMedian() = %v, want 70000", got)
	}

	e = mkEngine(t, mkGraph(t, mkTract("X", 10)), DefaultParams(), WithSeed(1))
	if got := e.NationalMedian(); got != 70000 {
		t.Errorf("NationalMedian() with no incomes = %v, want fallback 70000", got)
	}
}

func TestNew_UnseededDrawsCryptoSeed(t *testing.T) {
	e := mkEngine(t, mkGraph(t, mkTract("A", 10)), DefaultParams())
	if e.rng == nil {
		t.Fatal("expected a generator")
	}
	if e.Day() != 0 {
		t.Errorf("Day() = %d, want 0", e.Day())
	}
}

func TestSeedInfection(t *testing.T) {
	g := mkGraph(t, mkTract("A", 100), mkTract("B", 100), mkTract("C", 100))
	e := mkEngine(t, g, DefaultParams(), WithSeed(9))

	seeded, err := e.SeedInfection(2)
	if err != nil {
		t.Fatalf("SeedInfection: %v", err)
	}
	if seeded != 2 {
		t.Errorf("seeded = %d, want 2", seeded)
	}

	stats := e.Stats()
	if stats.Infectious != 2 || stats.Susceptible != 298 {
		t.Errorf("after seeding S=%d I=%d, want S=298 I=2", stats.Susceptible, stats.Infectious)
	}
	if stats.InfectedTracts != 2 {
		t.Errorf("InfectedTracts = %d, want 2 distinct tracts", stats.InfectedTracts)
	}
}

func TestSeedInfection_TooMany(t *testing.T) {
	g := mkGraph(t, mkTract("A", 100), mkTract("B", 100))
	e := mkEngine(t, g, DefaultParams(), WithSeed(9))

	for _, count := range []int{3, -1} {
		_, err := e.SeedInfection(count)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SeedInfection(%d) error = %v, want ErrInvalidArgument", count, err)
		}
	}
	if stats := e.Stats(); stats.Infectious != 0 {
		t.Errorf("failed seeding mutated state: %+v", stats)
	}
}

func TestSeedInfection_SkipsEmptyTracts(t *testing.T) {
	g := mkGraph(t, mkTract("empty", 0), mkTract("B", 100))
	e := mkEngine(t, g, DefaultParams(), WithGenerator(neutral()))

	seeded, err := e.SeedInfection(2)
	if err != nil {
		t.Fatalf("SeedInfection: %v", err)
	}
	if seeded != 1 {
		t.Errorf("seeded = %d, want 1 (zero-population tract skipped)", seeded)
	}
	if empty := mustTract(t, e, "empty"); !empty.Conserved() || empty.Infectious != 0 {
		t.Errorf("empty tract changed: %+v", empty.Compartments)
	}
}

func TestSeedInfectionAt(t *testing.T) {
	tr := mkTract("A", 100)
	tr.Susceptible = 30
	tr.Recovered = 70
	e := mkEngine(t, mkGraph(t, tr), DefaultParams(), WithSeed(1))

	moved, err := e.SeedInfectionAt("A", 100)
	if err != nil {
		t.Fatalf("SeedInfectionAt: %v", err)
	}
	if moved != 30 {
		t.Errorf("moved = %d, want 30 (clamped)", moved)
	}
	a := mustTract(t, e, "A")
	if a.Susceptible != 0 || a.Infectious != 30 {
		t.Errorf("S=%d I=%d, want S=0 I=30", a.Susceptible, a.Infectious)
	}
	if !a.Conserved() {
		t.Error("tract not conserved after seeding")
	}
}

func TestSeedInfectionAt_Errors(t *testing.T) {
	e := mkEngine(t, mkGraph(t, mkTract("A", 100)), DefaultParams(), WithSeed(1))

	if _, err := e.SeedInfectionAt("nope", 1); !errors.Is(err, ErrUnknownTract) {
		t.Errorf("unknown tract error = %v, want ErrUnknownTract", err)
	}
	if _, err := e.SeedInfectionAt("A", -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative target error = %v, want ErrInvalidArgument", err)
	}
}

func TestStep_RoundingFloor(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"stub generator", WithGenerator(neutral())},
		{"seeded generator", WithSeed(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mkGraph(t, mkTract("A", 1000))
			e := mkEngine(t, g, Params{InfectionRate: 0.1, RecoveryRate: 0.05, MortalityRate: 0.01}, tt.opt)
			if _, err := e.SeedInfectionAt("A", 1); err != nil {
				t.Fatalf("SeedInfectionAt: %v", err)
			}

			// potential = 0.1 * 1 * 1 * 999 * 1 / 1000 ~= 0.1, floored up to 1.
			report := e.Step()
			if report.NewInfections != 1 {
				t.Errorf("NewInfections = %d, want 1", report.NewInfections)
			}
			a := mustTract(t, e, "A")
			if a.Infectious != 2 || a.Susceptible != 998 {
				t.Errorf("S=%d I=%d, want S=998 I=2", a.Susceptible, a.Infectious)
			}
		})
	}
}

func TestStep_IntraTractGrowth(t *testing.T) {
	tr := tract.New("A", 0, 0, 1000, 1, 1000, 0) // density factor 2
	tr.Susceptible = 900
	tr.Infectious = 100
	e := mkEngine(t, mkGraph(t, tr), Params{InfectionRate: 0.1}, WithGenerator(neutral()))

	report := e.Step()

	// 0.1 * 2 * 1 * 900 * 100 / 1000 = 18
	if report.NewInfections != 18 {
		t.Errorf("NewInfections = %d, want 18", report.NewInfections)
	}
	a := mustTract(t, e, "A")
	if a.Susceptible != 882 {
		t.Errorf("Susceptible = %d, want 882", a.Susceptible)
	}
}

func TestStep_SocioeconomicFactorScalesGrowth(t *testing.T) {
	poor := tract.New("poor", 0, 0, 1000, 1, 0, 35000)
	poor.Susceptible, poor.Infectious = 900, 100
	rich := tract.New("rich", 0, 0, 1000, 1, 0, 105000)
	rich.Susceptible, rich.Infectious = 900, 100

	// Median of {35000, 105000} is 70000: poor factor 1.25, rich factor 0.875.
	e := mkEngine(t, mkGraph(t, poor, rich), Params{InfectionRate: 0.1, SocioeconomicImpact: 1}, WithGenerator(neutral()))
	e.Step()

	if got := mustTract(t, e, "poor"); got.Susceptible != 900-11 {
		t.Errorf("poor S = %d, want %d (0.1*1.25*90 = 11.25)", got.Susceptible, 900-11)
	}
	if got := mustTract(t, e, "rich"); got.Susceptible != 900-8 {
		t.Errorf("rich S = %d, want %d (0.1*0.875*90 = 7.875)", got.Susceptible, 900-8)
	}
}

func TestStep_InterTractPoissonFlow(t *testing.T) {
	src := mkTract("A", 1000, "B")
	src.Susceptible, src.Infectious = 500, 500
	dst := mkTract("B", 1000)

	rng := neutral()
	rng.poisson = 7
	e := mkEngine(t, mkGraph(t, src, dst), Params{}, WithGenerator(rng))
	e.Step()

	if len(rng.poissonCalls) != 1 {
		t.Fatalf("Poisson calls = %v, want 1", rng.poissonCalls)
	}
	// pressure 0.5 * 0.01 * 1000 susceptible = 5
	if math.Abs(rng.poissonCalls[0]-5) > 1e-9 {
		t.Errorf("Poisson lambda = %v, want 5", rng.poissonCalls[0])
	}
	b := mustTract(t, e, "B")
	if b.Infectious != 7 || b.Susceptible != 993 {
		t.Errorf("B S=%d I=%d, want S=993 I=7 (credited to neighbor)", b.Susceptible, b.Infectious)
	}
}

func TestStep_InterTractBernoulli(t *testing.T) {
	tests := []struct {
		name    string
		uniform float64
		want    int
	}{
		{"hit", 0.0, 1},
		{"miss", 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := mkTract("A", 1000, "B")
			src.Susceptible, src.Infectious = 999, 1
			dst := mkTract("B", 1000)

			rng := neutral()
			rng.uniform = tt.uniform
			e := mkEngine(t, mkGraph(t, src, dst), Params{}, WithGenerator(rng))
			e.Step()

			// expected = 0.001 * 0.01 * 1000 = 0.01 -> Bernoulli, never Poisson.
			if len(rng.poissonCalls) != 0 {
				t.Errorf("Poisson called for expected < 1: %v", rng.poissonCalls)
			}
			if b := mustTract(t, e, "B"); b.Infectious != tt.want {
				t.Errorf("B infectious = %d, want %d", b.Infectious, tt.want)
			}
		})
	}
}

func TestStep_InterTractClampedToSusceptible(t *testing.T) {
	src := mkTract("A", 1000, "B")
	src.Susceptible, src.Infectious = 0, 1000
	dst := mkTract("B", 200)
	dst.Susceptible, dst.Recovered = 150, 50

	rng := neutral()
	rng.poisson = 10000
	e := mkEngine(t, mkGraph(t, src, dst), Params{}, WithGenerator(rng))
	e.Step()

	b := mustTract(t, e, "B")
	if b.Susceptible != 0 || b.Infectious != 150 {
		t.Errorf("B S=%d I=%d, want S=0 I=150", b.Susceptible, b.Infectious)
	}
	if !b.Conserved() {
		t.Errorf("B not conserved: %+v", b.Compartments)
	}
}

func TestStep_SkipsSaturatedAndMissingNeighbors(t *testing.T) {
	src := mkTract("A", 1000, "B", "ghost")
	src.Susceptible, src.Infectious = 500, 500
	full := mkTract("B", 100)
	full.Susceptible, full.Recovered = 0, 100

	rng := neutral()
	rng.poisson = 3
	e := mkEngine(t, mkGraph(t, src, full), Params{}, WithGenerator(rng))
	e.Step()

	if len(rng.poissonCalls) != 0 {
		t.Errorf("drew for neighbors without susceptible or missing: %v", rng.poissonCalls)
	}
}

func TestStep_RecoveriesAndDeaths(t *testing.T) {
	tests := []struct {
		name          string
		recovery      float64
		mortality     float64
		wantRecovered int
		wantDeceased  int
	}{
		{"typical", 0.1, 0.02, 10, 2},
		{"deaths take remaining budget", 0.5, 1.0, 50, 50},
		{"negative mortality clamps to zero", 0.1, -0.5, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mkTract("A", 100)
			tr.Susceptible, tr.Infectious = 0, 100
			e := mkEngine(t, mkGraph(t, tr), Params{RecoveryRate: tt.recovery, MortalityRate: tt.mortality}, WithGenerator(neutral()))

			report := e.Step()
			a := mustTract(t, e, "A")
			if a.Recovered != tt.wantRecovered || a.Deceased != tt.wantDeceased {
				t.Errorf("R=%d D=%d, want R=%d D=%d", a.Recovered, a.Deceased, tt.wantRecovered, tt.wantDeceased)
			}
			if report.NewRecoveries != tt.wantRecovered || report.NewDeaths != tt.wantDeceased {
				t.Errorf("report = %+v", report)
			}
			if !a.Conserved() {
				t.Errorf("not conserved: %+v", a.Compartments)
			}
		})
	}
}

func TestStep_OutcomeTiesRoundToEven(t *testing.T) {
	tests := []struct {
		name          string
		susceptible   int
		infectious    int
		recovery      float64
		mortality     float64
		wantRecovered int
		wantDeceased  int
	}{
		{"half a death rounds down", 900, 100, 0.03, 0.005, 3, 0},
		{"half a recovery rounds down", 0, 4, 0.125, 0.25, 0, 1},
		{"two and a half deaths round to two", 0, 4, 0, 0.625, 0, 2},
		{"one and a half recoveries round to two", 0, 4, 0.375, 0, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mkTract("A", tt.susceptible+tt.infectious)
			tr.Susceptible, tr.Infectious = tt.susceptible, tt.infectious
			e := mkEngine(t, mkGraph(t, tr), Params{RecoveryRate: tt.recovery, MortalityRate: tt.mortality}, WithGenerator(neutral()))

			e.Step()
			a := mustTract(t, e, "A")
			if a.Recovered != tt.wantRecovered || a.Deceased != tt.wantDeceased {
				t.Errorf("R=%d D=%d, want R=%d D=%d", a.Recovered, a.Deceased, tt.wantRecovered, tt.wantDeceased)
			}
		})
	}
}

func TestStep_ZeroPopulationSafety(t *testing.T) {
	zero := mkTract("Z", 0, "A")
	src := mkTract("A", 1000, "Z")
	src.Susceptible, src.Infectious = 500, 500

	e := mkEngine(t, mkGraph(t, zero, src), Params{InfectionRate: 0.3, RecoveryRate: 0.1, MortalityRate: 0.05}, WithSeed(3))
	for d := 0; d < 20; d++ {
		e.Step()
		z := mustTract(t, e, "Z")
		if z.Compartments != (tract.Compartments{}) {
			t.Fatalf("day %d: zero-population tract changed: %+v", d+1, z.Compartments)
		}
	}
}

func TestStep_UsesPreDayState(t *testing.T) {
	// A infects B on day 1; B's new cases must not spread to C the same day.
	a := mkTract("A", 1000, "B")
	a.Susceptible, a.Infectious = 0, 1000
	b := mkTract("B", 1000, "A", "C")
	c := mkTract("C", 1000, "B")

	rng := neutral()
	rng.poisson = 100
	rng.uniform = 0.0
	e := mkEngine(t, mkGraph(t, a, b, c), Params{}, WithGenerator(rng))
	e.Step()

	if got := mustTract(t, e, "B"); got.Infectious != 100 {
		t.Errorf("B infectious = %d, want 100", got.Infectious)
	}
	if got := mustTract(t, e, "C"); got.Infectious != 0 {
		t.Errorf("C infectious = %d, want 0 on day 1", got.Infectious)
	}
}

func TestRun(t *testing.T) {
	e := mkEngine(t, mkGraph(t, mkTract("A", 1000)), DefaultParams(), WithSeed(5))
	if _, err := e.SeedInfectionAt("A", 5); err != nil {
		t.Fatalf("SeedInfectionAt: %v", err)
	}

	reports, err := e.Run(5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 5 {
		t.Errorf("len(reports) = %d, want 5", len(reports))
	}
	for i, r := range reports {
		if r.Day != i+1 {
			t.Errorf("reports[%d].Day = %d, want %d", i, r.Day, i+1)
		}
	}
	if e.Day() != 5 {
		t.Errorf("Day() = %d, want 5", e.Day())
	}
	if e.LastDay() != reports[4] {
		t.Errorf("LastDay() = %+v, want %+v", e.LastDay(), reports[4])
	}

	if _, err := e.Run(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Run(-1) error = %v, want ErrInvalidArgument", err)
	}
	if e.Day() != 5 {
		t.Errorf("failed Run changed day to %d", e.Day())
	}
}

func TestStats(t *testing.T) {
	a := mkTract("A", 100)
	a.Susceptible, a.Infectious, a.Recovered, a.Deceased = 50, 20, 20, 10
	b := mkTract("B", 100)

	e := mkEngine(t, mkGraph(t, a, b), DefaultParams(), WithSeed(1))
	if err := e.SetQuarantined("B", true); err != nil {
		t.Fatalf("SetQuarantined: %v", err)
	}

	s := e.Stats()
	if s.TotalPopulation != 200 || s.Tracts != 2 {
		t.Errorf("population=%d tracts=%d", s.TotalPopulation, s.Tracts)
	}
	if s.Susceptible != 150 || s.Infectious != 20 || s.Recovered != 20 || s.Deceased != 10 {
		t.Errorf("totals = %+v", s)
	}
	if s.InfectedTracts != 1 || s.QuarantinedTracts != 1 {
		t.Errorf("infected=%d quarantined=%d, want 1 and 1", s.InfectedTracts, s.QuarantinedTracts)
	}
	if !near(s.InfectionPercent, 10) || !near(s.RecoveryPercent, 10) || !near(s.MortalityPercent, 5) {
		t.Errorf("percents = %v %v %v", s.InfectionPercent, s.RecoveryPercent, s.MortalityPercent)
	}

	if err := e.SetQuarantined("nope", true); !errors.Is(err, ErrUnknownTract) {
		t.Errorf("SetQuarantined unknown error = %v", err)
	}
}

func TestStats_ZeroPopulation(t *testing.T) {
	e := mkEngine(t, mkGraph(t, mkTract("A", 0)), DefaultParams(), WithSeed(1))
	s := e.Stats()
	if s.InfectionPercent != 0 || s.RecoveryPercent != 0 || s.MortalityPercent != 0 {
		t.Errorf("percentages on empty population = %+v", s)
	}
}

func TestTracts(t *testing.T) {
	e := mkEngine(t, mkGraph(t, mkTract("A", 10), mkTract("B", 20)), DefaultParams(), WithSeed(1))
	views := e.Tracts()
	if len(views) != 2 || views[0].ID != "A" || views[1].Population != 20 {
		t.Errorf("Tracts() = %+v", views)
	}
	if views[1].Susceptible != 20 {
		t.Errorf("view B susceptible = %d, want 20", views[1].Susceptible)
	}
}

func TestRestore(t *testing.T) {
	g := mkGraph(t, mkTract("A", 100, "B"), mkTract("B", 100, "A"))
	e := mkEngine(t, g, DefaultParams(), WithSeed(2))
	if _, err := e.SeedInfectionAt("A", 10); err != nil {
		t.Fatalf("SeedInfectionAt: %v", err)
	}
	e.Run(3)
	saved := e.State()

	e.Run(4)
	if err := e.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if e.Day() != 3 {
		t.Errorf("Day() = %d, want 3", e.Day())
	}
	for id, c := range saved.Compartments {
		if got := mustTract(t, e, id); got.Compartments != c {
			t.Errorf("tract %s = %+v, want %+v", id, got.Compartments, c)
		}
	}
}

func TestRestore_ResumesIdentically(t *testing.T) {
	build := func(seed uint64) *Engine {
		t.Helper()
		g := mkGraph(t,
			mkTract("A", 20000, "B"),
			mkTract("B", 20000, "A", "C"),
			mkTract("C", 20000, "B"),
		)
		return mkEngine(t, g, DefaultParams(), WithSeed(seed))
	}

	full := build(11)
	if _, err := full.SeedInfection(2); err != nil {
		t.Fatalf("SeedInfection: %v", err)
	}
	want, err := full.Run(20)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := build(11)
	if _, err := first.SeedInfection(2); err != nil {
		t.Fatalf("SeedInfection: %v", err)
	}
	first.Run(8)
	saved := first.State()
	if len(saved.Generator) == 0 {
		t.Fatal("State() did not capture the generator position")
	}

	// A different construction seed proves the position comes from the state.
	resumed := build(999)
	if err := resumed.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := resumed.Run(12)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, r := range got {
		if r != want[8+i] {
			t.Fatalf("day %d: resumed %+v, uninterrupted %+v", r.Day, r, want[8+i])
		}
	}
	for id, c := range full.State().Compartments {
		if g := mustTract(t, resumed, id); g.Compartments != c {
			t.Errorf("tract %s = %+v, want %+v", id, g.Compartments, c)
		}
	}
}

func TestRestore_WithoutGeneratorPosition(t *testing.T) {
	g := mkGraph(t, mkTract("A", 100))
	stub := neutral()
	e := mkEngine(t, g, DefaultParams(), WithGenerator(stub))

	saved := e.State()
	if saved.Generator != nil {
		t.Errorf("Generator = %v, want nil for a generator without snapshots", saved.Generator)
	}
	if err := e.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
}

func TestRestore_RejectsInvalidState(t *testing.T) {
	g := mkGraph(t, mkTract("A", 100), mkTract("B", 100))
	e := mkEngine(t, g, DefaultParams(), WithSeed(2))
	before := e.State()

	tests := []struct {
		name  string
		state State
		want  error
	}{
		{"negative day", State{Day: -1, Compartments: before.Compartments}, ErrInvalidArgument},
		{"missing tract", State{Compartments: map[string]tract.Compartments{
			"A": {Susceptible: 100}, "C": {Susceptible: 100},
		}}, ErrUnknownTract},
		{"wrong count", State{Compartments: map[string]tract.Compartments{
			"A": {Susceptible: 100},
		}}, ErrInvalidArgument},
		{"not conserved", State{Compartments: map[string]tract.Compartments{
			"A": {Susceptible: 100}, "B": {Susceptible: 99},
		}}, ErrInvalidArgument},
		{"corrupt generator", State{Compartments: before.Compartments, Generator: []byte("junk")}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Restore(tt.state); !errors.Is(err, tt.want) {
				t.Errorf("Restore error = %v, want %v", err, tt.want)
			}
			if got := e.State(); got.Compartments["A"] != before.Compartments["A"] {
				t.Error("failed restore mutated state")
			}
		})
	}
}
