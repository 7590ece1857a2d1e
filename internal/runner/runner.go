// Package runner drives epidemic runs in real time. It owns the engine of
// the active run, steps it on a ticker, and fans each completed day out to
// the history store, the day log, metrics and tracing.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/logging"
	"github.com/nvandessel/cura/internal/metrics"
	curaotel "github.com/nvandessel/cura/internal/otel"
	"github.com/nvandessel/cura/internal/store"
	"github.com/nvandessel/cura/internal/tract"
)

var (
	// ErrNoRun is returned when an operation needs a run and none exists.
	ErrNoRun = errors.New("no active run")

	// ErrRunMismatch is returned when a run id does not name the active run.
	ErrRunMismatch = errors.New("run is not the active run")
)

const (
	// DefaultSeedCount is how many random tracts are seeded when a start
	// request names no tract.
	DefaultSeedCount = 5

	// DefaultInitialCount is the infectious target for an explicit tract.
	DefaultInitialCount = 10

	// DefaultInterval is the wall time of one day at speed 1.
	DefaultInterval = time.Second
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StartRequest describes a new run.
type StartRequest struct {
	Params epidemic.Params `json:"params"`

	// Seed makes the run reproducible. Zero draws a random seed.
	Seed uint64 `json:"seed,omitempty"`

	// InitialTract seeds one named tract up to InitialCount infectious.
	// When empty, SeedCount random tracts get one infectious person each.
	InitialTract string `json:"initial_tract,omitempty"`
	InitialCount int    `json:"initial_count,omitempty"`
	SeedCount    int    `json:"seed_count,omitempty"`

	// MaxDays stops the run after that many days. Zero means no limit.
	MaxDays int     `json:"max_days,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

func (req StartRequest) withDefaults() StartRequest {
	if req.InitialTract != "" && req.InitialCount <= 0 {
		req.InitialCount = DefaultInitialCount
	}
	if req.InitialTract == "" && req.SeedCount <= 0 {
		req.SeedCount = DefaultSeedCount
	}
	if req.Speed <= 0 {
		req.Speed = 1
	}
	return req
}

// Snapshot is an immutable view of the active run after a completed day.
type Snapshot struct {
	RunID     string               `json:"run_id"`
	Status    Status               `json:"status"`
	Seed      uint64               `json:"seed"`
	Speed     float64              `json:"speed"`
	Params    epidemic.Params      `json:"params"`
	Stats     epidemic.Aggregate   `json:"stats"`
	LastDay   epidemic.DayReport   `json:"last_day"`
	Tracts    []epidemic.TractView `json:"-"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithHistory records every run and day in hs.
func WithHistory(hs store.HistoryStore) Option {
	return func(r *Runner) { r.history = hs }
}

// WithDayLogger writes every day to dl. A nil logger is allowed.
func WithDayLogger(dl *logging.DayLogger) Option {
	return func(r *Runner) { r.days = dl }
}

// WithMetrics publishes run state to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the runner's logger, also handed to each engine.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInterval sets the wall time of one day at speed 1.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Runner owns at most one run at a time. All engine access happens under
// mu; readers use the published snapshot and never block on a step.
type Runner struct {
	base     *graph.Graph
	history  store.HistoryStore
	days     *logging.DayLogger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	interval time.Duration

	ctl  sync.Mutex // serializes Start, Stop, Reset and Close
	mu   sync.Mutex // guards cur and its engine
	cur  *run
	snap atomic.Pointer[Snapshot]
}

type run struct {
	id     string
	req    StartRequest
	engine *epidemic.Engine
	speed  float64
	status Status

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Runner whose runs start from clones of base. base itself is
// never mutated.
func New(base *graph.Graph, opts ...Option) (*Runner, error) {
	if base == nil {
		return nil, fmt.Errorf("new runner: nil graph: %w", epidemic.ErrInvalidArgument)
	}
	r := &Runner{
		base:     base,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   curaotel.Tracer(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Graph returns the provisioning graph.
func (r *Runner) Graph() *graph.Graph {
	return r.base
}

// CurrentGraph returns a copy of the active run's graph, or of the
// provisioning graph when no run exists.
func (r *Runner) CurrentGraph() *graph.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return r.cur.engine.Graph()
	}
	return r.base.Clone()
}

// Snapshot returns the latest published snapshot, or nil before the first run.
func (r *Runner) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Create builds and seeds a new run without starting its clock. Any
// running run is stopped first.
func (r *Runner) Create(ctx context.Context, req StartRequest) (*Snapshot, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	return r.create(ctx, req, nil)
}

// Restore creates a ready run from a saved state instead of seeding. The
// state's seed and rates replace those of req.
func (r *Runner) Restore(ctx context.Context, req StartRequest, state epidemic.State) (*Snapshot, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	req.Seed = state.Seed
	req.Params = state.Params
	return r.create(ctx, req, &state)
}

// Start creates a run and steps it on the ticker until it completes, is
// stopped, or ctx is cancelled.
func (r *Runner) Start(ctx context.Context, req StartRequest) (*Snapshot, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	snap, err := r.create(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return r.resume(ctx, snap.RunID)
}

// Resume restarts the clock of a ready or stopped run.
func (r *Runner) Resume(ctx context.Context, id string) (*Snapshot, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	return r.resume(ctx, id)
}

func (r *Runner) resume(ctx context.Context, id string) (*Snapshot, error) {
	r.mu.Lock()
	rn, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if rn.status == StatusRunning || rn.status == StatusCompleted {
		snap := r.publish(rn)
		r.mu.Unlock()
		return snap, nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn.cancel = cancel
	rn.done = make(chan struct{})
	rn.status = StatusRunning
	snap := r.publish(rn)
	r.mu.Unlock()

	r.logger.Info("run started", "run", rn.id, "speed", rn.speed)
	go r.loop(loopCtx, rn)
	return snap, nil
}

func (r *Runner) create(ctx context.Context, req StartRequest, from *epidemic.State) (*Snapshot, error) {
	if err := r.stopCurrent(); err != nil {
		return nil, err
	}
	defaulted := req.InitialTract == "" && req.SeedCount <= 0
	req = req.withDefaults()
	if defaulted {
		req.SeedCount = min(req.SeedCount, r.base.Len())
	}

	opts := []epidemic.Option{epidemic.WithLogger(r.logger)}
	if req.Seed != 0 {
		opts = append(opts, epidemic.WithSeed(req.Seed))
	}
	e, err := epidemic.New(r.base.Clone(), req.Params, opts...)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	switch {
	case from != nil:
		err = e.Restore(*from)
	case req.InitialTract != "":
		_, err = e.SeedInfectionAt(req.InitialTract, req.InitialCount)
	default:
		_, err = e.SeedInfection(req.SeedCount)
	}
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	rn := &run{
		id:     uuid.NewString(),
		req:    req,
		engine: e,
		speed:  req.Speed,
		status: StatusReady,
	}

	if r.history != nil {
		err := r.history.CreateRun(ctx, store.Run{
			ID:                  rn.id,
			CreatedAt:           time.Now().UTC(),
			Tracts:              e.Len(),
			Population:          r.base.TotalPopulation(),
			Seed:                e.Seed(),
			InfectionRate:       req.Params.InfectionRate,
			RecoveryRate:        req.Params.RecoveryRate,
			MortalityRate:       req.Params.MortalityRate,
			SocioeconomicImpact: req.Params.SocioeconomicImpact,
		})
		if err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}

	r.mu.Lock()
	r.cur = rn
	snap := r.publish(rn)
	r.mu.Unlock()

	r.metrics.RunStarted(snap.Stats)
	r.logger.Info("run created", "run", rn.id, "seed", e.Seed(), "infectious", snap.Stats.Infectious)
	return snap, nil
}

// Stop halts the clock of run id and waits for the loop to exit. Stopping a
// run that is not running is a no-op.
func (r *Runner) Stop(id string) (*Snapshot, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	r.mu.Lock()
	if _, err := r.lookup(id); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	if err := r.stopCurrent(); err != nil {
		return nil, err
	}
	return r.Snapshot(), nil
}

// Reset discards run id and creates a fresh run with the same request. The
// new run gets a new id. A reset run is left ready, not running.
func (r *Runner) Reset(ctx context.Context, id string) (*Snapshot, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	r.mu.Lock()
	rn, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	req := rn.req
	r.mu.Unlock()

	return r.create(ctx, req, nil)
}

// SetSpeed changes the tick rate of run id. The next tick uses the new
// interval; the simulation itself is unaffected.
func (r *Runner) SetSpeed(id string, speed float64) (*Snapshot, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("set speed %v: %w", speed, epidemic.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	rn.speed = speed
	return r.publish(rn), nil
}

// Step advances the active run by up to days days on the caller's
// goroutine. It stops early once no tract is infectious or the run's day
// limit is reached.
func (r *Runner) Step(ctx context.Context, days int) ([]epidemic.DayReport, error) {
	if days < 1 {
		return nil, fmt.Errorf("step %d days: %w", days, epidemic.ErrInvalidArgument)
	}
	r.mu.Lock()
	rn := r.cur
	r.mu.Unlock()
	if rn == nil {
		return nil, ErrNoRun
	}

	reports := make([]epidemic.DayReport, 0, days)
	for range days {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, finished, err := r.advance(ctx, rn)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
		if finished {
			break
		}
	}
	return reports, nil
}

// SeedMore adds infections to the active run. With an id the tract is
// raised to count infectious; otherwise count random tracts get one each.
func (r *Runner) SeedMore(id string, count int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur == nil {
		return 0, ErrNoRun
	}
	var (
		n   int
		err error
	)
	if id != "" {
		n, err = r.cur.engine.SeedInfectionAt(id, count)
	} else {
		n, err = r.cur.engine.SeedInfection(count)
	}
	if err != nil {
		return 0, err
	}
	r.publish(r.cur)
	return n, nil
}

// Tract returns a tract from the active run, or from the provisioning graph
// when no run exists.
func (r *Runner) Tract(id string) (tract.Tract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return r.cur.engine.Tract(id)
	}
	return r.base.Tract(id)
}

// History returns the recorded days of run id.
func (r *Runner) History(ctx context.Context, id string) ([]store.Day, error) {
	if r.history == nil {
		return nil, fmt.Errorf("history: %w", store.ErrRunNotFound)
	}
	return r.history.Days(ctx, id)
}

// Runs lists recorded runs, newest first.
func (r *Runner) Runs(ctx context.Context) ([]store.Run, error) {
	if r.history == nil {
		return nil, nil
	}
	return r.history.Runs(ctx)
}

// State returns the engine state of the active run.
func (r *Runner) State() (string, epidemic.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return "", epidemic.State{}, ErrNoRun
	}
	return r.cur.id, r.cur.engine.State(), nil
}

// Wait blocks until the active run's loop exits or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	var done chan struct{}
	if r.cur != nil {
		done = r.cur.done
	}
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the active run.
func (r *Runner) Close() error {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	return r.stopCurrent()
}

func (r *Runner) stopCurrent() error {
	r.mu.Lock()
	rn := r.cur
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	if rn != nil && rn.status == StatusRunning {
		cancel, done = rn.cancel, rn.done
	}
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (r *Runner) loop(ctx context.Context, rn *run) {
	defer close(rn.done)

	timer := time.NewTimer(r.tick(rn))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finish(rn, StatusStopped)
			return
		case <-timer.C:
		}

		_, finished, err := r.advance(ctx, rn)
		if err != nil {
			r.logger.Error("run failed", "run", rn.id, "error", err)
			r.finish(rn, StatusFailed)
			return
		}
		if finished {
			r.finish(rn, StatusCompleted)
			return
		}
		timer.Reset(r.tick(rn))
	}
}

func (r *Runner) tick(rn *run) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(float64(r.interval) / rn.speed)
}

func (r *Runner) finish(rn *run, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn.status = status
	rn.cancel = nil
	if r.cur == rn {
		r.publish(rn)
	}
	r.logger.Info("run ended", "run", rn.id, "status", status, "day", rn.engine.Day())
}

// advance steps rn once and records the day. finished reports whether the
// run has nothing left to do.
func (r *Runner) advance(ctx context.Context, rn *run) (epidemic.DayReport, bool, error) {
	ctx, span := r.tracer.Start(ctx, "cura.step",
		trace.WithAttributes(attribute.String("cura.run_id", rn.id)))
	defer span.End()

	r.mu.Lock()
	if r.cur != rn {
		r.mu.Unlock()
		return epidemic.DayReport{}, true, ErrRunMismatch
	}
	began := time.Now()
	report := rn.engine.Step()
	took := time.Since(began)
	stats := rn.engine.Stats()
	r.publish(rn)
	maxDays := rn.req.MaxDays
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Int("cura.day", report.Day),
		attribute.Int("cura.new_infections", report.NewInfections),
		attribute.Int("cura.infectious", stats.Infectious),
	)

	r.metrics.ObserveDay(report, stats, took)
	r.days.LogDay(rn.id, report, stats)

	if r.history != nil {
		err := r.history.RecordDay(context.WithoutCancel(ctx), store.Day{
			RunID:          rn.id,
			Day:            report.Day,
			Susceptible:    stats.Susceptible,
			Infectious:     stats.Infectious,
			Recovered:      stats.Recovered,
			Deceased:       stats.Deceased,
			InfectedTracts: stats.InfectedTracts,
			NewInfections:  report.NewInfections,
			NewRecoveries:  report.NewRecoveries,
			NewDeaths:      report.NewDeaths,
			InfectionRate:  report.Rates.Infection,
			RecoveryRate:   report.Rates.Recovery,
			RecordedAt:     time.Now().UTC(),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record day failed")
			return report, true, fmt.Errorf("record day %d: %w", report.Day, err)
		}
	}

	finished := stats.Infectious == 0 || (maxDays > 0 && report.Day >= maxDays)
	return report, finished, nil
}

// publish stores a new snapshot of rn. Callers hold mu.
func (r *Runner) publish(rn *run) *Snapshot {
	e := rn.engine
	snap := &Snapshot{
		RunID:     rn.id,
		Status:    rn.status,
		Seed:      e.Seed(),
		Speed:     rn.speed,
		Params:    e.Params(),
		Stats:     e.Stats(),
		LastDay:   e.LastDay(),
		Tracts:    e.Tracts(),
		UpdatedAt: time.Now().UTC(),
	}
	r.snap.Store(snap)
	return snap
}

// lookup returns the active run if it has the given id. Callers hold mu.
func (r *Runner) lookup(id string) (*run, error) {
	if r.cur == nil {
		return nil, ErrNoRun
	}
	if r.cur.id != id {
		return nil, fmt.Errorf("%s: %w", id, ErrRunMismatch)
	}
	return r.cur, nil
}
