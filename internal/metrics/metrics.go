// Package metrics exposes Prometheus instruments for simulation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/cura/internal/epidemic"
)

// Metrics holds the cura instruments on a private registry. A nil *Metrics
// is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	runsStarted    prometheus.Counter
	daysTotal      prometheus.Counter
	transitions    *prometheus.CounterVec
	compartments   *prometheus.GaugeVec
	infectedTracts prometheus.Gauge
	simDay         prometheus.Gauge
	stepDuration   prometheus.Histogram
}

// New registers the cura instruments plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "cura_runs_started_total",
			Help: "Simulation runs started.",
		}),
		daysTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cura_days_total",
			Help: "Simulated days completed across all runs.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cura_transitions_total",
			Help: "People moved between compartments, by transition.",
		}, []string{"transition"}),
		compartments: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cura_compartment_people",
			Help: "People per compartment in the active run.",
		}, []string{"compartment"}),
		infectedTracts: f.NewGauge(prometheus.GaugeOpts{
			Name: "cura_infected_tracts",
			Help: "Tracts with at least one infectious person.",
		}),
		simDay: f.NewGauge(prometheus.GaugeOpts{
			Name: "cura_simulation_day",
			Help: "Current day of the active run.",
		}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cura_step_duration_seconds",
			Help:    "Wall time of one engine step.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}

// RunStarted counts a new run and publishes its initial state.
func (m *Metrics) RunStarted(stats epidemic.Aggregate) {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.setState(stats)
}

// ObserveDay records one completed day.
func (m *Metrics) ObserveDay(report epidemic.DayReport, stats epidemic.Aggregate, took time.Duration) {
	if m == nil {
		return
	}
	m.daysTotal.Inc()
	m.transitions.WithLabelValues("infection").Add(float64(report.NewInfections))
	m.transitions.WithLabelValues("recovery").Add(float64(report.NewRecoveries))
	m.transitions.WithLabelValues("death").Add(float64(report.NewDeaths))
	m.stepDuration.Observe(took.Seconds())
	m.setState(stats)
}

func (m *Metrics) setState(stats epidemic.Aggregate) {
	m.compartments.WithLabelValues("susceptible").Set(float64(stats.Susceptible))
	m.compartments.WithLabelValues("infectious").Set(float64(stats.Infectious))
	m.compartments.WithLabelValues("recovered").Set(float64(stats.Recovered))
	m.compartments.WithLabelValues("deceased").Set(float64(stats.Deceased))
	m.infectedTracts.Set(float64(stats.InfectedTracts))
	m.simDay.Set(float64(stats.Day))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
