package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nvandessel/cura/internal/epidemic"
)

func TestObserveDay(t *testing.T) {
	m := New()

	m.RunStarted(epidemic.Aggregate{Susceptible: 995, Infectious: 5, InfectedTracts: 5})
	m.ObserveDay(
		epidemic.DayReport{Day: 1, NewInfections: 7, NewRecoveries: 2, NewDeaths: 1},
		epidemic.Aggregate{Day: 1, Susceptible: 988, Infectious: 9, Recovered: 2, Deceased: 1, InfectedTracts: 6},
		3*time.Millisecond,
	)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"runs started", testutil.ToFloat64(m.runsStarted), 1},
		{"days", testutil.ToFloat64(m.daysTotal), 1},
		{"infections", testutil.ToFloat64(m.transitions.WithLabelValues("infection")), 7},
		{"deaths", testutil.ToFloat64(m.transitions.WithLabelValues("death")), 1},
		{"infectious gauge", testutil.ToFloat64(m.compartments.WithLabelValues("infectious")), 9},
		{"infected tracts", testutil.ToFloat64(m.infectedTracts), 6},
		{"day", testutil.ToFloat64(m.simDay), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.stepDuration); n != 1 {
		t.Errorf("step duration series = %d, want 1", n)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RunStarted(epidemic.Aggregate{Infectious: 3})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"cura_runs_started_total 1", `cura_compartment_people{compartment="infectious"} 3`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RunStarted(epidemic.Aggregate{})
	m.ObserveDay(epidemic.DayReport{}, epidemic.Aggregate{}, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}
