// Package metrics exposes import run metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/tabimport/internal/core"
)

const namespace = "tabimport"

// Run results.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Metrics records import runs. It is a core.Observer.
type Metrics struct {
	gatherer prometheus.Gatherer

	runs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	degraded *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// New registers the import metrics with reg. Passing nil registers them on
// a fresh registry, which is what tests want.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Total number of finished import runs.",
		}, []string{"kind", "result"}),
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Rows processed by import runs, by outcome.",
		}, []string{"kind", "outcome"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_degraded_values_total",
			Help:      "Field values that fell back to a default during mapping.",
		}, []string{"kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Duration of import runs.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imports_active",
			Help:      "Import runs currently in progress.",
		}),
	}
}

func (m *Metrics) ObserveImport(res *core.ImportResult, err error) {
	if res == nil {
		return
	}
	kind := string(res.Kind)

	result := ResultSuccess
	if err != nil {
		result = ResultFailed
	}
	m.runs.WithLabelValues(kind, result).Inc()

	for outcome, n := range map[string]int{
		"added":        res.Added,
		"updated":      res.Updated,
		"skipped":      res.Skipped,
		"filtered":     res.Filtered,
		"blank":        res.Blank,
		"failed":       res.Failed,
		"write_failed": res.WriteFailed,
	} {
		if n > 0 {
			m.rows.WithLabelValues(kind, outcome).Add(float64(n))
		}
	}
	if res.Degraded > 0 {
		m.degraded.WithLabelValues(kind).Add(float64(res.Degraded))
	}
	m.duration.WithLabelValues(kind).Observe(res.Duration.Seconds())
}

// RunStarted and RunFinished track in-flight runs.
func (m *Metrics) RunStarted()  { m.active.Inc() }
func (m *Metrics) RunFinished() { m.active.Dec() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Observers fans one run out to several observers.
type Observers []core.Observer

func (o Observers) ObserveImport(res *core.ImportResult, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveImport(res, err)
		}
	}
}
