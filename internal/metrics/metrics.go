// Package metrics exposes load outcomes in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/covid-loader/internal/model"
)

const namespace = "covid_loader"

// Recorder counts load summaries on its own registry.
type Recorder struct {
	reg *prometheus.Registry

	loads      *prometheus.CounterVec
	rows       *prometheus.CounterVec
	facts      prometheus.Counter
	mismatches prometheus.Counter
	warnings   prometheus.Counter
	duration   prometheus.Histogram
}

// New creates a Recorder with Go runtime collectors registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "File loads by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Data rows by disposition.",
		}, []string{"disposition"}),
		facts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_written_total",
			Help:      "Facts appended to the store.",
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mismatches_total",
			Help:      "Non-repeating simple attributes seen within a group.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Row-level problems logged and skipped.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Wall time per file load.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
	}
	r.reg.MustRegister(
		r.loads, r.rows, r.facts, r.mismatches, r.warnings, r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records one summary. Nil summaries are ignored.
func (r *Recorder) Observe(s *model.LoadSummary) {
	if s == nil {
		return
	}
	r.loads.WithLabelValues(s.Outcome()).Inc()
	r.rows.WithLabelValues("read").Add(float64(s.RowsRead))
	r.rows.WithLabelValues("loaded").Add(float64(s.RowsLoaded))
	r.rows.WithLabelValues("skipped").Add(float64(s.RowsSkipped))
	r.facts.Add(float64(s.FactsWritten))
	r.mismatches.Add(float64(s.Mismatches))
	r.warnings.Add(float64(s.Warnings))
	if d := s.Elapsed(); d > 0 {
		r.duration.Observe(d.Seconds())
	}
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
