// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "phantom"

const (
	OutcomeSolved = "solved"
	OutcomeFailed = "failed"
)

type Metrics struct {
	Runs          *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	Clamped       prometheus.Counter
	Degenerate    prometheus.Counter
	Steps         prometheus.Counter
	Layers        prometheus.Gauge
	PlateauSpread prometheus.Gauge
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer to
// expose them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_runs_total",
			Help:      "Solver runs by outcome.",
		}, []string{"outcome"}),
		SolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_duration_seconds",
			Help:      "Wall time of a full pipeline run, ingestion included.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Clamped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_clamped_updates_total",
			Help:      "Weight updates that hit a clamp bound.",
		}),
		Degenerate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_curves_total",
			Help:      "Depth-dose curves left un-normalized because their peak was not positive.",
		}),
		Steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_steps_total",
			Help:      "Detector-volume steps accumulated into depth-dose curves.",
		}),
		Layers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layers",
			Help:      "Energy layers in the last solved run.",
		}),
		PlateauSpread: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plateau_spread",
			Help:      "Relative spread of the composite dose at the layer peaks in the last solved run.",
		}),
	}
}

func (m *Metrics) ObserveSolved(d time.Duration, layers, clamped int, spread float64) {
	m.Runs.WithLabelValues(OutcomeSolved).Inc()
	m.SolveDuration.Observe(d.Seconds())
	m.Clamped.Add(float64(clamped))
	m.Layers.Set(float64(layers))
	m.PlateauSpread.Set(spread)
}

func (m *Metrics) ObserveFailed(d time.Duration) {
	m.Runs.WithLabelValues(OutcomeFailed).Inc()
	m.SolveDuration.Observe(d.Seconds())
}
