// Package metrics records ingestion run metrics with Prometheus.
//
// A Recorder owns its registry, so several can coexist in one process (tests,
// the scheduler loop). Batch runs publish through WriteTextfile for the node
// exporter textfile collector.
//
//   - convoetl_runs_total{outcome}: success | failed
//   - convoetl_rows_loaded_total{table}
//   - convoetl_stage_duration_seconds{stage}
//   - convoetl_last_success_timestamp_seconds
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "convoetl"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Recorder collects metrics for pipeline runs. A nil Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	rowsLoaded    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
}

// NewRecorder registers the run metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of ingestion runs by outcome.",
			},
			[]string{"outcome"},
		),
		rowsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "Total number of rows inserted by table.",
			},
			[]string{"table"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds.",
				// 10ms → 20ms → ... → ~82s
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"stage"},
		),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful ingestion run.",
		}),
	}
}

// WithProcessCollectors adds Go runtime and process metrics, for long-running
// serve mode.
func (r *Recorder) WithProcessCollectors() *Recorder {
	if r != nil {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RowsLoaded adds n inserted rows for table.
func (r *Recorder) RowsLoaded(table string, n int64) {
	if r == nil {
		return
	}
	r.rowsLoaded.WithLabelValues(table).Add(float64(n))
}

// RunFinished counts a completed run. A successful run also sets the last
// success timestamp to at.
func (r *Recorder) RunFinished(outcome string, at time.Time) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		r.lastSuccess.Set(float64(at.Unix()))
	}
}

// WriteTextfile writes the registry in text exposition format to path,
// atomically replacing any previous file.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
