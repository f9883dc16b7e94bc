package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobRetries    *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	AssetsByState *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstore",
			Subsystem: "pipeline",
			Name:      "jobs_processed_total",
			Help:      "Processing jobs finished, by job type and result.",
		}, []string{"job", "result"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetstore",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of processing jobs.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),

		JobRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstore",
			Subsystem: "pipeline",
			Name:      "job_retries_total",
			Help:      "Retries scheduled for failed mandatory jobs.",
		}, []string{"job"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetstore",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Jobs currently waiting in the queue.",
		}),

		AssetsByState: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetstore",
			Subsystem: "pipeline",
			Name:      "assets_finished_total",
			Help:      "Assets that reached a terminal processing state.",
		}, []string{"state"}),
	}
}

// NopMetrics returns collectors bound to a throwaway registry, for tests and
// embedders that do not scrape.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
