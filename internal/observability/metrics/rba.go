package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RBAMetrics contains Prometheus metrics for pipeline runs.
// It satisfies pipeline.MetricsRecorder.
type RBAMetrics struct {
	PipelineRunsTotal  *prometheus.CounterVec
	RegionRunsTotal    *prometheus.CounterVec
	ObservationsTotal  *prometheus.CounterVec
	MessagesTotal      *prometheus.CounterVec
	RegionDuration     prometheus.Histogram
	BucketChangesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRBAMetrics creates and registers pipeline metrics.
func NewRBAMetrics(registry *prometheus.Registry) (*RBAMetrics, error) {
	m := &RBAMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register RBA metrics: %w", err)
	}
	return m, nil
}

func (m *RBAMetrics) initMetrics() {
	m.PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rba_pipeline_runs_total",
			Help: "Total number of pipeline runs by trigger",
		},
		[]string{"trigger"}, // scheduled, on_demand
	)

	m.RegionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rba_region_runs_total",
			Help: "Total number of region runs by region and status",
		},
		[]string{"region", "status"},
	)

	m.ObservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rba_observations_total",
			Help: "Observations fetched per region, converted or skipped",
		},
		[]string{"region", "result"},
	)

	m.MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rba_messages_total",
			Help: "Rendered messages per region",
		},
		[]string{"region"},
	)

	m.RegionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rba_region_duration_seconds",
		Help:    "Time taken to fetch, render, deliver and persist one region",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10), // 100ms to ~51s
	})

	m.BucketChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_bucket_changes_total",
			Help: "Thread recency bucket transitions by new bucket",
		},
		[]string{"bucket"},
	)
}

// RecordRun counts a pipeline run.
func (m *RBAMetrics) RecordRun(trigger string) {
	m.PipelineRunsTotal.WithLabelValues(trigger).Inc()
}

// RecordRegion records the outcome and duration of a region run.
func (m *RBAMetrics) RecordRegion(region, status string, d time.Duration) {
	m.RegionRunsTotal.WithLabelValues(region, status).Inc()
	m.RegionDuration.Observe(d.Seconds())
}

// RecordObservations adds n observations with the given result.
func (m *RBAMetrics) RecordObservations(region, result string, n int) {
	m.ObservationsTotal.WithLabelValues(region, result).Add(float64(n))
}

// RecordMessages adds n rendered messages.
func (m *RBAMetrics) RecordMessages(region string, n int) {
	m.MessagesTotal.WithLabelValues(region).Add(float64(n))
}

// RecordBucketChange counts a thread moving into bucket.
func (m *RBAMetrics) RecordBucketChange(bucket string) {
	m.BucketChangesTotal.WithLabelValues(bucket).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *RBAMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PipelineRunsTotal.Describe(ch)
	m.RegionRunsTotal.Describe(ch)
	m.ObservationsTotal.Describe(ch)
	m.MessagesTotal.Describe(ch)
	m.RegionDuration.Describe(ch)
	m.BucketChangesTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *RBAMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PipelineRunsTotal.Collect(ch)
	m.RegionRunsTotal.Collect(ch)
	m.ObservationsTotal.Collect(ch)
	m.MessagesTotal.Collect(ch)
	m.RegionDuration.Collect(ch)
	m.BucketChangesTotal.Collect(ch)
}
