package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EBirdMetrics contains Prometheus metrics for the eBird API client.
// It satisfies ebird.MetricsRecorder.
type EBirdMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheHitsTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewEBirdMetrics creates and registers eBird client metrics.
func NewEBirdMetrics(registry *prometheus.Registry) (*EBirdMetrics, error) {
	m := &EBirdMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register eBird metrics: %w", err)
	}
	return m, nil
}

func (m *EBirdMetrics) initMetrics() {
	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebird_api_requests_total",
			Help: "Total number of eBird API requests by endpoint and status",
		},
		[]string{"endpoint", "status"}, // status: HTTP code or transport_error
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebird_api_request_duration_seconds",
			Help:    "Latency of eBird API requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"endpoint"},
	)

	m.CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebird_api_cache_hits_total",
			Help: "Total number of eBird reference data requests served from cache",
		},
		[]string{"endpoint"},
	)
}

// RecordRequest records one HTTP exchange with the API.
func (m *EBirdMetrics) RecordRequest(endpoint, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordCacheHit records a request answered from the client cache.
func (m *EBirdMetrics) RecordCacheHit(endpoint string) {
	m.CacheHitsTotal.WithLabelValues(endpoint).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *EBirdMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RequestsTotal.Describe(ch)
	m.RequestDuration.Describe(ch)
	m.CacheHitsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EBirdMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RequestsTotal.Collect(ch)
	m.RequestDuration.Collect(ch)
	m.CacheHitsTotal.Collect(ch)
}
