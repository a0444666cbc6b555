package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics contains Prometheus metrics for message delivery.
// It satisfies notification.MetricsRecorder.
type DeliveryMetrics struct {
	DeliveriesTotal     *prometheus.CounterVec // by sender and status
	CircuitBreakerState *prometheus.GaugeVec   // 0=closed, 1=half-open, 2=open

	registry *prometheus.Registry
}

// NewDeliveryMetrics creates and registers delivery metrics.
func NewDeliveryMetrics(registry *prometheus.Registry) (*DeliveryMetrics, error) {
	m := &DeliveryMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register delivery metrics: %w", err)
	}
	return m, nil
}

func (m *DeliveryMetrics) initMetrics() {
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_total",
			Help: "Total number of message deliveries by sender and status",
		},
		[]string{"sender", "status"}, // status: success, error, rejected
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delivery_circuit_breaker_state",
			Help: "Circuit breaker state per destination (0=closed, 1=half-open, 2=open)",
		},
		[]string{"destination"},
	)
}

// RecordDelivery counts one delivery attempt.
func (m *DeliveryMetrics) RecordDelivery(sender, status string) {
	m.DeliveriesTotal.WithLabelValues(sender, status).Inc()
}

// SetCircuitState records the breaker state of a destination.
func (m *DeliveryMetrics) SetCircuitState(destination string, state int) {
	m.CircuitBreakerState.WithLabelValues(destination).Set(float64(state))
}

// Describe implements the prometheus.Collector interface.
func (m *DeliveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DeliveriesTotal.Describe(ch)
	m.CircuitBreakerState.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DeliveryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DeliveriesTotal.Collect(ch)
	m.CircuitBreakerState.Collect(ch)
}
