// Package observability wires dipper's Prometheus collectors into one registry.
// Error telemetry (Sentry) lives in the telemetry package.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/dipper-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	RBA       *metrics.RBAMetrics
	EBird     *metrics.EBirdMetrics
	Delivery  *metrics.DeliveryMetrics
	Datastore *metrics.DatastoreMetrics
}

// NewMetrics creates a private registry and registers every collector on it,
// plus the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	rbaMetrics, err := metrics.NewRBAMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create RBA metrics: %w", err)
	}

	ebirdMetrics, err := metrics.NewEBirdMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create eBird metrics: %w", err)
	}

	deliveryMetrics, err := metrics.NewDeliveryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		RBA:       rbaMetrics,
		EBird:     ebirdMetrics,
		Delivery:  deliveryMetrics,
		Datastore: datastoreMetrics,
	}, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
