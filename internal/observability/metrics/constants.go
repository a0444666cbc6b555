// Package metrics provides the Prometheus collectors for dipper's components.
package metrics

// Histogram bucket parameters shared by the collectors.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms.
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms.
	BucketStart100ms = 0.1

	BucketFactor2 = 2

	BucketCount10 = 10
	BucketCount12 = 12
	BucketCount15 = 15
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
