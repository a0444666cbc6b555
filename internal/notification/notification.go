// Package notification delivers rendered RBA messages to chat destinations.
//
// A destination is a URL. Discord webhook URLs are posted to directly by
// DiscordSender; any other scheme is handed to shoutrrr. Router picks the
// sender per destination and wraps failures in ErrDeliveryFailure.
package notification

import (
	"context"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/httpclient"
	"github.com/tphakala/dipper-go/internal/logger"
)

// ErrDeliveryFailure is returned when a message could not be delivered.
var ErrDeliveryFailure = errors.NewStd("delivery failed")

// Delivery outcome labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected" // circuit breaker refused the attempt
)

// Sender delivers a single message to a destination. silent suppresses push
// notifications where the platform supports it.
type Sender interface {
	Send(ctx context.Context, destination, message string, silent bool) error
}

// MetricsRecorder receives delivery metrics.
// *metrics.DeliveryMetrics satisfies it.
type MetricsRecorder interface {
	RecordDelivery(sender, status string)
	SetCircuitState(destination string, state int)
}

type options struct {
	http     *httpclient.Client
	log      logger.Logger
	recorder MetricsRecorder
}

// Option configures a sender or router.
type Option func(*options)

// WithHTTPClient sets the HTTP client used for webhook posts.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(o *options) { o.http = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the delivery metrics recorder.
func WithMetrics(r MetricsRecorder) Option {
	return func(o *options) { o.recorder = r }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("notification")
	}
	return o
}
