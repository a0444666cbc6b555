// Package telemetry wires opt-in Sentry error reporting. Events are stripped of
// host and user identifying data before they leave the process.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// DefaultFlushTimeout bounds how long Flush waits for queued events on shutdown.
const DefaultFlushTimeout = 2 * time.Second

// Option configures InitSentry.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK and registers it as the error
// reporter. It does nothing unless Sentry is enabled with a DSN.
func InitSentry(settings *conf.Settings, version string, opts ...Option) error {
	log := logger.Global().Module("telemetry")

	if !settings.Sentry.Enabled {
		log.Debug("sentry telemetry is disabled")
		return nil
	}
	if settings.Sentry.DSN == "" {
		log.Warn("sentry enabled without a dsn, telemetry stays off")
		return nil
	}

	environment := settings.Sentry.Environment
	if environment == "" {
		environment = "production"
	}

	options := sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "", // never send the hostname
		Release:          fmt.Sprintf("dipper@%s", version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":       "dipper",
			"version":    version,
			"go_version": runtime.Version(),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", options.Release))
	return nil
}

// Flush waits up to timeout for queued events and detaches the error reporter.
func Flush(timeout time.Duration) bool {
	errors.SetTelemetryReporter(nil)
	return sentry.Flush(timeout)
}

// applyPrivacyFilters drops user, host and runtime details from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	if event.Request != nil {
		event.Request.Cookies = ""
		event.Request.Headers = nil
		event.Request.QueryString = ""
	}

	return event
}
