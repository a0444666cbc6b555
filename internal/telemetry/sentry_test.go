package telemetry

import (
	stderrors "errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/errors"
)

// Sentry state is process global, so these tests do not run in parallel.

func sentrySettings(enabled bool, dsn string) *conf.Settings {
	s := &conf.Settings{}
	s.Sentry.Enabled = enabled
	s.Sentry.DSN = dsn
	s.Sentry.Environment = "test"
	return s
}

func TestInitSentryDisabled(t *testing.T) {
	t.Cleanup(func() { errors.SetTelemetryReporter(nil) })

	require.NoError(t, InitSentry(sentrySettings(false, "https://key@example.invalid/1"), "1.0.0"))
	assert.Nil(t, errors.GetTelemetryReporter())

	require.NoError(t, InitSentry(sentrySettings(true, ""), "1.0.0"))
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestInitSentryReportsEnhancedErrors(t *testing.T) {
	transport := NewMockTransport()
	t.Cleanup(func() { Flush(DefaultFlushTimeout) })

	err := InitSentry(sentrySettings(true, "https://key@o0.ingest.example.com/1"), "1.2.3", WithTransport(transport))
	require.NoError(t, err)
	require.NotNil(t, errors.GetTelemetryReporter())

	_ = errors.New(stderrors.New("post https://discord.com/api/webhooks/1/secret-token failed")).
		Component("notification").
		Category(errors.CategoryDelivery).
		Build()

	events := transport.GetEvents()
	require.Len(t, events, 1)
	event := events[0]

	assert.Equal(t, "dipper@1.2.3", event.Release)
	assert.Equal(t, "test", event.Environment)
	assert.Equal(t, sentry.LevelWarning, event.Level)
	assert.Equal(t, "notification", event.Tags["component"])
	assert.NotContains(t, event.Message, "secret-token")
	assert.Empty(t, event.ServerName)
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "birding-box",
		User:       sentry.User{ID: "u1", IPAddress: "10.0.0.2"},
		Contexts: map[string]sentry.Context{
			"device":      {"arch": "arm64"},
			"os":          {"name": "linux"},
			"application": {"name": "dipper"},
		},
		Extra: map[string]any{"component": "pipeline", "webhook": "https://..."},
		Tags:  map[string]string{"hostname": "birding-box", "category": "delivery"},
		Request: &sentry.Request{
			QueryString: "key=secret",
			Headers:     map[string]string{"X-eBirdApiToken": "secret"},
		},
	}

	filtered := applyPrivacyFilters(event)

	assert.Empty(t, filtered.ServerName)
	assert.True(t, filtered.User.IsEmpty())
	assert.Equal(t, []string{"application"}, keys(filtered.Contexts))
	assert.Equal(t, map[string]any{"component": "pipeline"}, filtered.Extra)
	assert.Equal(t, map[string]string{"category": "delivery"}, filtered.Tags)
	assert.Empty(t, filtered.Request.QueryString)
	assert.Nil(t, filtered.Request.Headers)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
