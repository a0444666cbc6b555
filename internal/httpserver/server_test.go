package httpserver

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/buildinfo"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/pipeline"
	"github.com/tphakala/dipper-go/internal/regions"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) RunRegion(ctx context.Context, route pipeline.Route) (pipeline.RegionResult, error) {
	args := m.Called(ctx, route)
	return args.Get(0).(pipeline.RegionResult), args.Error(1)
}

type mockLookup struct{ mock.Mock }

func (m *mockLookup) Lookup(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

type staticThreads struct {
	threads []observation.Thread
	err     error
}

func (s staticThreads) GetAllThreads(context.Context) ([]observation.Thread, error) {
	return s.threads, s.err
}

func notFound(query string) error {
	return errors.New(regions.ErrRegionNotFound).
		Category(errors.CategoryRegionLookup).
		Context("query", query).
		Build()
}

func routesFunc(routes ...pipeline.Route) pipeline.RoutesFunc {
	return func(context.Context) (pipeline.Routes, error) { return pipeline.NewRoutes(routes...), nil }
}

func newTestServer(t *testing.T, cfg Config, runner RegionRunner, lookup RegionLookup, threads ThreadLister) *Server {
	t.Helper()
	if cfg.Build == nil {
		cfg.Build = buildinfo.NewContext("1.2.3", "2024-06-15")
	}
	return New(cfg, runner, lookup, threads, WithLogger(logger.NewDiscardLogger()))
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, Config{}, nil, nil, staticThreads{})

		rec := do(t, s, http.MethodGet, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[map[string]any](t, rec)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "1.2.3", body["version"])
		assert.Equal(t, "2024-06-15", body["build_date"])
		assert.Equal(t, "connected", body["database_status"])
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, Config{}, nil, nil, staticThreads{err: stderrors.New("closed")})

		body := decode[map[string]any](t, do(t, s, http.MethodGet, "/healthz"))
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "disconnected", body["database_status"])
	})

	t.Run("webhook circuit open", func(t *testing.T) {
		t.Parallel()
		health := staticHealth{stats: []notification.BreakerStatus{{
			Destination:         "discord/123",
			CircuitBreakerStats: notification.CircuitBreakerStats{State: notification.StateOpen, Failures: 5},
		}}}
		s := newTestServer(t, Config{Notifications: health}, nil, nil, staticThreads{})

		body := decode[map[string]any](t, do(t, s, http.MethodGet, "/healthz"))
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "connected", body["database_status"])

		notifications, ok := body["notifications"].([]any)
		require.True(t, ok)
		require.Len(t, notifications, 1)
		entry := notifications[0].(map[string]any)
		assert.Equal(t, "discord/123", entry["destination"])
		assert.Equal(t, "open", entry["state"])
	})
}

type staticHealth struct {
	stats []notification.BreakerStatus
}

func (h staticHealth) BreakerStats() []notification.BreakerStatus { return h.stats }

func (h staticHealth) Healthy() bool {
	for _, st := range h.stats {
		if !st.IsHealthy() {
			return false
		}
	}
	return true
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{Metrics: promhttp.Handler()}, nil, nil, staticThreads{})
	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	bare := newTestServer(t, Config{}, nil, nil, staticThreads{})
	assert.Equal(t, http.StatusNotFound, do(t, bare, http.MethodGet, "/metrics").Code)
}

func TestRunRegion(t *testing.T) {
	t.Parallel()

	t.Run("delivers to routed destination", func(t *testing.T) {
		t.Parallel()

		lookup := &mockLookup{}
		lookup.On("Lookup", mock.Anything, "boulder").Return("US-CO-013", nil)
		runner := &mockRunner{}
		runner.On("RunRegion", mock.Anything, pipeline.Route{Region: "US-CO-013", Name: "Boulder", Destination: "dest"}).
			Return(pipeline.RegionResult{Region: "US-CO-013", Status: pipeline.StatusSuccess, Messages: []string{"m1"}, Delivered: 1, Fetched: 1, Converted: 1}, nil)

		s := newTestServer(t, Config{Routes: routesFunc(pipeline.Route{Region: "US-CO-013", Name: "Boulder", Destination: "dest"})},
			runner, lookup, staticThreads{})

		rec := do(t, s, http.MethodPost, "/api/v1/rba/boulder")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[RunResponse](t, rec)
		assert.Equal(t, "US-CO-013", body.Region)
		assert.True(t, body.Delivered)
		assert.Equal(t, []string{"m1"}, body.Messages)
		assert.Equal(t, 1, body.Sent)
		runner.AssertExpectations(t)
	})

	t.Run("render only", func(t *testing.T) {
		t.Parallel()

		lookup := &mockLookup{}
		lookup.On("Lookup", mock.Anything, "US-CO-013").Return("US-CO-013", nil)
		runner := &mockRunner{}
		runner.On("RunRegion", mock.Anything, pipeline.Route{Region: "US-CO-013", Name: "US-CO-013"}).
			Return(pipeline.RegionResult{Status: pipeline.StatusSuccess, Messages: []string{"m1"}}, nil)

		s := newTestServer(t, Config{Routes: routesFunc(pipeline.Route{Region: "US-CO-013", Destination: "dest"})},
			runner, lookup, staticThreads{})

		body := decode[RunResponse](t, do(t, s, http.MethodPost, "/api/v1/rba/US-CO-013?deliver=false"))
		assert.False(t, body.Delivered)
		runner.AssertExpectations(t)
	})

	t.Run("unknown region", func(t *testing.T) {
		t.Parallel()

		lookup := &mockLookup{}
		lookup.On("Lookup", mock.Anything, "atlantis").Return("", notFound("atlantis"))
		s := newTestServer(t, Config{}, &mockRunner{}, lookup, staticThreads{})

		rec := do(t, s, http.MethodPost, "/api/v1/rba/atlantis")
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decode[ErrorResponse](t, rec)
		assert.Equal(t, "region not found", body.Message)
		assert.Len(t, body.CorrelationID, 8)
	})

	t.Run("bad deliver flag", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, Config{}, &mockRunner{}, &mockLookup{}, staticThreads{})
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/rba/boulder?deliver=maybe").Code)
	})

	t.Run("delivery failure", func(t *testing.T) {
		t.Parallel()

		lookup := &mockLookup{}
		lookup.On("Lookup", mock.Anything, "boulder").Return("US-CO-013", nil)
		runner := &mockRunner{}
		runner.On("RunRegion", mock.Anything, mock.Anything).
			Return(pipeline.RegionResult{Status: pipeline.StatusDeliveryError, Messages: []string{"m1"}},
				stderrors.New("post https://discord.com/api/webhooks/1/secret-token: 500"))

		s := newTestServer(t, Config{Routes: routesFunc(pipeline.Route{Region: "US-CO-013", Destination: "dest"})},
			runner, lookup, staticThreads{})

		rec := do(t, s, http.MethodPost, "/api/v1/rba/boulder")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		body := decode[RunResponse](t, rec)
		assert.Equal(t, pipeline.StatusDeliveryError, body.Status)
		assert.False(t, body.Delivered)
		assert.NotContains(t, body.Error, "secret-token")
	})
}

func TestListThreads(t *testing.T) {
	t.Parallel()

	seen := time.Date(2024, 6, 14, 18, 0, 0, 0, time.UTC)
	threads := staticThreads{threads: []observation.Thread{
		{TrackerKey: "Snowy Owl|US-CO-013", ThreadID: "https://discord.com/api/webhooks/42/token", Type: "bot", LastSeenAt: &seen, StatusBucket: "<24h"},
		{TrackerKey: "Smew|US-CO-031", Type: "user", StatusBucket: "No reports"},
	}}
	s := newTestServer(t, Config{}, nil, nil, threads)

	rec := do(t, s, http.MethodGet, "/api/v1/threads")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token")

	body := decode[[]ThreadResponse](t, rec)
	require.Len(t, body, 2)
	assert.Equal(t, "Snowy Owl", body[0].Species)
	assert.Equal(t, "US-CO-013", body[0].Region)
	assert.Equal(t, "discord/42", body[0].Destination)
	assert.True(t, seen.Equal(*body[0].LastSeenAt))
	assert.Empty(t, body[1].Destination)
}

func TestLookupRegion(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{}
	lookup.On("Lookup", mock.Anything, "El Paso").Return("US-CO-041", nil)
	lookup.On("Lookup", mock.Anything, "Gotham").Return("", notFound("Gotham"))
	lookup.On("Lookup", mock.Anything, "Boom").Return("", stderrors.New("db closed"))
	s := newTestServer(t, Config{}, nil, lookup, staticThreads{})

	rec := do(t, s, http.MethodGet, "/api/v1/regions/lookup?name=El+Paso")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"name": "El Paso", "code": "US-CO-041"}, decode[map[string]string](t, rec))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/regions/lookup?name=Gotham").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/api/v1/regions/lookup?name=Boom").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/regions/lookup").Code)
}
