package ebird

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/logger"
)

// mockResponse represents a mocked HTTP response
type mockResponse struct {
	status      int
	body        string
	contentType string
}

// setupTestClient creates a fast client against server with no retry delay
func setupTestClient(tb testing.TB, server *httptest.Server, opts ...Option) *Client {
	tb.Helper()

	config := Config{
		APIKey:        "test-key",
		BaseURL:       server.URL,
		Timeout:       5 * time.Second,
		CacheTTL:      time.Hour,
		RateLimit:     1000,
		RetryAttempts: 3,
	}

	opts = append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)
	client, err := NewClient(config, opts...)
	require.NoError(tb, err)
	client.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	tb.Cleanup(client.Close)
	return client
}

// setupMockServer serves responses keyed by path plus query string.
// Unknown paths return 404. The returned counter reports hits per key.
func setupMockServer(tb testing.TB, responses map[string][]mockResponse) (*httptest.Server, *hitCounter) {
	tb.Helper()

	hits := &hitCounter{counts: make(map[string]int)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-eBirdApiToken") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"title": "Unauthorized", "status": 401, "detail": "Missing API key"}`))
			return
		}

		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		n := hits.inc(key)

		sequence, ok := responses[key]
		if !ok || len(sequence) == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"title": "Not Found", "status": 404, "detail": "Endpoint not found"}`))
			return
		}

		// the last response repeats once the sequence runs out
		response := sequence[min(n-1, len(sequence)-1)]
		contentType := response.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(response.status)
		_, _ = w.Write([]byte(response.body))
	}))
	tb.Cleanup(server.Close)

	return server, hits
}

type hitCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (h *hitCounter) inc(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[key]++
	return h.counts[key]
}

func (h *hitCounter) get(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[key]
}

type recordedRequest struct {
	endpoint string
	status   string
}

type fakeRecorder struct {
	mu        sync.Mutex
	requests  []recordedRequest
	cacheHits int
}

func (f *fakeRecorder) RecordRequest(endpoint, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{endpoint: endpoint, status: status})
}

func (f *fakeRecorder) RecordCacheHit(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheHits++
}
