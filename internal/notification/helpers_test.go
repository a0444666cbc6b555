package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/tphakala/dipper-go/internal/httpclient"
	"github.com/tphakala/dipper-go/internal/logger"
)

const testWebhook = "https://discord.com/api/webhooks/123/secret-token"

type fakeRecorder struct {
	mu         sync.Mutex
	deliveries map[string]int
	states     map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		deliveries: make(map[string]int),
		states:     make(map[string]int),
	}
}

func (f *fakeRecorder) RecordDelivery(sender, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[sender+"/"+status]++
}

func (f *fakeRecorder) SetCircuitState(destination string, state int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[destination] = state
}

func (f *fakeRecorder) delivered(sender, status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[sender+"/"+status]
}

func (f *fakeRecorder) circuitState(destination string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[destination]
}

// newMockedDiscord returns a sender whose HTTP traffic goes to a fresh mock
// transport and whose 429 waits are recorded instead of slept.
func newMockedDiscord(t *testing.T, config DiscordConfig, opts ...Option) (*DiscordSender, *httpmock.MockTransport, *[]time.Duration) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)

	if config.RateLimit == 0 {
		config.RateLimit = 1000
	}

	opts = append([]Option{WithHTTPClient(client), WithLogger(logger.NewDiscardLogger())}, opts...)
	s := NewDiscordSender(config, opts...)

	var mu sync.Mutex
	waits := &[]time.Duration{}
	s.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*waits = append(*waits, d)
		return nil
	}
	return s, transport, waits
}
