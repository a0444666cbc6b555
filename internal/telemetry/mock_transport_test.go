package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// MockTransport implements sentry.Transport for testing
type MockTransport struct {
	mu     sync.RWMutex
	events []*sentry.Event
}

func NewMockTransport() *MockTransport {
	return &MockTransport{events: make([]*sentry.Event, 0)}
}

//nolint:gocritic // hugeParam: interface requirement, cannot change signature
func (t *MockTransport) Configure(_ sentry.ClientOptions) {}

func (t *MockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *MockTransport) Flush(_ time.Duration) bool { return true }

func (t *MockTransport) FlushWithContext(ctx context.Context) bool {
	return ctx.Err() == nil
}

func (t *MockTransport) Close() {}

// GetEvents returns a copy of the captured events
func (t *MockTransport) GetEvents() []*sentry.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := make([]*sentry.Event, len(t.events))
	copy(events, t.events)
	return events
}
