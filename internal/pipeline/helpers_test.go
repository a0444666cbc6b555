package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/datastore"
	"github.com/tphakala/dipper-go/internal/ebird"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/mqtt"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/timezone"
)

// 2024-06-15 06:00 in Denver
var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type fixedFinder string

func (f fixedFinder) ZoneAt(_, _ float64) string { return string(f) }

func ptr(v float64) *float64 { return &v }

func record(subID, species, observer, obsDt string) ebird.Observation {
	return ebird.Observation{
		SubID:           subID,
		ComName:         species,
		LocName:         "Walden Ponds",
		ObsDt:           obsDt,
		Lat:             ptr(40.05),
		Lng:             ptr(-105.18),
		UserDisplayName: observer,
	}
}

type fakeSource struct {
	mu      sync.Mutex
	records map[string][]ebird.Observation
	errs    map[string]error
	calls   []string
}

func (f *fakeSource) RecentNotable(_ context.Context, region string) ([]ebird.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, region)
	if err := f.errs[region]; err != nil {
		return nil, err
	}
	return f.records[region], nil
}

type sent struct {
	Destination string
	Message     string
	Silent      bool
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []sent
	failAt int // 1-based send number to fail, 0 never
	err    error
}

func (r *recordingSender) Send(_ context.Context, destination, message string, silent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		r.failAt = 0
		return r.err
	}
	r.sent = append(r.sent, sent{Destination: destination, Message: message, Silent: silent})
	return nil
}

func (r *recordingSender) Sent() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	summaries []mqtt.Summary
}

func (r *recordingPublisher) PublishSummary(_ context.Context, s mqtt.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	runs    []string
	regions map[string]string
	buckets []string
}

func (f *fakeRecorder) RecordRun(trigger string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, trigger)
}

func (f *fakeRecorder) RecordRegion(region, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regions == nil {
		f.regions = make(map[string]string)
	}
	f.regions[region] = status
}

func (f *fakeRecorder) RecordObservations(string, string, int) {}
func (f *fakeRecorder) RecordMessages(string, int)             {}

func (f *fakeRecorder) RecordBucketChange(bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
}

func newTestStore(t *testing.T) *datastore.SQLiteStore {
	t.Helper()
	store := datastore.NewSQLiteStore(filepath.Join(t.TempDir(), "dipper.db"), false)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestConverter() *timezone.Converter {
	return timezone.NewConverter(timezone.NewResolver(fixedFinder("America/Denver"),
		timezone.WithLogger(logger.NewDiscardLogger())))
}

func newTestPipeline(t *testing.T, source Source, store Store, sender *recordingSender, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{WithClock(testClock), WithLogger(logger.NewDiscardLogger())}
	var s notification.Sender
	if sender != nil {
		s = sender
	}
	p := New(source, store, s, newTestConverter(), append(base, opts...)...)
	p.newRunID = func() string { return "run-1" }
	return p
}
