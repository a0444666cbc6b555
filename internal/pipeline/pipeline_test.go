package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/ebird"
	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/rba"
)

const (
	boulder = "US-CO-013"
	denver  = "US-CO-031"
)

func TestRunDeliversAndPersists(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		records: map[string][]ebird.Observation{
			boulder: {
				record("S1", "Snowy Owl", "Ann", "2024-06-15 05:30"),
				record("S2", "Snowy Owl", "Bob", "2024-06-15 04:10:22"),
			},
		},
		errs: map[string]error{denver: errors.New("eBird unavailable")},
	}
	store := newTestStore(t)
	sender := &recordingSender{}
	recorder := &fakeRecorder{}
	p := newTestPipeline(t, source, store, sender,
		WithConfig(Config{Silent: true}), WithMetrics(recorder))

	routes := NewRoutes(
		Route{Region: boulder, Name: "Boulder", Destination: "discord-boulder"},
		Route{Region: denver, Name: "Denver", Destination: "discord-denver"},
	)
	result, err := p.Run(t.Context(), routes, TriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	require.Len(t, result.Regions, 2)

	b := result.Regions[0]
	assert.Equal(t, StatusSuccess, b.Status)
	assert.Equal(t, 2, b.Fetched)
	assert.Equal(t, 2, b.Converted)
	assert.Equal(t, 2, b.Persisted)
	require.Len(t, b.Messages, 1)
	assert.Contains(t, b.Messages[0], "__**Snowy Owl**__ @ [Walden Ponds]")
	assert.Contains(t, b.Messages[0], "2024-06-15 05:30")
	assert.Contains(t, b.Messages[0], "Also reported in last 24 hours by: [Bob]")

	d := result.Regions[1]
	assert.Equal(t, StatusFetchError, d.Status)
	require.Error(t, d.Err)

	assert.Equal(t, []sent{{Destination: "discord-boulder", Message: b.Messages[0], Silent: true}}, sender.Sent())

	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, denver, failed[0].Region)

	obs, err := store.GetChecklist(t.Context(), "S2")
	require.NoError(t, err)
	assert.Equal(t, "America/Denver", obs.Zone)
	assert.Equal(t, "2024-06-15T10:10:00Z", obs.Instant.UTC().Format("2006-01-02T15:04:05Z"))

	assert.Equal(t, []string{TriggerScheduled}, recorder.runs)
	assert.Equal(t, map[string]string{boulder: StatusSuccess, denver: StatusFetchError}, recorder.regions)
}

func TestRunSkipsRecordsWithoutCoordinates(t *testing.T) {
	t.Parallel()

	noCoords := record("S3", "Snowy Owl", "Cat", "2024-06-15 05:30")
	noCoords.Lat, noCoords.Lng = nil, nil

	source := &fakeSource{records: map[string][]ebird.Observation{
		boulder: {record("S1", "Snowy Owl", "Ann", "2024-06-15 05:30"), noCoords},
	}}
	store := newTestStore(t)
	p := newTestPipeline(t, source, store, &recordingSender{})

	res, err := p.RunRegion(t.Context(), Route{Region: boulder, Destination: "dest"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 1, res.Skipped)

	_, err = store.GetChecklist(t.Context(), "S3")
	require.Error(t, err)
}

func TestEmptyRegionDelivery(t *testing.T) {
	t.Parallel()

	t.Run("scheduled run stays quiet", func(t *testing.T) {
		t.Parallel()
		sender := &recordingSender{}
		p := newTestPipeline(t, &fakeSource{}, newTestStore(t), sender)

		result, err := p.Run(t.Context(), NewRoutes(Route{Region: boulder, Destination: "dest"}), TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, []string{rba.EmptyRegionMessage}, result.Regions[0].Messages)
		assert.Empty(t, sender.Sent())
	})

	t.Run("on demand run reports empty region", func(t *testing.T) {
		t.Parallel()
		sender := &recordingSender{}
		p := newTestPipeline(t, &fakeSource{}, newTestStore(t), sender)

		res, err := p.RunRegion(t.Context(), Route{Region: boulder, Destination: "dest"})
		require.NoError(t, err)
		require.Len(t, sender.Sent(), 1)
		assert.Equal(t, rba.EmptyRegionMessage, sender.Sent()[0].Message)
		assert.Equal(t, 1, res.Delivered)
	})
}

func TestDeliveryStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	// two distant locations with long names force two messages
	far := record("S2", "Ross's Gull", "Bob", "2024-06-15 05:00")
	far.Lat, far.Lng = ptr(39.0), ptr(-104.0)
	far.LocName = strings.Repeat("Far Away Reservoir ", 60)
	near := record("S1", "Snowy Owl", "Ann", "2024-06-15 05:30")
	near.LocName = strings.Repeat("Walden Ponds ", 80)

	source := &fakeSource{records: map[string][]ebird.Observation{boulder: {near, far}}}
	store := newTestStore(t)
	sender := &recordingSender{failAt: 1, err: errors.New("webhook gone")}
	p := newTestPipeline(t, source, store, sender)

	res, err := p.RunRegion(t.Context(), Route{Region: boulder, Destination: "dest"})
	require.Error(t, err)
	assert.Equal(t, StatusDeliveryError, res.Status)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, 0, res.Delivered)
	assert.Empty(t, sender.Sent())

	// persisted regardless of delivery
	assert.Equal(t, 2, res.Persisted)
	_, err = store.GetChecklist(t.Context(), "S2")
	require.NoError(t, err)
}

func TestPersistLinksExistingThreads(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	key := observation.TrackerKey("Snowy Owl", boulder)
	require.NoError(t, store.SaveThread(t.Context(), &observation.Thread{TrackerKey: key, Type: observation.ThreadTypeBot}))

	source := &fakeSource{records: map[string][]ebird.Observation{boulder: {
		record("S1", "Snowy Owl", "Ann", "2024-06-15 05:30"),
		record("S2", "Snowy Owl", "Bob", "2024-06-15 04:30"),
		record("S3", "Ross's Gull", "Cat", "2024-06-15 04:00"),
	}}}
	p := newTestPipeline(t, source, store, nil)

	res, err := p.RunRegion(t.Context(), Route{Region: boulder})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Persisted)
	assert.Equal(t, 2, res.Linked)

	linked, err := store.GetChecklistsForThread(t.Context(), key)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, "S1", linked[0].ChecklistID)

	gull, err := store.GetChecklist(t.Context(), "S3")
	require.NoError(t, err)
	assert.Empty(t, gull.TrackerKey)
}

func TestRunRegionWithoutDestinationOnlyRenders(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: map[string][]ebird.Observation{boulder: {
		record("S1", "Snowy Owl", "Ann", "2024-06-15 05:30"),
	}}}
	sender := &recordingSender{}
	p := newTestPipeline(t, source, newTestStore(t), sender)

	res, err := p.RunRegion(t.Context(), Route{Region: boulder})
	require.NoError(t, err)
	assert.Len(t, res.Messages, 1)
	assert.Zero(t, res.Delivered)
	assert.Empty(t, sender.Sent())
}

func TestRunPublishesSummaries(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: map[string][]ebird.Observation{boulder: {
		record("S1", "Snowy Owl", "Ann", "2024-06-15 05:30"),
	}}}
	pub := &recordingPublisher{}
	p := newTestPipeline(t, source, newTestStore(t), &recordingSender{}, WithPublisher(pub))

	_, err := p.Run(t.Context(), NewRoutes(
		Route{Region: boulder, Destination: "a"},
		Route{Region: denver, Destination: "b"},
	), TriggerScheduled)
	require.NoError(t, err)

	require.Len(t, pub.summaries, 2)
	s := pub.summaries[0]
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, boulder, s.Region)
	assert.Equal(t, 1, s.Observations)
	assert.Equal(t, 1, s.Messages)
	assert.Equal(t, 1, s.Delivered)
	assert.Equal(t, testNow, s.Timestamp)
	assert.Equal(t, denver, pub.summaries[1].Region)
	assert.Zero(t, pub.summaries[1].Delivered)
}

func TestConcurrentFetchKeepsRouteOrder(t *testing.T) {
	t.Parallel()

	regions := []string{"US-CO-001", "US-CO-003", "US-CO-005", "US-CO-007"}
	source := &fakeSource{records: map[string][]ebird.Observation{}}
	var routes []Route
	for i, code := range regions {
		source.records[code] = []ebird.Observation{
			record("S"+code, "Snowy Owl", "Ann", "2024-06-15 05:30"),
		}
		if i == 2 {
			source.errs = map[string]error{code: errors.New("timeout")}
		}
		routes = append(routes, Route{Region: code, Destination: "dest-" + code})
	}

	sender := &recordingSender{}
	p := newTestPipeline(t, source, newTestStore(t), sender, WithConfig(Config{FetchConcurrency: 3}))

	result, err := p.Run(t.Context(), NewRoutes(routes...), TriggerScheduled)
	require.NoError(t, err)

	require.Len(t, result.Regions, 4)
	for i, code := range regions {
		assert.Equal(t, code, result.Regions[i].Region)
	}
	assert.Equal(t, StatusFetchError, result.Regions[2].Status)
	assert.Len(t, source.calls, 4)

	deliveredTo := make([]string, 0, 3)
	for _, s := range sender.Sent() {
		deliveredTo = append(deliveredTo, s.Destination)
	}
	assert.Equal(t, []string{"dest-US-CO-001", "dest-US-CO-003", "dest-US-CO-007"}, deliveredTo)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	p := newTestPipeline(t, &fakeSource{}, newTestStore(t), &recordingSender{})
	result, err := p.Run(ctx, NewRoutes(Route{Region: boulder, Destination: "dest"}), TriggerScheduled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Regions)
}
