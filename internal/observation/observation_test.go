package observation

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata" // Embed tzdata for CI compatibility

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dipper-go/internal/ebird"
)

type fakeConverter struct {
	gotLocal string
	err      error
}

func (f *fakeConverter) Convert(local string, lat, lon *float64) (time.Time, string, error) {
	f.gotLocal = local
	if f.err != nil {
		return time.Time{}, "", f.err
	}
	t, err := time.Parse("2006-01-02 15:04", local)
	if err != nil {
		return time.Time{}, "", err
	}
	return t.Add(6 * time.Hour), "America/Denver", nil
}

func fp(v float64) *float64 { return &v }

func TestFromRecord(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{}
	rec := ebird.Observation{
		SubID:           "S1",
		ComName:         "Snowy Owl",
		LocName:         "",
		ObsDt:           "2024-06-15 14:00:59",
		Lat:             fp(40.1),
		Lng:             fp(-105.1),
		UserDisplayName: "",
		HasRichMedia:    true,
	}

	obs, err := FromRecord(rec, "US-CO-013", conv)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-15 14:00", conv.gotLocal)
	assert.Equal(t, "S1", obs.ChecklistID)
	assert.Equal(t, "Snowy Owl", obs.Species)
	assert.Equal(t, "US-CO-013", obs.Region)
	assert.Equal(t, UnknownValue, obs.Location)
	assert.Equal(t, UnknownValue, obs.Observer)
	assert.Equal(t, time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC), obs.Instant)
	assert.Equal(t, "America/Denver", obs.Zone)
	assert.True(t, obs.HasMedia)
	assert.True(t, obs.HasCoordinates())
	assert.Empty(t, obs.TrackerKey)

	// coordinates are copied, not aliased
	*rec.Lat = 0
	assert.InDelta(t, 40.1, *obs.Lat, 1e-9)
}

func TestFromRecordPropagatesConversionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := FromRecord(ebird.Observation{ObsDt: "2024-06-15 14:00"}, "US-CO-013", &fakeConverter{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestTrackerKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := TrackerKey("Snowy Owl", "US-CO-013")
	assert.Equal(t, "Snowy Owl|US-CO-013", key)

	species, region, ok := SplitTrackerKey(key)
	require.True(t, ok)
	assert.Equal(t, "Snowy Owl", species)
	assert.Equal(t, "US-CO-013", region)

	_, _, ok = SplitTrackerKey("no separator")
	assert.False(t, ok)
}

func TestLocalTime(t *testing.T) {
	t.Parallel()

	obs := Observation{Instant: time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC), Zone: "America/Denver"}
	assert.Equal(t, "2024-06-15 14:00", obs.LocalTime().Format("2006-01-02 15:04"))

	obs.Zone = ""
	assert.Equal(t, "2024-06-15 20:00", obs.LocalTime().Format("2006-01-02 15:04"))

	obs.Zone = "Mars/Olympus_Mons"
	assert.Equal(t, "2024-06-15 20:00", obs.LocalTime().Format("2006-01-02 15:04"))
}

func TestLocalTimeLoadsZoneOnce(t *testing.T) {
	t.Parallel()

	obs := Observation{Instant: time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC), Zone: "America/Boise"}
	first := obs.LocalTime()

	cached, ok := locations.Load("America/Boise")
	require.True(t, ok)
	require.NotNil(t, cached)

	second := obs.LocalTime()
	assert.Same(t, first.Location(), second.Location())
	assert.Same(t, cached.(*time.Location), second.Location())
	assert.Equal(t, "2024-01-15 13:00", second.Format("2006-01-02 15:04"))

	obs.Zone = "Nowhere/Unknown"
	obs.LocalTime()
	unknown, ok := locations.Load("Nowhere/Unknown")
	require.True(t, ok, "unknown zones are cached too")
	assert.Nil(t, unknown)
}
