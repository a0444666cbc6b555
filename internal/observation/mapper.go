package observation

import (
	"time"

	"github.com/tphakala/dipper-go/internal/ebird"
)

// Converter turns a naive local timestamp at a coordinate into UTC and
// reports the zone it used. *timezone.Converter satisfies it.
type Converter interface {
	Convert(local string, lat, lon *float64) (time.Time, string, error)
}

// minuteLayoutLen is len("2006-01-02 15:04"); seconds are dropped.
const minuteLayoutLen = 16

// FromRecord maps a raw eBird record seen in region to an Observation.
// Conversion errors are returned unchanged so callers can skip the record.
func FromRecord(rec ebird.Observation, region string, conv Converter) (Observation, error) {
	local := rec.ObsDt
	if len(local) > minuteLayoutLen {
		local = local[:minuteLayoutLen]
	}

	instant, zone, err := conv.Convert(local, rec.Lat, rec.Lng)
	if err != nil {
		return Observation{}, err
	}

	obs := Observation{
		ChecklistID: rec.SubID,
		Species:     rec.ComName,
		Region:      region,
		Location:    valueOrUnknown(rec.LocName),
		Observer:    valueOrUnknown(rec.UserDisplayName),
		Instant:     instant,
		Zone:        zone,
		HasMedia:    bool(rec.HasRichMedia),
	}
	if rec.Lat != nil && rec.Lng != nil {
		lat, lon := *rec.Lat, *rec.Lng
		obs.Lat, obs.Lon = &lat, &lon
	}
	return obs, nil
}

func valueOrUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
