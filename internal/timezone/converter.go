package timezone

import (
	"sync"
	"time"
	_ "time/tzdata" // zone data for minimal containers

	"github.com/tphakala/dipper-go/internal/errors"
)

// LocalLayout is the only accepted naive timestamp form.
const LocalLayout = "2006-01-02 15:04"

// ErrMalformedTimestamp is returned when a local timestamp does not match LocalLayout.
var ErrMalformedTimestamp = errors.NewStd("malformed timestamp")

// Converter turns naive local wall-clock times at a coordinate into UTC instants.
type Converter struct {
	resolver *Resolver

	mu        sync.RWMutex
	locations map[string]*time.Location
}

// NewConverter creates a converter using resolver for zone lookups.
func NewConverter(resolver *Resolver) *Converter {
	return &Converter{
		resolver:  resolver,
		locations: make(map[string]*time.Location),
	}
}

// Resolver returns the underlying zone resolver
func (c *Converter) Resolver() *Resolver {
	return c.resolver
}

// ToUTC parses local as "YYYY-MM-DD HH:MM" in the zone at (lat, lon) and
// returns the UTC instant. The date's own DST rules apply; wall times that
// are skipped or repeated at a transition resolve to standard time.
func (c *Converter) ToUTC(local string, lat, lon *float64) (time.Time, error) {
	t, _, err := c.Convert(local, lat, lon)
	return t, err
}

// Convert is ToUTC that also returns the resolved zone name.
func (c *Converter) Convert(local string, lat, lon *float64) (time.Time, string, error) {
	zone, err := c.resolver.Resolve(lat, lon)
	if err != nil {
		return time.Time{}, "", err
	}

	naive, err := time.Parse(LocalLayout, local)
	if err != nil {
		return time.Time{}, zone, errors.New(ErrMalformedTimestamp).
			Category(errors.CategoryTimezone).
			Context("value", local).
			Context("layout", LocalLayout).
			Component("timezone").
			Build()
	}

	utc, err := c.inZone(naive, zone)
	if err != nil {
		return time.Time{}, zone, err
	}
	return utc, zone, nil
}

// ToUTCTime reads the wall-clock fields of naive, ignoring its location,
// as a time in the zone at (lat, lon).
func (c *Converter) ToUTCTime(naive time.Time, lat, lon *float64) (time.Time, error) {
	zone, err := c.resolver.Resolve(lat, lon)
	if err != nil {
		return time.Time{}, err
	}
	return c.inZone(naive, zone)
}

func (c *Converter) inZone(naive time.Time, zone string) (time.Time, error) {
	loc, err := c.location(zone)
	if err != nil {
		return time.Time{}, err
	}
	return wallClock(naive, loc), nil
}

// transitionReach spans any UTC offset on both sides of a wall time.
const transitionReach = 24 * time.Hour

type zoneOffset struct {
	seconds int
	dst     bool
}

// wallClock returns the UTC instant of naive's wall-clock fields in loc.
// Wall times repeated by a backward transition and wall times skipped by a
// forward one both take the standard-time offset. When neither side of the
// transition is daylight time the offset in force before it wins.
func wallClock(naive time.Time, loc *time.Location) time.Time {
	wall := time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), naive.Second(), 0, time.UTC)

	offsets := [2]zoneOffset{
		offsetAt(wall.Add(-transitionReach), loc),
		offsetAt(wall.Add(transitionReach), loc),
	}
	if offsets[0].seconds == offsets[1].seconds {
		return wall.Add(-time.Duration(offsets[0].seconds) * time.Second)
	}

	var valid []zoneOffset
	for _, o := range offsets {
		if offsetAt(wall.Add(-time.Duration(o.seconds)*time.Second), loc).seconds == o.seconds {
			valid = append(valid, o)
		}
	}

	var chosen zoneOffset
	switch len(valid) {
	case 1:
		chosen = valid[0]
	case 2:
		chosen = standardOf(valid[0], valid[1])
	default:
		// skipped wall time
		chosen = standardOf(offsets[0], offsets[1])
	}
	return wall.Add(-time.Duration(chosen.seconds) * time.Second)
}

func offsetAt(t time.Time, loc *time.Location) zoneOffset {
	local := t.In(loc)
	_, seconds := local.Zone()
	return zoneOffset{seconds: seconds, dst: local.IsDST()}
}

func standardOf(before, after zoneOffset) zoneOffset {
	if before.dst && !after.dst {
		return after
	}
	return before
}

// Location returns the cached *time.Location for zone.
func (c *Converter) Location(zone string) (*time.Location, error) {
	return c.location(zone)
}

func (c *Converter) location(zone string) (*time.Location, error) {
	c.mu.RLock()
	loc, ok := c.locations[zone]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, errors.Newf("unknown time zone %q: %w", zone, err).
			Category(errors.CategoryTimezone).
			Context("zone", zone).
			Component("timezone").
			Build()
	}

	c.mu.Lock()
	c.locations[zone] = loc
	c.mu.Unlock()
	return loc, nil
}
