// Package observation holds the normalized sighting and tracked-thread types
// shared by the clustering, recency, persistence and pipeline packages.
package observation

import (
	"strings"
	"sync"
	"time"
)

// UnknownValue fills a missing location or observer.
const UnknownValue = "Unknown"

// Observation is one normalized sighting record.
type Observation struct {
	ChecklistID string
	Species     string
	Region      string
	Location    string
	Observer    string
	Instant     time.Time // UTC
	Zone        string    // IANA zone the local timestamp was read in
	TrackerKey  string    // linked thread, empty when not linked
	Lat         *float64  // Lat and Lon are both set or both nil
	Lon         *float64
	HasMedia    bool
	Counted     bool
}

// HasCoordinates reports whether both coordinates are present.
func (o *Observation) HasCoordinates() bool {
	return o.Lat != nil && o.Lon != nil
}

// LocalTime renders Instant in the observation's own zone, falling back to UTC.
func (o *Observation) LocalTime() time.Time {
	if loc := location(o.Zone); loc != nil {
		return o.Instant.In(loc)
	}
	return o.Instant.UTC()
}

// locations caches zone name -> *time.Location, nil for unknown zones.
var locations sync.Map

func location(zone string) *time.Location {
	if zone == "" {
		return nil
	}
	if v, ok := locations.Load(zone); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = nil
	}
	v, _ := locations.LoadOrStore(zone, loc)
	return v.(*time.Location)
}

// Thread types
const (
	ThreadTypeBot  = "bot"  // opened by the system on a notable sighting
	ThreadTypeUser = "user" // opened by a person
)

// Thread is a tracked species-in-region entity with its chat destination.
type Thread struct {
	TrackerKey   string
	ThreadID     string // destination id
	Type         string
	LastSeenAt   *time.Time
	StatusBucket string
}

// TrackerKey builds the "species|region" key of a thread.
func TrackerKey(species, region string) string {
	return species + "|" + region
}

// SplitTrackerKey returns the species and region parts of key. ok is false
// when key has no separator.
func SplitTrackerKey(key string) (species, region string, ok bool) {
	i := strings.LastIndex(key, "|")
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
