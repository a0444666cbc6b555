package datastore

import (
	"time"

	"github.com/tphakala/dipper-go/internal/observation"
)

func checklistFromObservation(o *observation.Observation) Checklist {
	c := Checklist{
		ChecklistID: o.ChecklistID,
		Species:     o.Species,
		Region:      o.Region,
		Location:    o.Location,
		Observer:    o.Observer,
		ObsDatetime: o.Instant.UTC(),
		LocalTZ:     o.Zone,
		Lat:         o.Lat,
		Lon:         o.Lon,
		HasMedia:    o.HasMedia,
		Counted:     o.Counted,
	}
	if o.TrackerKey != "" {
		key := o.TrackerKey
		c.ThreadTrackerKey = &key
	}
	return c
}

func (c *Checklist) toObservation() observation.Observation {
	o := observation.Observation{
		ChecklistID: c.ChecklistID,
		Species:     c.Species,
		Region:      c.Region,
		Location:    c.Location,
		Observer:    c.Observer,
		Instant:     c.ObsDatetime.UTC(),
		Zone:        c.LocalTZ,
		Lat:         c.Lat,
		Lon:         c.Lon,
		HasMedia:    c.HasMedia,
		Counted:     c.Counted,
	}
	if c.ThreadTrackerKey != nil {
		o.TrackerKey = *c.ThreadTrackerKey
	}
	return o
}

func threadFromDomain(t *observation.Thread) Thread {
	th := Thread{
		TrackerKey:   t.TrackerKey,
		ThreadID:     t.ThreadID,
		Type:         t.Type,
		StatusBucket: t.StatusBucket,
	}
	if t.LastSeenAt != nil {
		ts := t.LastSeenAt.UTC()
		th.LastSeenAt = &ts
	}
	return th
}

func (t *Thread) toDomain() observation.Thread {
	th := observation.Thread{
		TrackerKey:   t.TrackerKey,
		ThreadID:     t.ThreadID,
		Type:         t.Type,
		StatusBucket: t.StatusBucket,
	}
	if t.LastSeenAt != nil {
		ts := t.LastSeenAt.UTC()
		th.LastSeenAt = &ts
	}
	return th
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
