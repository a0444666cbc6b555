// Package recency classifies tracked threads by how long ago their newest
// linked sighting was made.
package recency

import (
	"context"
	"time"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/observation"
)

// Bucket is a recency label
type Bucket string

// The fixed bucket set, in order of age
const (
	NoReports        Bucket = "No reports"
	Under24h         Bucket = "<24h"
	OneToThreeDays   Bucket = "1-3d"
	ThreeToSevenDays Bucket = "3-7d"
	OverSevenDays    Bucket = ">7d"
)

const day = 24 * time.Hour

// Buckets lists every bucket, youngest first
func Buckets() []Bucket {
	return []Bucket{Under24h, OneToThreeDays, ThreeToSevenDays, OverSevenDays, NoReports}
}

// Store returns the sightings linked to a thread.
type Store interface {
	GetChecklistsForThread(ctx context.Context, trackerKey string) ([]observation.Observation, error)
}

// Classifier computes a thread's bucket from its linked sightings.
type Classifier struct {
	store Store
	now   func() time.Time
}

// Option configures a Classifier
type Option func(*Classifier)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier creates a classifier reading from store.
func NewClassifier(store Store, opts ...Option) *Classifier {
	c := &Classifier{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the bucket for trackerKey.
func (c *Classifier) Classify(ctx context.Context, trackerKey string) (Bucket, error) {
	bucket, _, err := c.Evaluate(ctx, trackerKey)
	return bucket, err
}

// Evaluate returns the bucket and the newest linked sighting instant, nil when
// there are none. The clock is read once per call.
func (c *Classifier) Evaluate(ctx context.Context, trackerKey string) (Bucket, *time.Time, error) {
	checklists, err := c.store.GetChecklistsForThread(ctx, trackerKey)
	if err != nil {
		return "", nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("tracker_key", trackerKey).
			Component("recency").
			Build()
	}
	if len(checklists) == 0 {
		return NoReports, nil, nil
	}

	latest := checklists[0].Instant
	for _, obs := range checklists[1:] {
		if obs.Instant.After(latest) {
			latest = obs.Instant
		}
	}

	now := c.now()
	return ForAge(now.Sub(latest)), &latest, nil
}

// ForAge maps an age to a bucket with strict upper bounds. Negative ages,
// sightings stamped in the future, count as under 24 hours.
func ForAge(age time.Duration) Bucket {
	switch {
	case age < day:
		return Under24h
	case age < 3*day:
		return OneToThreeDays
	case age < 7*day:
		return ThreeToSevenDays
	default:
		return OverSevenDays
	}
}
