// Package timezone maps coordinates to IANA zone names and converts the
// naive local timestamps of sighting records to UTC.
package timezone

import (
	"fmt"
	"math"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// DefaultZone is returned when no zone polygon contains a coordinate.
const DefaultZone = "UTC"

// coordinatePrecision is the number of decimals coordinates are rounded to
// before lookup, about 11 m at the equator.
const coordinatePrecision = 4

// ErrInvalidCoordinate is returned when a latitude or longitude is missing.
var ErrInvalidCoordinate = errors.NewStd("invalid coordinate")

// Finder answers the geographic zone lookup. An empty result means no zone matched.
type Finder interface {
	ZoneAt(lat, lon float64) string
}

// Cache stores resolved zone names by rounded coordinate key.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, zone string)
}

// memoryCache adapts go-cache to Cache. Entries never expire.
type memoryCache struct {
	c *cache.Cache
}

// NewMemoryCache returns an in-process zone cache.
func NewMemoryCache() Cache {
	return &memoryCache{c: cache.New(cache.NoExpiration, 0)}
}

func (m *memoryCache) Get(key string) (string, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false
	}
	zone, ok := v.(string)
	return zone, ok
}

func (m *memoryCache) Set(key, zone string) {
	m.c.Set(key, zone, cache.NoExpiration)
}

// Resolver maps coordinates to zone names through a cache owned by the instance.
type Resolver struct {
	finder Finder
	cache  Cache
	log    logger.Logger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache replaces the default in-memory cache
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver creates a resolver backed by finder.
func NewResolver(finder Finder, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		finder: finder,
		log:    logger.Global().Module("timezone"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache()
	}
	return r
}

// Resolve returns the IANA zone for a coordinate, or DefaultZone when none matches.
// Both values are rounded to 4 decimals, so nearby points share a cache entry.
func (r *Resolver) Resolve(lat, lon *float64) (string, error) {
	if lat == nil || lon == nil {
		return "", errors.New(ErrInvalidCoordinate).
			Category(errors.CategoryTimezone).
			Context("has_lat", lat != nil).
			Context("has_lon", lon != nil).
			Component("timezone").
			Build()
	}

	rlat, rlon := round(*lat), round(*lon)
	key := cacheKey(rlat, rlon)

	if zone, ok := r.cache.Get(key); ok {
		return zone, nil
	}

	zone := r.finder.ZoneAt(rlat, rlon)
	if zone == "" {
		r.log.Debug("no zone for coordinate, using default",
			logger.Float64("lat", rlat),
			logger.Float64("lon", rlon))
		zone = DefaultZone
	}

	r.cache.Set(key, zone)
	return zone, nil
}

func round(v float64) float64 {
	scale := math.Pow10(coordinatePrecision)
	return math.Round(v*scale) / scale
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}
