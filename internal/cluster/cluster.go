// Package cluster groups sightings of the same species made close together.
package cluster

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/dipper-go/internal/observation"
)

const (
	// DefaultRadiusKm is the merge distance between a sighting and a cluster anchor.
	DefaultRadiusKm = 2.0

	earthRadiusKm = 6371.0
)

// Key identifies a cluster by its first sighting: raw species name, exact
// coordinates and location. HasCoords is false for coordinate-less sightings.
type Key struct {
	Species   string
	Lat       float64
	Lon       float64
	HasCoords bool
	Location  string
}

// Cluster is a key and its sightings in arrival order.
type Cluster struct {
	Key          Key
	Observations []observation.Observation
}

// Clusterer merges sightings of one normalized species within a radius.
// Safe for concurrent use.
type Clusterer struct {
	radiusKm float64
}

// New creates a clusterer. A non-positive radius uses DefaultRadiusKm.
func New(radiusKm float64) *Clusterer {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	return &Clusterer{radiusKm: radiusKm}
}

// Cluster assigns each sighting to the first existing key, in creation order,
// with the same normalized species within the radius; otherwise it opens a new
// key. Sightings without coordinates join only coordinate-less keys of the
// same species. The result keeps key creation order and is deterministic for
// a given input order.
func (c *Clusterer) Cluster(observations []observation.Observation) []Cluster {
	var clusters []Cluster
	var normalized []string // per cluster, parallel to clusters

	for _, obs := range observations {
		name := Normalize(obs.Species)

		match := -1
		for i := range clusters {
			if normalized[i] != name {
				continue
			}
			if c.within(clusters[i].Key, obs) {
				match = i
				break
			}
		}

		if match >= 0 {
			clusters[match].Observations = append(clusters[match].Observations, obs)
			continue
		}

		clusters = append(clusters, Cluster{Key: keyFor(obs), Observations: []observation.Observation{obs}})
		normalized = append(normalized, name)
	}

	return clusters
}

// Normalize drops everything from the first "(", trims, lower-cases and keeps
// only letters, digits and whitespace.
func Normalize(species string) string {
	base, _, _ := strings.Cut(species, "(")
	// a Caser carries state, so one per call
	base = cases.Lower(language.Und).String(strings.TrimSpace(base))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, base)
}

func (c *Clusterer) within(key Key, obs observation.Observation) bool {
	if !key.HasCoords || !obs.HasCoordinates() {
		return key.HasCoords == obs.HasCoordinates()
	}
	return Haversine(*obs.Lat, *obs.Lon, key.Lat, key.Lon) <= c.radiusKm
}

func keyFor(obs observation.Observation) Key {
	k := Key{Species: obs.Species, Location: obs.Location}
	if k.Location == "" {
		k.Location = observation.UnknownValue
	}
	if obs.HasCoordinates() {
		k.Lat, k.Lon, k.HasCoords = *obs.Lat, *obs.Lon, true
	}
	return k
}

// Haversine returns the great-circle distance in km on a sphere of radius 6371 km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// CompareKeys orders keys by species, latitude, longitude and location.
// Keys without coordinates sort before keys with them.
func CompareKeys(a, b Key) int {
	if c := cmp.Compare(a.Species, b.Species); c != 0 {
		return c
	}
	if a.HasCoords != b.HasCoords {
		if a.HasCoords {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.Lat, b.Lat); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Lon, b.Lon); c != 0 {
		return c
	}
	return cmp.Compare(a.Location, b.Location)
}

// SortByKey sorts clusters in place with CompareKeys.
func SortByKey(clusters []Cluster) {
	slices.SortStableFunc(clusters, func(a, b Cluster) int {
		return CompareKeys(a.Key, b.Key)
	})
}

// RadiusKm returns the merge radius
func (c *Clusterer) RadiusKm() float64 {
	return c.radiusKm
}
