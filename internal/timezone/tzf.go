package timezone

import (
	"github.com/ringsaturn/tzf"

	"github.com/tphakala/dipper-go/internal/errors"
)

// PolygonFinder looks zones up in the tzf polygon data embedded in the binary.
type PolygonFinder struct {
	f tzf.F
}

// NewPolygonFinder loads the default tzf data set.
func NewPolygonFinder() (*PolygonFinder, error) {
	f, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryTimezone).
			Component("timezone").
			Context("operation", "load_zone_polygons").
			Build()
	}
	return &PolygonFinder{f: f}, nil
}

// ZoneAt implements Finder. tzf takes longitude first.
func (p *PolygonFinder) ZoneAt(lat, lon float64) string {
	return p.f.GetTimezoneName(lon, lat)
}
