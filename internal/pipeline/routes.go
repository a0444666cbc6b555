package pipeline

import (
	"context"
	"slices"
	"strings"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/datastore"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/regions"
)

// Route sends one region's messages to one destination.
type Route struct {
	Region      string `json:"region"`
	Name        string `json:"name"`
	Destination string `json:"-"`
}

// Routes is an ordered region to destination mapping.
type Routes struct {
	routes []Route
	index  map[string]int
}

// NewRoutes builds Routes from an explicit list. Later duplicates of a region are dropped.
func NewRoutes(routes ...Route) Routes {
	r := Routes{index: make(map[string]int, len(routes))}
	for _, route := range routes {
		key := strings.ToUpper(route.Region)
		if _, dup := r.index[key]; dup {
			continue
		}
		r.index[key] = len(r.routes)
		r.routes = append(r.routes, route)
	}
	return r
}

// All returns the routes in processing order.
func (r Routes) All() []Route {
	return slices.Clone(r.routes)
}

// Len returns the number of routes.
func (r Routes) Len() int {
	return len(r.routes)
}

// Lookup returns the route for a region code, case-insensitively.
func (r Routes) Lookup(region string) (Route, bool) {
	i, ok := r.index[strings.ToUpper(region)]
	if !ok {
		return Route{}, false
	}
	return r.routes[i], true
}

// CountyLister lists known regions under a code prefix ordered by name.
// *regions.Directory satisfies it.
type CountyLister interface {
	Counties(ctx context.Context, prefix string) ([]datastore.Region, error)
}

// RoutesConfig is the routing part of the settings.
type RoutesConfig struct {
	Prefix          string
	Codes           []string
	Destinations    map[string]string // region code -> destination, keys compared case-insensitively
	WebhookTemplate string            // {channel} is replaced with the region's channel name
}

// RoutesConfigFromSettings extracts the routing settings.
func RoutesConfigFromSettings(s *conf.Settings) RoutesConfig {
	return RoutesConfig{
		Prefix:          s.Regions.Prefix,
		Codes:           s.Regions.Codes,
		Destinations:    s.Regions.Destinations,
		WebhookTemplate: s.Discord.WebhookTemplate,
	}
}

// BuildRoutes resolves the configured regions to destinations. Explicit
// destinations win over the webhook template; regions with neither are
// logged and left out.
func BuildRoutes(ctx context.Context, cfg RoutesConfig, lister CountyLister, log logger.Logger) (Routes, error) {
	if log == nil {
		log = logger.Global().Module("pipeline")
	}

	counties, err := lister.Counties(ctx, cfg.Prefix)
	if err != nil {
		return Routes{}, err
	}
	names := make(map[string]string, len(counties))
	for _, c := range counties {
		names[strings.ToUpper(c.Code)] = c.Name
	}

	destinations := make(map[string]string, len(cfg.Destinations))
	for code, dest := range cfg.Destinations {
		destinations[strings.ToUpper(code)] = dest
	}

	var codes []string
	if len(cfg.Codes) > 0 {
		for _, code := range cfg.Codes {
			codes = append(codes, strings.ToUpper(strings.TrimSpace(code)))
		}
	} else {
		for _, c := range counties {
			codes = append(codes, strings.ToUpper(c.Code))
		}
		// destinations for regions outside the county list are routed too
		var extra []string
		for code := range destinations {
			if _, known := names[code]; !known {
				extra = append(extra, code)
			}
		}
		slices.Sort(extra)
		codes = append(codes, extra...)
	}

	routes := make([]Route, 0, len(codes))
	for _, code := range codes {
		name := names[code]
		if name == "" {
			name = code
		}

		dest := destinations[code]
		if dest == "" && cfg.WebhookTemplate != "" {
			dest = strings.ReplaceAll(cfg.WebhookTemplate, conf.ChannelPlaceholder, regions.ChannelName(name))
		}
		if dest == "" {
			log.Warn("region has no destination, skipped", logger.String("region", code))
			continue
		}

		routes = append(routes, Route{Region: code, Name: name, Destination: dest})
	}

	return NewRoutes(routes...), nil
}
