// Package regions maintains the local directory of region codes and names
// used to resolve free-text region queries and to name chat channels.
package regions

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/dipper-go/internal/datastore"
	"github.com/tphakala/dipper-go/internal/ebird"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// DefaultCountyPrefix selects the counties of Colorado.
const DefaultCountyPrefix = "US-CO-"

// regionType is stored for entries fetched from the subnational2 list.
const regionType = "subnational2"

// ErrRegionNotFound is returned when a query matches no region.
var ErrRegionNotFound = errors.NewStd("region not found")

// Source lists subnational regions upstream. *ebird.Client satisfies it.
type Source interface {
	SubnationalRegions(ctx context.Context, parent string) ([]ebird.Region, error)
}

// Store persists the directory. datastore.Interface satisfies it.
type Store interface {
	SaveRegions(ctx context.Context, regions []datastore.Region) error
	GetRegions(ctx context.Context) ([]datastore.Region, error)
	GetRegionsByPrefix(ctx context.Context, prefix string) ([]datastore.Region, error)
}

// Directory resolves region names to codes.
type Directory struct {
	source Source
	store  Store
	log    logger.Logger
}

// NewDirectory creates a directory. source may be nil when Sync is not used.
func NewDirectory(source Source, store Store, log logger.Logger) *Directory {
	if log == nil {
		log = logger.Global().Module("regions")
	}
	return &Directory{source: source, store: store, log: log}
}

// Sync fetches the subnational2 regions of parent and upserts them. It returns
// the number of regions stored.
func (d *Directory) Sync(ctx context.Context, parent string) (int, error) {
	if d.source == nil {
		return 0, errors.Newf("region source is not configured").
			Component("regions").
			Category(errors.CategoryConfiguration).
			Build()
	}

	fetched, err := d.source.SubnationalRegions(ctx, parent)
	if err != nil {
		return 0, err
	}

	rows := make([]datastore.Region, 0, len(fetched))
	for _, r := range fetched {
		if r.Code == "" {
			continue
		}
		rows = append(rows, datastore.Region{Code: r.Code, Name: r.Name, Type: regionType})
	}

	if err := d.store.SaveRegions(ctx, rows); err != nil {
		return 0, err
	}

	d.log.Info("region directory synced",
		logger.String("parent", parent),
		logger.Int("regions", len(rows)))
	return len(rows), nil
}

// Lookup resolves a free-text name to a region code. A case-insensitive exact
// name match wins; otherwise the first region, by name, with the query as one
// of its words. ErrRegionNotFound otherwise.
func (d *Directory) Lookup(ctx context.Context, name string) (string, error) {
	fold := cases.Fold()
	query := fold.String(strings.TrimSpace(name))
	if query == "" {
		return "", notFound(name)
	}

	rows, err := d.store.GetRegions(ctx)
	if err != nil {
		return "", err
	}

	for _, r := range rows {
		if fold.String(r.Name) == query {
			return r.Code, nil
		}
	}
	for _, r := range rows {
		if slices.Contains(strings.Fields(fold.String(r.Name)), query) {
			return r.Code, nil
		}
	}

	// a region code typed directly is accepted as is
	for _, r := range rows {
		if fold.String(r.Code) == query {
			return r.Code, nil
		}
	}

	return "", notFound(name)
}

// Counties returns regions whose code starts with prefix, ordered by name.
// An empty prefix uses DefaultCountyPrefix.
func (d *Directory) Counties(ctx context.Context, prefix string) ([]datastore.Region, error) {
	if prefix == "" {
		prefix = DefaultCountyPrefix
	}
	return d.store.GetRegionsByPrefix(ctx, prefix)
}

// ChannelName derives the chat channel for a region name, e.g. "El Paso" -> "el-paso-rba".
func ChannelName(name string) string {
	lower := cases.Lower(language.Und).String(name)
	return strings.ReplaceAll(lower, " ", "-") + "-rba"
}

func notFound(query string) error {
	return errors.New(ErrRegionNotFound).
		Component("regions").
		Category(errors.CategoryRegionLookup).
		Context("query", query).
		Build()
}
