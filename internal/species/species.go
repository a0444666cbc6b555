// Package species resolves four-letter banding codes to common names and
// back using the eBird taxonomy.
package species

import (
	"context"
	"slices"
	"strings"

	"github.com/tphakala/dipper-go/internal/ebird"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// ErrNoMatch is returned when no taxon matches the query.
var ErrNoMatch = errors.NewStd("no matching species")

// TaxonomySource provides the eBird taxonomy.
type TaxonomySource interface {
	GetTaxonomy(ctx context.Context, locale string) ([]ebird.TaxonomyEntry, error)
}

// Match is the outcome of a lookup. Ambiguous matches list every candidate
// and need the user to pick one.
type Match struct {
	Query     string   `json:"query"`
	Results   []string `json:"results"`
	Ambiguous bool     `json:"ambiguous"`
}

// Lookup answers banding code and common name queries.
type Lookup struct {
	source TaxonomySource
	locale string
	log    logger.Logger
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithLocale selects the common name locale, e.g. "fr".
func WithLocale(locale string) Option {
	return func(l *Lookup) { l.locale = locale }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Lookup) { l.log = log }
}

// NewLookup creates a lookup over source.
func NewLookup(source TaxonomySource, opts ...Option) *Lookup {
	l := &Lookup{source: source}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Global().Module("species")
	}
	return l
}

// NameForCode returns the common name for a banding code such as AMDI.
func (l *Lookup) NameForCode(ctx context.Context, code string) (Match, error) {
	taxonomy, err := l.taxonomy(ctx, code)
	if err != nil {
		return Match{}, err
	}
	m, err := NamesForCode(taxonomy, code)
	l.logLookup("code", m, err)
	return m, err
}

// CodeForName returns the banding codes for a common name such as American Dipper.
func (l *Lookup) CodeForName(ctx context.Context, name string) (Match, error) {
	taxonomy, err := l.taxonomy(ctx, name)
	if err != nil {
		return Match{}, err
	}
	m, err := CodesForName(taxonomy, name)
	l.logLookup("name", m, err)
	return m, err
}

func (l *Lookup) taxonomy(ctx context.Context, query string) ([]ebird.TaxonomyEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Newf("species query is empty").
			Component("species").
			Category(errors.CategoryValidation).
			Build()
	}
	taxonomy, err := l.source.GetTaxonomy(ctx, l.locale)
	if err != nil {
		return nil, errors.New(err).
			Component("species").
			Category(errors.CategorySourceFetch).
			Context("operation", "get-taxonomy").
			Context("locale", l.locale).
			Build()
	}
	return taxonomy, nil
}

func (l *Lookup) logLookup(kind string, m Match, err error) {
	l.log.Debug("species lookup",
		logger.String("kind", kind),
		logger.String("query", m.Query),
		logger.Int("results", len(m.Results)),
		logger.Bool("ambiguous", m.Ambiguous),
		logger.Bool("found", err == nil))
}

// NamesForCode matches code against banding codes first. Common name codes
// are consulted only when no banding code matches, and such matches are
// always ambiguous.
func NamesForCode(taxonomy []ebird.TaxonomyEntry, code string) (Match, error) {
	query := strings.ToUpper(strings.TrimSpace(code))
	m := Match{Query: query}

	var banding, comName []string
	for i := range taxonomy {
		entry := &taxonomy[i]
		if slices.Contains(entry.BandingCodes, query) {
			banding = append(banding, entry.CommonName)
		}
		if slices.Contains(entry.ComNameCodes, query) {
			comName = append(comName, entry.CommonName)
		}
	}

	switch {
	case len(banding) == 1:
		m.Results = banding
	case len(banding) > 1:
		m.Results = banding
		m.Ambiguous = true
	case len(comName) > 0:
		m.Results = comName
		m.Ambiguous = true
	default:
		return m, errors.New(ErrNoMatch).
			Component("species").
			Category(errors.CategoryNotFound).
			Context("code", query).
			Build()
	}
	return m, nil
}

// CodesForName matches name case-insensitively against whole common names.
// Taxa without banding codes, such as spuhs and hybrids, are skipped.
// Each result is the comma separated code list of one taxon.
func CodesForName(taxonomy []ebird.TaxonomyEntry, name string) (Match, error) {
	query := strings.ToLower(strings.Join(strings.Fields(name), " "))
	m := Match{Query: query}

	for i := range taxonomy {
		entry := &taxonomy[i]
		if len(entry.BandingCodes) == 0 || strings.ToLower(entry.CommonName) != query {
			continue
		}
		m.Results = append(m.Results, strings.Join(entry.BandingCodes, ", "))
	}

	if len(m.Results) == 0 {
		return m, errors.New(ErrNoMatch).
			Component("species").
			Category(errors.CategoryNotFound).
			Context("name", query).
			Build()
	}
	m.Ambiguous = len(m.Results) > 1
	return m, nil
}
