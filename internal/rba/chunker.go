// Package rba renders rare bird alert messages: clustered sightings become
// blocks, and blocks are packed greedily into size-bounded chat messages.
package rba

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tphakala/dipper-go/internal/cluster"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/observation"
)

const (
	// MaxMessageLength is the chat platform's per-message character limit.
	MaxMessageLength = 2000

	// RecentWindow bounds which sightings are rendered.
	RecentWindow = 24 * time.Hour

	// DefaultMaxAlsoReported caps the observers listed on the "also reported" line.
	DefaultMaxAlsoReported = 10

	// EmptyRegionMessage is the single message for a region with no sightings.
	EmptyRegionMessage = "No notable observations in this region."

	headlineLayout = "2006-01-02 15:04"
	mediaIcon      = "📷"
	alsoPrefix     = "▸ Also reported in last 24 hours by: "
)

// Chunker turns sightings into messages. Safe for concurrent use.
type Chunker struct {
	clusterer *cluster.Clusterer
	maxLen    int
	maxAlso   int
	window    time.Duration
	now       func() time.Time
	log       logger.Logger
}

// Option configures a Chunker
type Option func(*Chunker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Chunker) { c.now = now }
}

// WithMaxLength overrides MaxMessageLength
func WithMaxLength(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxLen = n
		}
	}
}

// WithMaxAlsoReported overrides DefaultMaxAlsoReported
func WithMaxAlsoReported(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxAlso = n
		}
	}
}

// WithClusterer replaces the default 2 km clusterer
func WithClusterer(cl *cluster.Clusterer) Option {
	return func(c *Chunker) { c.clusterer = cl }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(c *Chunker) { c.log = l }
}

// NewChunker creates a chunker with production defaults.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{
		clusterer: cluster.New(cluster.DefaultRadiusKm),
		maxLen:    MaxMessageLength,
		maxAlso:   DefaultMaxAlsoReported,
		window:    RecentWindow,
		now:       time.Now,
		log:       logger.Global().Module("rba"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages renders observations into messages no longer than the size limit,
// counted in characters. Blocks are never split across messages.
func (c *Chunker) Messages(observations []observation.Observation) []string {
	if len(observations) == 0 {
		return []string{EmptyRegionMessage}
	}

	clusters := c.clusterer.Cluster(observations)
	cluster.SortByKey(clusters)

	cutoff := c.now().Add(-c.window)

	var messages []string
	var current []string
	currentSize := 0

	for _, cl := range clusters {
		b, ok := c.buildBlock(cl, cutoff)
		if !ok {
			continue
		}

		lines := b.lines()
		size := linesSize(lines)
		if size > c.maxLen {
			lines, size = c.shrink(b)
		}

		if len(current) > 0 && currentSize+size > c.maxLen {
			messages = append(messages, strings.Join(current, "\n"))
			current, currentSize = nil, 0
		}
		current = append(current, lines...)
		currentSize += size
	}

	if len(current) > 0 {
		messages = append(messages, strings.Join(current, "\n"))
	}
	return messages
}

// shrink drops observers from the tail of the also line, growing the overflow
// count, until the block fits. The line is removed when no observer is left.
func (c *Chunker) shrink(b block) ([]string, int) {
	original := len(b.also) + b.more

	for len(b.also) > 0 {
		b.also = b.also[:len(b.also)-1]
		b.more++
		if len(b.also) == 0 {
			b.more = 0
		}
		lines := b.lines()
		if size := linesSize(lines); size <= c.maxLen {
			c.warnOversized(b, original, size)
			return lines, size
		}
	}

	lines := b.lines()
	size := linesSize(lines)
	c.warnOversized(b, original, size)
	return lines, size
}

func (c *Chunker) warnOversized(b block, originalObservers, size int) {
	c.log.Warn("oversized block truncated",
		logger.String("species", b.species),
		logger.Int("observers_before", originalObservers),
		logger.Int("observers_listed", len(b.also)),
		logger.Int("size", size),
		logger.Int("limit", c.maxLen),
		logger.Bool("fits", size <= c.maxLen))
}

type alsoEntry struct {
	observer    string
	checklistID string
	hasMedia    bool
}

type block struct {
	species  string
	header   string
	headline string
	also     []alsoEntry
	more     int
}

// buildBlock renders one cluster. ok is false when it has nothing inside the window.
func (c *Chunker) buildBlock(cl cluster.Cluster, cutoff time.Time) (block, bool) {
	recent := make([]observation.Observation, 0, len(cl.Observations))
	for _, o := range cl.Observations {
		if !o.Instant.Before(cutoff) {
			recent = append(recent, o)
		}
	}
	if len(recent) == 0 {
		return block{}, false
	}
	slices.SortStableFunc(recent, func(a, b observation.Observation) int {
		return b.Instant.Compare(a.Instant)
	})

	head := recent[0]
	icon := ""
	if head.HasMedia {
		icon = mediaIcon
	}

	b := block{species: cl.Key.Species}
	if cl.Key.HasCoords {
		b.header = fmt.Sprintf("__**%s**__ @ [%s](<%s>) %s",
			cl.Key.Species, cl.Key.Location, mapsLink(cl.Key.Lat, cl.Key.Lon), icon)
	} else {
		b.header = fmt.Sprintf("__**%s**__ @ %s %s", cl.Key.Species, cl.Key.Location, icon)
	}

	link := checklistLink(head.ChecklistID)
	b.headline = fmt.Sprintf("▸ [%s](<%s>) by [%s](<%s>) %s",
		head.LocalTime().Format(headlineLayout), link, head.Observer, link, icon)

	seen := make(map[string]struct{})
	var unique []alsoEntry
	for _, o := range recent[1:] {
		if _, dup := seen[o.Observer]; dup {
			continue
		}
		seen[o.Observer] = struct{}{}
		unique = append(unique, alsoEntry{observer: o.Observer, checklistID: o.ChecklistID, hasMedia: o.HasMedia})
	}
	if len(unique) > c.maxAlso {
		b.more = len(unique) - c.maxAlso
		unique = unique[:c.maxAlso]
	}
	b.also = unique

	return b, true
}

func (b block) lines() []string {
	lines := []string{b.header, b.headline}
	if len(b.also) > 0 {
		parts := make([]string, len(b.also))
		for i, e := range b.also {
			parts[i] = fmt.Sprintf("[%s](<%s>)", e.observer, checklistLink(e.checklistID))
			if e.hasMedia {
				parts[i] += " " + mediaIcon
			}
		}
		line := alsoPrefix + strings.Join(parts, ", ")
		if b.more > 0 {
			line += fmt.Sprintf(", and %d more", b.more)
		}
		lines = append(lines, line)
	}
	return append(lines, "")
}

// linesSize counts each line as its characters plus a newline.
func linesSize(lines []string) int {
	n := 0
	for _, l := range lines {
		n += utf8.RuneCountInString(l) + 1
	}
	return n
}

func checklistLink(id string) string {
	return "https://ebird.org/checklist/" + id
}

func mapsLink(lat, lon float64) string {
	return "https://www.google.com/maps/search/?api=1&query=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
