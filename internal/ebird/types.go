// Package ebird provides a client for the eBird API v2 endpoints dipper
// uses: recent notable observations, subnational regions and the taxonomy.
package ebird

import (
	"bytes"
	"encoding/json"
	"time"
)

// Observation is a raw notable-observation record as returned by
// /data/obs/{region}/recent/notable with detail=full.
type Observation struct {
	SubID           string         `json:"subId"`
	ObsID           string         `json:"obsId,omitempty"`
	SpeciesCode     string         `json:"speciesCode,omitempty"`
	ComName         string         `json:"comName"`
	SciName         string         `json:"sciName,omitempty"`
	LocID           string         `json:"locId,omitempty"`
	LocName         string         `json:"locName"`
	ObsDt           string         `json:"obsDt"` // local wall clock, "YYYY-MM-DD HH:MM" or with seconds
	HowMany         int            `json:"howMany,omitempty"`
	Lat             *float64       `json:"lat"`
	Lng             *float64       `json:"lng"`
	ObsValid        bool           `json:"obsValid,omitempty"`
	ObsReviewed     bool           `json:"obsReviewed,omitempty"`
	UserDisplayName string         `json:"userDisplayName"`
	HasRichMedia    MediaIndicator `json:"hasRichMedia"`
}

// MediaIndicator reports whether a record carries photos, audio or video.
// The API sends a boolean; older payloads and fixtures send a list of media
// items, which counts as present when non-empty.
type MediaIndicator bool

// UnmarshalJSON accepts a boolean, a list, or null.
func (m *MediaIndicator) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*m = false
		return nil
	case len(data) > 0 && data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*m = len(items) > 0
		return nil
	default:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*m = MediaIndicator(b)
		return nil
	}
}

// TaxonomyEntry is one taxon of the eBird taxonomy
type TaxonomyEntry struct {
	ScientificName string   `json:"sciName"`
	CommonName     string   `json:"comName"`
	SpeciesCode    string   `json:"speciesCode"`
	Category       string   `json:"category"` // species, spuh, slash, hybrid, etc.
	TaxonOrder     float64  `json:"taxonOrder"`
	BandingCodes   []string `json:"bandingCodes"` // four-letter banding codes, species only
	ComNameCodes   []string `json:"comNameCodes"` // codes derived from the common name
	SciNameCodes   []string `json:"sciNameCodes"`
	FamilyComName  string   `json:"familyComName,omitempty"`
}

// Region is a subnational region reference entry
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Config holds configuration for the eBird client
type Config struct {
	APIKey        string        `json:"api_key"`
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	CacheTTL      time.Duration `json:"cache_ttl"`
	RateLimit     float64       `json:"rate_limit"`     // requests per second, burst 1
	RetryAttempts int           `json:"retry_attempts"` // total attempts per request
	RetryDelay    time.Duration `json:"retry_delay"`    // fixed wait between attempts
	BackDays      int           `json:"back_days"`
	MaxResults    int           `json:"max_results"`
}

// Error represents an eBird API error response
type Error struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// DefaultConfig returns the default eBird client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:       "https://api.ebird.org/v2",
		Timeout:       30 * time.Second,
		CacheTTL:      24 * time.Hour,
		RateLimit:     10,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
		BackDays:      2,
		MaxResults:    200,
	}
}
