package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/httpclient"
	"github.com/tphakala/dipper-go/internal/logger"
)

// ErrSourceFetchExhausted is returned when every attempt at an upstream fetch failed.
var ErrSourceFetchExhausted = errors.NewStd("sighting source fetch attempts exhausted")

// Endpoint labels used for logging and metrics
const (
	EndpointRecentNotable = "recent_notable"
	EndpointSubnational   = "subnational2"
	EndpointTaxonomy      = "taxonomy"
)

// MetricsRecorder receives per-request observations from the client
type MetricsRecorder interface {
	RecordRequest(endpoint, status string, duration time.Duration)
	RecordCacheHit(endpoint string)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient makes the client use hc instead of building its own.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.ownsHTTP = false
	}
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics installs a metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) { c.recorder = m }
}

// Client provides methods for interacting with the eBird API
type Client struct {
	config      Config
	http        *httpclient.Client
	ownsHTTP    bool
	cache       *cache.Cache
	limiter     *rate.Limiter
	log         logger.Logger
	recorder    MetricsRecorder
	firstCallMu sync.Once

	// waits between retries, replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	metrics struct {
		apiCalls      int64
		cacheHits     int64
		cacheMisses   int64
		apiErrors     int64
		totalDuration time.Duration
		mu            sync.RWMutex
	}
}

// NewClient creates a new eBird API client
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}

	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.BackDays <= 0 {
		config.BackDays = defaults.BackDays
	}
	if config.MaxResults <= 0 {
		config.MaxResults = defaults.MaxResults
	}

	c := &Client{
		config:  config,
		cache:   cache.New(config.CacheTTL, config.CacheTTL*2),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logger.Global().Module("ebird"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{DefaultTimeout: config.Timeout})
		c.ownsHTTP = true
	}

	c.log.Info("eBird client initialized",
		logger.String("base_url", config.BaseURL),
		logger.Duration("cache_ttl", config.CacheTTL),
		logger.Float64("rate_limit", config.RateLimit),
		logger.Int("retry_attempts", config.RetryAttempts),
		logger.Duration("retry_delay", config.RetryDelay),
		logger.Bool("api_key_configured", config.APIKey != ""))

	return c, nil
}

// Close releases idle connections when the client owns its transport
func (c *Client) Close() {
	if c.ownsHTTP {
		c.http.Close()
	}
	c.log.Debug("eBird client closed")
}

// RecentNotable returns the recent notable observations for a region code.
// 5xx responses and transport failures are retried after the configured delay;
// 4xx responses fail at once. When attempts run out the error wraps
// ErrSourceFetchExhausted.
func (c *Client) RecentNotable(ctx context.Context, region string) ([]Observation, error) {
	if region == "" {
		return nil, errors.Newf("region code is required").
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}

	q := url.Values{}
	q.Set("detail", "full")
	q.Set("back", strconv.Itoa(c.config.BackDays))
	q.Set("maxResults", strconv.Itoa(c.config.MaxResults))
	reqURL := fmt.Sprintf("%s/data/obs/%s/recent/notable?%s", c.config.BaseURL, url.PathEscape(region), q.Encode())

	var observations []Observation
	if err := c.doRequestWithRetry(ctx, EndpointRecentNotable, reqURL, &observations); err != nil {
		return nil, err
	}

	c.log.Debug("fetched recent notable observations",
		logger.String("region", region),
		logger.Int("count", len(observations)))

	return observations, nil
}

// SubnationalRegions lists the second-level subdivisions of parent, e.g. the
// counties of US-CO. Results are cached for CacheTTL.
func (c *Client) SubnationalRegions(ctx context.Context, parent string) ([]Region, error) {
	cacheKey := "subnational2:" + parent

	if cached, found := c.cache.Get(cacheKey); found {
		if regions, ok := cached.([]Region); ok {
			c.metrics.mu.Lock()
			c.metrics.cacheHits++
			c.metrics.mu.Unlock()
			if c.recorder != nil {
				c.recorder.RecordCacheHit(EndpointSubnational)
			}
			c.log.Debug("eBird region cache hit",
				logger.String("cache_key", cacheKey),
				logger.Int("entries", len(regions)))
			return regions, nil
		}
	}

	c.metrics.mu.Lock()
	c.metrics.cacheMisses++
	c.metrics.mu.Unlock()

	reqURL := fmt.Sprintf("%s/ref/region/list/subnational2/%s?fmt=json", c.config.BaseURL, url.PathEscape(parent))

	var regions []Region
	if err := c.doRequestWithRetry(ctx, EndpointSubnational, reqURL, &regions); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, regions, cache.DefaultExpiration)
	c.log.Debug("eBird regions cached",
		logger.String("cache_key", cacheKey),
		logger.Int("entries", len(regions)))

	return regions, nil
}

// GetTaxonomy retrieves the complete eBird taxonomy, optionally with common
// names in locale. Results are cached for CacheTTL.
func (c *Client) GetTaxonomy(ctx context.Context, locale string) ([]TaxonomyEntry, error) {
	cacheKey := "taxonomy:" + locale

	if cached, found := c.cache.Get(cacheKey); found {
		if taxonomy, ok := cached.([]TaxonomyEntry); ok {
			c.metrics.mu.Lock()
			c.metrics.cacheHits++
			c.metrics.mu.Unlock()
			if c.recorder != nil {
				c.recorder.RecordCacheHit(EndpointTaxonomy)
			}
			c.log.Debug("eBird taxonomy cache hit",
				logger.String("cache_key", cacheKey),
				logger.Int("entries", len(taxonomy)))
			return taxonomy, nil
		}
	}

	c.metrics.mu.Lock()
	c.metrics.cacheMisses++
	c.metrics.mu.Unlock()

	// the endpoint defaults to CSV
	q := url.Values{}
	q.Set("fmt", "json")
	if locale != "" {
		q.Set("locale", locale)
	}
	reqURL := fmt.Sprintf("%s/ref/taxonomy/ebird?%s", c.config.BaseURL, q.Encode())

	var taxonomy []TaxonomyEntry
	if err := c.doRequestWithRetry(ctx, EndpointTaxonomy, reqURL, &taxonomy); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, taxonomy, cache.DefaultExpiration)
	c.log.Debug("eBird taxonomy cached",
		logger.String("cache_key", cacheKey),
		logger.Int("entries", len(taxonomy)),
		logger.String("locale", locale))

	return taxonomy, nil
}

// doRequest performs one paced GET and decodes the JSON body into result.
func (c *Client) doRequest(ctx context.Context, endpoint, reqURL string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.New(err).
			Category(errors.CategoryCancellation).
			Context("endpoint", endpoint).
			Component("ebird").
			Build()
	}

	start := time.Now()

	c.metrics.mu.Lock()
	c.metrics.apiCalls++
	c.metrics.mu.Unlock()

	resp, err := c.http.Get(ctx, reqURL, map[string]string{
		"X-eBirdApiToken": c.config.APIKey,
		"Accept":          "application/json",
	})
	if err != nil {
		c.countError()
		c.record(endpoint, "transport_error", time.Since(start))
		c.log.Error("eBird API request failed",
			logger.Error(err),
			logger.String("endpoint", endpoint),
			logger.String("url", logger.RedactURL(reqURL)))
		return errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("url", logger.RedactURL(reqURL)).
			Timing("ebird-request", time.Since(start)).
			Component("ebird").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countError()
		c.record(endpoint, "read_error", time.Since(start))
		return errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("status_code", resp.StatusCode).
			Timing("ebird-request", time.Since(start)).
			Component("ebird").
			Build()
	}

	duration := time.Since(start)
	c.record(endpoint, strconv.Itoa(resp.StatusCode), duration)

	if resp.StatusCode >= http.StatusBadRequest {
		c.countError()
		return c.statusError(endpoint, reqURL, resp.StatusCode, bodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		c.countError()
		c.log.Error("eBird API returned non-JSON response",
			logger.Int("status_code", resp.StatusCode),
			logger.String("content_type", contentType),
			logger.String("endpoint", endpoint),
			logger.String("response_preview", preview(bodyBytes)))
		return errors.Newf("eBird API returned non-JSON response (Content-Type: %s)", contentType).
			Category(errors.CategoryFileParsing).
			Context("status_code", resp.StatusCode).
			Context("content_type", contentType).
			Context("endpoint", endpoint).
			Component("ebird").
			Build()
	}

	if result != nil {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			c.log.Error("failed to parse eBird API response",
				logger.Error(err),
				logger.String("endpoint", endpoint),
				logger.Int("response_size", len(bodyBytes)),
				logger.String("response_preview", preview(bodyBytes)))
			return errors.Newf("failed to parse response: %w", err).
				Category(errors.CategoryFileParsing).
				Context("endpoint", endpoint).
				Context("response_size", len(bodyBytes)).
				Component("ebird").
				Build()
		}
	}

	c.firstCallMu.Do(func() {
		c.log.Info("eBird API authentication successful",
			logger.String("endpoint", endpoint))
	})

	c.metrics.mu.Lock()
	c.metrics.totalDuration += duration
	c.metrics.mu.Unlock()

	return nil
}

// statusError builds the error for a 4xx/5xx response, using the API's
// problem document when it parses.
func (c *Client) statusError(endpoint, reqURL string, status int, body []byte) error {
	var apiErr Error
	parsed := json.Unmarshal(body, &apiErr) == nil && (apiErr.Title != "" || apiErr.Detail != "")

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.log.Error("eBird API authentication failed",
			logger.Int("status_code", status),
			logger.String("endpoint", endpoint),
			logger.Bool("has_api_key", c.config.APIKey != ""),
			logger.String("hint", "check ebird.apikey in the configuration"))
	} else {
		c.log.Warn("eBird API error response",
			logger.Int("status_code", status),
			logger.String("endpoint", endpoint),
			logger.String("url", logger.RedactURL(reqURL)),
			logger.String("error_title", apiErr.Title),
			logger.String("error_detail", apiErr.Detail))
	}

	msg := fmt.Sprintf("eBird API error (status %d): %s", status, preview(body))
	if parsed {
		msg = fmt.Sprintf("eBird API error (status %d): %s", status, apiErr.Detail)
	}

	return errors.Newf("%s", msg).
		Category(getErrorCategory(status)).
		Context("status_code", status).
		Context("error_title", apiErr.Title).
		Context("endpoint", endpoint).
		Component("ebird").
		Build()
}

// doRequestWithRetry makes up to RetryAttempts attempts with a fixed delay in between.
func (c *Client) doRequestWithRetry(ctx context.Context, endpoint, reqURL string, result any) error {
	attempts := c.config.RetryAttempts
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.doRequest(ctx, endpoint, reqURL, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		c.log.Warn("eBird API request failed, retrying",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", attempts),
			logger.Duration("delay", c.config.RetryDelay),
			logger.String("endpoint", endpoint),
			logger.Error(err))

		if err := c.sleep(ctx, c.config.RetryDelay); err != nil {
			return errors.New(err).
				Category(errors.CategoryCancellation).
				Context("endpoint", endpoint).
				Context("attempt", attempt).
				Component("ebird").
				Build()
		}
	}

	c.log.Error("eBird API attempts exhausted",
		logger.Int("attempts", attempts),
		logger.String("endpoint", endpoint),
		logger.Error(lastErr))

	return errors.Newf("%w after %d attempts: %w", ErrSourceFetchExhausted, attempts, lastErr).
		Category(errors.CategorySourceFetch).
		Priority(errors.PriorityHigh).
		Context("endpoint", endpoint).
		Context("attempts", attempts).
		Component("ebird").
		Build()
}

// isRetryable is true for transport failures and 5xx responses
func isRetryable(err error) bool {
	var enhancedErr *errors.EnhancedError
	if !errors.As(err, &enhancedErr) {
		return true
	}
	switch enhancedErr.Category {
	case errors.CategoryCancellation, errors.CategoryFileParsing, errors.CategoryValidation:
		return false
	}
	if status, ok := enhancedErr.Context["status_code"].(int); ok {
		return status >= http.StatusInternalServerError
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) countError() {
	c.metrics.mu.Lock()
	c.metrics.apiErrors++
	c.metrics.mu.Unlock()
}

func (c *Client) record(endpoint, status string, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordRequest(endpoint, status, d)
	}
}

func preview(body []byte) string {
	const limit = 500
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// ClearCache clears all cached data
func (c *Client) ClearCache() {
	c.cache.Flush()
	c.log.Info("eBird cache cleared")
}

// Metrics represents eBird client performance metrics
type Metrics struct {
	APICalls      int64         `json:"api_calls"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	APIErrors     int64         `json:"api_errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	m := Metrics{
		APICalls:      c.metrics.apiCalls,
		CacheHits:     c.metrics.cacheHits,
		CacheMisses:   c.metrics.cacheMisses,
		APIErrors:     c.metrics.apiErrors,
		TotalDuration: c.metrics.totalDuration,
	}
	if m.APICalls > 0 {
		m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.APICalls)
	}
	return m
}

// getErrorCategory determines the appropriate error category based on HTTP status code
func getErrorCategory(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryConfiguration
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusNotFound:
		return errors.CategoryNotFound
	case http.StatusBadRequest:
		return errors.CategoryValidation
	default:
		return errors.CategoryNetwork
	}
}
