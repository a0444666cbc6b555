package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/httpclient"
	"github.com/tphakala/dipper-go/internal/logger"
)

const (
	// FlagSuppressNotifications is Discord's SUPPRESS_NOTIFICATIONS message flag.
	FlagSuppressNotifications = 4096

	maxRateLimitRetries = 3
	maxErrorBodySize    = 1024
	defaultRetryAfter   = time.Second
	maxRetryAfter       = 60 * time.Second
)

// DiscordConfig tunes the Discord webhook sender.
type DiscordConfig struct {
	RateLimit      float64 // posts per second per webhook
	Timeout        time.Duration
	CircuitBreaker CircuitBreakerConfig
}

// DefaultDiscordConfig stays under Discord's webhook limit of 5 posts per 2 seconds.
func DefaultDiscordConfig() DiscordConfig {
	return DiscordConfig{
		RateLimit:      2,
		Timeout:        15 * time.Second,
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

type discordPayload struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

type discordRateLimit struct {
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// DiscordSender posts messages to Discord webhooks. Each webhook has its own
// rate limiter and circuit breaker.
type DiscordSender struct {
	config     DiscordConfig
	client     *httpclient.Client
	ownsClient bool
	log        logger.Logger
	recorder   MetricsRecorder

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*CircuitBreaker

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDiscordSender creates a sender. Zero config fields take defaults.
func NewDiscordSender(config DiscordConfig, opts ...Option) *DiscordSender {
	defaults := DefaultDiscordConfig()
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CircuitBreaker.MaxFailures <= 0 {
		config.CircuitBreaker.MaxFailures = defaults.CircuitBreaker.MaxFailures
	}
	if config.CircuitBreaker.Timeout <= 0 {
		config.CircuitBreaker.Timeout = defaults.CircuitBreaker.Timeout
	}
	if config.CircuitBreaker.HalfOpenMaxRequests <= 0 {
		config.CircuitBreaker.HalfOpenMaxRequests = defaults.CircuitBreaker.HalfOpenMaxRequests
	}

	o := applyOptions(opts)
	s := &DiscordSender{
		config:   config,
		client:   o.http,
		log:      o.log.Module("discord"),
		recorder: o.recorder,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*CircuitBreaker),
		sleep:    sleepContext,
	}
	if s.client == nil {
		s.client = httpclient.New(&httpclient.Config{DefaultTimeout: config.Timeout})
		s.ownsClient = true
	}
	return s
}

// Send posts message to the webhook URL in destination.
func (s *DiscordSender) Send(ctx context.Context, destination, message string, silent bool) error {
	payload := discordPayload{Content: message}
	if silent {
		payload.Flags = FlagSuppressNotifications
	}

	limiter, breaker := s.guards(destination)
	return breaker.Call(ctx, func(ctx context.Context) error {
		return s.post(ctx, limiter, destination, &payload)
	})
}

// guards returns the limiter and breaker for a webhook, creating them on first use.
func (s *DiscordSender) guards(destination string) (*rate.Limiter, *CircuitBreaker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[destination]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), 1)
		s.limiters[destination] = limiter
	}
	breaker, ok := s.breakers[destination]
	if !ok {
		breaker = NewCircuitBreaker(s.config.CircuitBreaker, DestinationLabel(destination), s.log, s.recorder)
		s.breakers[destination] = breaker
	}
	return limiter, breaker
}

func (s *DiscordSender) post(ctx context.Context, limiter *rate.Limiter, destination string, payload *discordPayload) error {
	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := s.client.PostJSON(ctx, destination, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryNetwork).
				Context("destination", DestinationLabel(destination)).
				Build()
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			drainAndClose(resp.Body)
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		drainAndClose(resp.Body)

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries {
			wait := retryAfter(resp.Header, body)
			s.log.Warn("discord rate limited",
				logger.String("destination", DestinationLabel(destination)),
				logger.Duration("retry_after", wait),
				logger.Int("attempt", attempt+1))
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		return errors.Newf("discord webhook returned status %d: %s",
			resp.StatusCode, logger.RedactSensitiveData(string(body))).
			Component("notification").
			Category(errors.CategoryDelivery).
			Context("status_code", resp.StatusCode).
			Context("destination", DestinationLabel(destination)).
			Build()
	}
}

// retryAfter reads the wait from the JSON body, falling back to the Retry-After header.
func retryAfter(header http.Header, body []byte) time.Duration {
	var rl discordRateLimit
	if err := json.Unmarshal(body, &rl); err == nil && rl.RetryAfter > 0 {
		return clampRetryAfter(time.Duration(rl.RetryAfter * float64(time.Second)))
	}
	if secs, err := strconv.ParseFloat(header.Get("Retry-After"), 64); err == nil && secs > 0 {
		return clampRetryAfter(time.Duration(secs * float64(time.Second)))
	}
	return defaultRetryAfter
}

func clampRetryAfter(d time.Duration) time.Duration {
	return min(d, maxRetryAfter)
}

// Breaker returns the circuit breaker for destination, nil if none was created yet.
func (s *DiscordSender) Breaker(destination string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakers[destination]
}

// BreakerStatus is the circuit breaker snapshot of one destination.
type BreakerStatus struct {
	Destination string `json:"destination"`
	CircuitBreakerStats
}

// BreakerStats returns a snapshot of every webhook breaker, ordered by
// destination label.
func (s *DiscordSender) BreakerStats() []BreakerStatus {
	s.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make([]BreakerStatus, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, BreakerStatus{Destination: b.destination, CircuitBreakerStats: b.GetStats()})
	}
	slices.SortFunc(out, func(a, b BreakerStatus) int {
		return strings.Compare(a.Destination, b.Destination)
	})
	return out
}

// Close releases the HTTP client if the sender created it.
func (s *DiscordSender) Close() {
	if s.ownsClient {
		s.client.Close()
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
