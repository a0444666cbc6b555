package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means deliveries flow normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means a trial delivery is testing recovery.
	StateHalfOpen
	// StateOpen means deliveries are rejected without being attempted.
	StateOpen
)

// MarshalText renders the state by name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitBreakerOpen is returned when the circuit breaker is open.
	ErrCircuitBreakerOpen = errors.Newf("circuit breaker is open").
				Component("notification").
				Category(errors.CategoryLimit).
				Build()
	// ErrTooManyRequests is returned when the half-open trial budget is used up.
	ErrTooManyRequests = errors.Newf("circuit breaker is half-open, too many requests").
				Component("notification").
				Category(errors.CategoryLimit).
				Build()
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// Timeout is how long to wait before transitioning from Open to Half-Open.
	Timeout time.Duration
	// HalfOpenMaxRequests is the maximum number of requests allowed in half-open state.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate checks if the circuit breaker configuration is valid.
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Timeout)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("half_open_max_requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// CircuitBreaker guards a single delivery destination. After MaxFailures
// consecutive failures it rejects deliveries until Timeout has passed, then
// lets HalfOpenMaxRequests trial deliveries through.
type CircuitBreaker struct {
	config           CircuitBreakerConfig
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int
	mu               sync.RWMutex

	destination string
	log         logger.Logger
	recorder    MetricsRecorder
}

// NewCircuitBreaker creates a breaker for destination. An invalid config is
// logged but still used, so tests can run with short timeouts.
// destination is only used as a label and must already be redacted.
func NewCircuitBreaker(config CircuitBreakerConfig, destination string, log logger.Logger, recorder MetricsRecorder) *CircuitBreaker {
	if log == nil {
		log = logger.Global().Module("notification")
	}

	if err := config.Validate(); err != nil {
		log.Warn("circuit breaker config validation failed",
			logger.String("destination", destination),
			logger.Error(err))
	}

	cb := &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		destination:     destination,
		log:             log,
		recorder:        recorder,
	}

	if recorder != nil {
		recorder.SetCircuitState(destination, int(StateClosed))
	}

	return cb
}

// Call executes fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		state, failures := cb.State(), cb.Failures()
		return fmt.Errorf("circuit breaker rejected request (%v, %d consecutive failures): %w",
			state, failures, err)
	}

	err := fn(ctx)
	cb.afterCall(err)

	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			// this call is the first trial
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitBreakerOpen

	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
		return nil

	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}

	// caller cancellation says nothing about the destination
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	cb.lastFailureTime = time.Time{}

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateOpen:
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if cb.recorder != nil {
		cb.recorder.SetCircuitState(cb.destination, int(newState))
	}

	cb.log.Info("circuit breaker state transition",
		logger.String("destination", cb.destination),
		logger.String("old_state", oldState.String()),
		logger.String("new_state", newState.String()),
		logger.Int("consecutive_failures", cb.failures))
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// GetStats returns a snapshot of the breaker.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:            cb.state,
		Failures:         cb.failures,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
		HalfOpenRequests: cb.halfOpenRequests,
	}
}

// CircuitBreakerStats contains statistics about a circuit breaker's state.
type CircuitBreakerStats struct {
	State            CircuitState `json:"state"`
	Failures         int          `json:"consecutive_failures"`
	LastFailureTime  time.Time    `json:"last_failure,omitzero"`
	LastStateChange  time.Time    `json:"last_state_change"`
	HalfOpenRequests int          `json:"half_open_requests"`
}

// IsHealthy reports whether the circuit was closed when the snapshot was taken.
func (s CircuitBreakerStats) IsHealthy() bool {
	return s.State == StateClosed
}
