package graphql

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/portico/internal/config"
)

// BreakerState is the position of the backend circuit breaker. The numeric
// values are exported as the breaker state gauge.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

var breakerStateNames = [...]string{"closed", "half-open", "open"}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(breakerStateNames) {
		return "unknown"
	}
	return breakerStateNames[s]
}

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Below this many calls in a window the error rate is not trusted.
const minErrorRateSamples = 10

// breakerCounts tallies outcomes for the current window. Consecutive
// counters span window boundaries; totals do not.
type breakerCounts struct {
	requests             int
	failures             int
	consecutiveFailures  int
	consecutiveSuccesses int
}

func (c *breakerCounts) success() {
	c.requests++
	c.consecutiveSuccesses++
	c.consecutiveFailures = 0
}

func (c *breakerCounts) failure() {
	c.requests++
	c.failures++
	c.consecutiveFailures++
	c.consecutiveSuccesses = 0
}

func (c *breakerCounts) clearWindow() {
	c.requests, c.failures = 0, 0
}

// CircuitBreaker stops calls to the backend after repeated failures. Closed,
// it trips on consecutive failures or on a windowed error rate. Open, it
// rejects calls for a cool-down. Half-open, it closes again after enough
// consecutive successful probes and reopens on the first failure.
type CircuitBreaker struct {
	maxFailures  int
	probes       int
	cooldown     time.Duration
	window       time.Duration
	maxErrorRate float64
	onChange     func(BreakerState)
	now          func() time.Time

	mu     sync.Mutex
	state  BreakerState
	counts breakerCounts
	expiry time.Time // end of the closed window, or of the open cool-down
}

// NewCircuitBreaker builds a breaker from cfg, defaulting to 5 failures, 2
// probes and a 30s cool-down. onChange runs under the breaker's lock on every
// transition.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, onChange func(BreakerState)) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:  max(cfg.FailureThreshold, 0),
		probes:       max(cfg.SuccessThreshold, 0),
		cooldown:     cfg.Timeout,
		window:       cfg.ErrorRateWindow,
		maxErrorRate: cfg.ErrorRateThreshold,
		onChange:     onChange,
		now:          time.Now,
	}
	if cb.maxFailures == 0 {
		cb.maxFailures = 5
	}
	if cb.probes == 0 {
		cb.probes = 2
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	return cb
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.current(cb.now()) == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess counts a call that reached the backend and succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.current(now) {
	case BreakerClosed:
		cb.counts.success()
	case BreakerHalfOpen:
		cb.counts.success()
		if cb.counts.consecutiveSuccesses >= cb.probes {
			cb.transition(BreakerClosed, now)
		}
	}
}

// RecordFailure counts a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.current(now) {
	case BreakerClosed:
		cb.counts.failure()
		if cb.readyToTrip() {
			cb.transition(BreakerOpen, now)
		}
	case BreakerHalfOpen:
		cb.transition(BreakerOpen, now)
	}
}

// State returns the breaker state, moving to half-open once the cool-down
// has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current(cb.now())
}

func (cb *CircuitBreaker) readyToTrip() bool {
	c := cb.counts
	if c.consecutiveFailures >= cb.maxFailures {
		return true
	}
	if cb.maxErrorRate <= 0 || cb.window <= 0 || c.requests < minErrorRateSamples {
		return false
	}
	return float64(c.failures)/float64(c.requests) >= cb.maxErrorRate
}

// current applies time-based transitions and returns the resulting state.
func (cb *CircuitBreaker) current(now time.Time) BreakerState {
	switch cb.state {
	case BreakerOpen:
		if now.After(cb.expiry) {
			cb.transition(BreakerHalfOpen, now)
		}
	case BreakerClosed:
		if cb.window <= 0 {
			break
		}
		if !cb.expiry.IsZero() && now.After(cb.expiry) {
			cb.counts.clearWindow()
			cb.expiry = time.Time{}
		}
		if cb.expiry.IsZero() {
			cb.expiry = now.Add(cb.window)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to BreakerState, now time.Time) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.counts = breakerCounts{}

	cb.expiry = time.Time{}
	if to == BreakerOpen {
		cb.expiry = now.Add(cb.cooldown)
	}

	if cb.onChange != nil {
		cb.onChange(to)
	}
}
