// Package circuitbreaker guards the long-poll HTTP endpoint against repeated
// failed request cycles. Consecutive failures open the breaker; after a
// cooldown a single probe request is allowed, and one success closes it again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the breaker position.
type State int32

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailThreshold is the consecutive failures that open the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// Breaker tracks consecutive request outcomes. Safe for concurrent use,
// though the long-poll transport drives it from a single loop.
type Breaker struct {
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	failThreshold int
	cooldown      time.Duration
	logger        zerolog.Logger

	trips int64
}

// New creates a breaker in the closed state.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	return &Breaker{
		state:         StateClosed,
		failThreshold: cfg.FailThreshold,
		cooldown:      cfg.Cooldown,
		logger:        logger,
	}
}

// Allow reports whether a request may proceed. While open, it transitions to
// half-open once the cooldown has elapsed and admits a single probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	}
	return false
}

// Record registers the outcome of a request cycle. A success closes the
// breaker and clears the failure count; a failure either increments the
// count or, from half-open, reopens immediately.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failThreshold {
			b.openedAt = time.Now()
			b.trips++
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = time.Now()
		b.trips++
		b.setState(StateOpen)
	case StateOpen:
		b.openedAt = time.Now()
	}
}

func (b *Breaker) setState(s State) {
	b.logger.Debug().
		Str("from", b.state.String()).
		Str("to", s.String()).
		Msg("poll breaker state change")
	b.state = s
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Reset returns the breaker to closed with no recorded failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}
