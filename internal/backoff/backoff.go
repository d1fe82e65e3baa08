// Package backoff implements the reconnection delay policy: exponential
// backoff with jitter and a give-up condition after a configured number of
// attempts.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Config holds the backoff policy parameters.
type Config struct {
	// BaseWait is the delay before the first retry.
	BaseWait time.Duration
	// MaxWait caps the delay regardless of attempt count.
	MaxWait time.Duration
	// Jitter is the fraction of the delay randomized in each direction,
	// in [0, 1]. Zero disables jitter.
	Jitter float64
	// MaxAttempts is the attempt count at which the policy stops retrying.
	MaxAttempts int
	// Seed seeds the jitter RNG. Zero selects a time-based seed; any other
	// value makes the delay sequence reproducible.
	Seed int64
}

// DefaultConfig returns a policy config with the production defaults:
// 1s base, 30s cap, 20% jitter, 10 attempts.
func DefaultConfig() Config {
	return Config{
		BaseWait:    1 * time.Second,
		MaxWait:     30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 10,
	}
}

// Policy computes retry delays. It is safe for use from a single session
// loop; the RNG is guarded for the benefit of concurrent tests.
type Policy struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a backoff policy from the given config, applying defaults for
// zero-valued timing fields.
func New(cfg Config) *Policy {
	if cfg.BaseWait == 0 {
		cfg.BaseWait = 1 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 30 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Policy{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// NextDelay returns the delay before retry number attempt (zero-based) and
// whether a retry should happen at all. ok == false signals Stop: the
// session surfaces the errored terminal state instead of retrying.
func (p *Policy) NextDelay(attempt int) (delay time.Duration, ok bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= p.cfg.MaxAttempts {
		return 0, false
	}

	d := p.base(attempt)
	if p.cfg.Jitter > 0 {
		span := time.Duration(float64(d) * p.cfg.Jitter)
		if span > 0 {
			p.mu.Lock()
			// Uniform in [-span, +span].
			d += time.Duration(p.rng.Int63n(int64(2*span))) - span
			p.mu.Unlock()
		}
	}
	if d < 0 {
		d = 0
	}
	if d > p.cfg.MaxWait {
		d = p.cfg.MaxWait
	}
	return d, true
}

// base returns the un-jittered delay min(MaxWait, BaseWait * 2^attempt),
// saturating instead of overflowing for large attempts.
func (p *Policy) base(attempt int) time.Duration {
	if attempt >= 63 {
		return p.cfg.MaxWait
	}
	d := p.cfg.BaseWait << uint(attempt)
	if d <= 0 || d > p.cfg.MaxWait {
		return p.cfg.MaxWait
	}
	return d
}

// MaxAttempts returns the configured retry limit.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}
