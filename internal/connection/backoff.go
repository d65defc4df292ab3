package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff decides how long to wait before the next reconnect attempt.
// Implementations must be safe for use from timer callbacks.
type Backoff interface {
	// Next returns the wait before the next attempt and advances the policy.
	Next() time.Duration

	// Reset restores the policy to its initial state after a successful open.
	Reset()
}

// exponentialBackoff doubles the wait per attempt up to a cap and applies
// full jitter, so a fleet of clients does not reconnect in lockstep.
type exponentialBackoff struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	attempt int
}

// NewExponential returns a bounded exponential backoff with full jitter.
func NewExponential(base, max time.Duration) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &exponentialBackoff{base: base, max: max}
}

func (b *exponentialBackoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	wait := b.base
	for i := 0; i < b.attempt && wait < b.max; i++ {
		wait *= 2
	}
	if wait > b.max {
		wait = b.max
	}
	b.attempt++

	// Full jitter: anywhere in (0, wait].
	return time.Duration(rand.Int63n(int64(wait))) + 1
}

func (b *exponentialBackoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// fixedBackoff retries on a constant interval, the legacy client cadence.
type fixedBackoff struct {
	interval time.Duration
}

// NewFixed returns a constant-interval reconnect policy.
func NewFixed(interval time.Duration) Backoff {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return fixedBackoff{interval: interval}
}

func (b fixedBackoff) Next() time.Duration { return b.interval }
func (b fixedBackoff) Reset()              {}
