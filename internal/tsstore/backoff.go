package tsstore

import (
	"sync"
	"time"
)

// Default reconnect delays.
const (
	// DefaultInitialBackoff is the first delay after a failure.
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff caps the delay between reconnect attempts.
	DefaultMaxBackoff = 60 * time.Second
)

// Backoff is an exponential reconnect delay. Next returns the current delay
// and doubles it for the following call, never exceeding the cap. Reset
// returns to the initial delay.
//
// For N consecutive calls without a Reset, call k returns
// min(initial * 2^(k-1), max).
type Backoff struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff. Non-positive values fall back to the
// defaults, and maxDelay is raised to initial if it is smaller.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{initial: initial, max: maxDelay, current: initial}
}

// Next returns the delay to wait now and advances the state.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.current
	if b.current > b.max/2 {
		b.current = b.max
	} else {
		b.current *= 2
	}
	return d
}

// Current returns the delay Next would return, without advancing.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset returns the delay to its initial value.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = b.initial
	b.mu.Unlock()
}
