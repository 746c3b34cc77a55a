// Package bridge pumps messages from the input stream through the remote
// transport and coordinates shutdown of the pipeline stages.
package bridge

import "time"

// Backoff is the exponential retry delay for one message.
// It is owned by a single goroutine and needs no locking.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff starting at initial and doubling up to max.
// A max below initial is raised to initial.
func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait now and doubles the following one,
// capped at max.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	b.current *= 2
	if b.current > b.max || b.current <= 0 {
		b.current = b.max
	}
	return delay
}

// Reset restores the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Current returns the delay Next would return.
func (b *Backoff) Current() time.Duration {
	return b.current
}
