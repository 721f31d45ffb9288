package supervisor

import "time"

// Backoff tracks the delay inserted between restart cycles.
//
// The delay starts at the initial value, doubles after every restart and is
// capped at the maximum. It never resets for the life of the supervisor: a
// long-lived flaky worker backs off monotonically until capped rather than
// oscillating between fast and slow restart loops.
//
// Mutated only by the supervisor loop; not safe for concurrent use.
type Backoff struct {
	current time.Duration
	max     time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
// A max below initial is clamped up to initial.
func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{current: initial, max: max}
}

// Next returns the delay to sleep before the next restart and advances the
// state: the following call returns double the delay, capped at max.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return delay
}

// Current returns the delay the next call to Next will return, without
// advancing.
func (b *Backoff) Current() time.Duration {
	return b.current
}
