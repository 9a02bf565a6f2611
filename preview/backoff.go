package preview

import "time"

type backoff struct {
	base time.Duration
	cur  time.Duration
	max  time.Duration
}

// Purpose: Construct an exponential retry delay for a failed fetch or advance.
// Key aspects: Normalizes base/max and starts at base delay.
// Upstream: Streamer.retry.
// Downstream: backoff.Next/Reset.
func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, cur: base, max: max}
}

// Purpose: Return the next retry delay and advance the window.
// Key aspects: Doubles up to the max cap.
// Upstream: Streamer.retry.
// Downstream: None.
func (b *backoff) Next() time.Duration {
	if b.cur >= b.max {
		return b.max
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Purpose: Reset the delay after a successful request.
// Key aspects: Next restarts at base.
// Upstream: Streamer.retry.
// Downstream: None.
func (b *backoff) Reset() {
	b.cur = b.base
}
