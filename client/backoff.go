package client

import "time"

// backoff computes the reconnection delay schedule: base, 2x, 4x, ... capped.
// Not safe for concurrent use; the client serializes access.
type backoff struct {
	base     time.Duration
	cap      time.Duration
	attempts int
}

// next returns the delay for the upcoming attempt and advances the counter.
func (b *backoff) next() time.Duration {
	d := b.base << b.attempts
	if d > b.cap || d <= 0 {
		d = b.cap
	}
	b.attempts++
	return d
}

func (b *backoff) reset() { b.attempts = 0 }
