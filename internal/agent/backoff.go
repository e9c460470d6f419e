package agent

import (
	"math/rand"
	"time"
)

// backoff produces the bounded exponential retry delays described in
// spec.md §4.5/§4.9: doubling from a base interval up to a ceiling, with
// jitter so a fleet of agents polling an idle queue doesn't thunder.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, current: base}
}

// next returns the delay for this attempt and advances the sequence.
func (b *backoff) next() time.Duration {
	delay := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	return delay/2 + jitter
}

func (b *backoff) reset() {
	b.current = b.base
}
