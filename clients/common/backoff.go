package common

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff yields exponentially growing, jittered reconnect delays.
// Each delay is drawn from [d/2, d] where d doubles per attempt up to
// the cap.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{base: base, max: max}
}

func (b *Backoff) Next() time.Duration {
	d := b.base
	for i := 0; i < b.attempts && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	b.attempts++

	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (b *Backoff) Reset() {
	b.attempts = 0
}

// RateTracker counts hits inside a sliding window; Hit reports whether
// the window limit was just exceeded. Collectors use it to cycle a
// connection when protocol errors exceed the venue tolerance.
type RateTracker struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   []time.Time
}

func NewRateTracker(limit int, window time.Duration) *RateTracker {
	return &RateTracker{window: window, limit: limit}
}

func (t *RateTracker) Hit() bool {
	now := time.Now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.hits[:0]
	for _, h := range t.hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	t.hits = append(kept, now)
	return len(t.hits) > t.limit
}
