package orderbook

import (
	"sync"

	"arbitrage.watch/metrics"
)

// Conflator is a per-key mailbox with single-consumer semantics: at most
// one pending event per key, and a newer event for a pending key
// replaces it in place. Pop order is the order keys first became
// pending, so a lagging consumer sees every key's latest state without
// unbounded queue growth.
type Conflator struct {
	name string

	mu      sync.Mutex
	pending map[Key]Event
	order   []Key

	notify chan struct{}
}

func NewConflator(name string) *Conflator {
	return &Conflator{
		name:    name,
		pending: make(map[Key]Event),
		notify:  make(chan struct{}, 1),
	}
}

// Push enqueues or replaces the pending event for the key.
func (c *Conflator) Push(ev Event) {
	k := ev.New.Key()
	c.mu.Lock()
	if _, ok := c.pending[k]; ok {
		c.pending[k] = ev
		c.mu.Unlock()
		metrics.ConflatedEvents.WithLabelValues(c.name).Inc()
		return
	}
	c.pending[k] = ev
	c.order = append(c.order, k)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the oldest pending event, if any.
func (c *Conflator) TryPop() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return Event{}, false
	}
	k := c.order[0]
	c.order = c.order[1:]
	ev := c.pending[k]
	delete(c.pending, k)
	return ev, true
}

// Pop blocks until an event is pending or done closes.
func (c *Conflator) Pop(done <-chan struct{}) (Event, bool) {
	for {
		if ev, ok := c.TryPop(); ok {
			return ev, true
		}
		select {
		case <-c.notify:
		case <-done:
			return Event{}, false
		}
	}
}

// Len reports the number of pending keys.
func (c *Conflator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
