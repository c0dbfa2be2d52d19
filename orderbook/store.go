package orderbook

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
)

const shardCount = 32

// Store is the authoritative top-of-book map, sharded by pair so that
// writers from different markets never contend and a detector scan of
// one pair touches a single shard.
type Store struct {
	shards [shardCount]shard

	staleMu    sync.RWMutex
	stale      map[string]struct{}
	staleCount atomic.Int32

	subsMu sync.RWMutex
	subs   []*Subscription
}

type shard struct {
	mu     sync.RWMutex
	quotes map[Key]Quote
}

func NewStore() *Store {
	s := &Store{stale: make(map[string]struct{})}
	for i := range s.shards {
		s.shards[i].quotes = make(map[Key]Quote)
	}
	return s
}

func (s *Store) shardFor(p markets.Pair) *shard {
	return &s.shards[p.Hash()&(shardCount-1)]
}

// Put replaces the stored quote when the incoming sequence is strictly
// newer, then fans the change out to every subscription.
func (s *Store) Put(q Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	k := q.Key()
	sh := s.shardFor(q.Pair)

	sh.mu.Lock()
	cur, exists := sh.quotes[k]
	if exists && q.Sequence <= cur.Sequence {
		sh.mu.Unlock()
		metrics.StaleQuotes.WithLabelValues(q.Exchange).Inc()
		return fmt.Errorf("%w: %s %s seq %d <= %d",
			ErrStaleQuote, q.Exchange, q.Pair, q.Sequence, cur.Sequence)
	}
	sh.quotes[k] = q
	sh.mu.Unlock()

	if s.staleCount.Load() > 0 {
		s.revive(q.Exchange)
	}
	metrics.QuotesIngested.WithLabelValues(q.Exchange).Inc()

	ev := Event{New: q}
	if exists {
		prev := cur
		ev.Prev = &prev
	}
	s.subsMu.RLock()
	for _, sub := range s.subs {
		sub.inbox.Push(ev)
	}
	s.subsMu.RUnlock()
	return nil
}

func (s *Store) Get(exchange string, pair markets.Pair) (Quote, bool) {
	k := Key{Exchange: exchange, Pair: pair}
	sh := s.shardFor(pair)
	sh.mu.RLock()
	q, ok := sh.quotes[k]
	sh.mu.RUnlock()
	return q, ok
}

// PairQuotes returns every non-stale quote for one pair. Sharding by
// pair keeps this a single-shard read.
func (s *Store) PairQuotes(pair markets.Pair) []Quote {
	sh := s.shardFor(pair)
	sh.mu.RLock()
	out := make([]Quote, 0, 8)
	for k, q := range sh.quotes {
		if k.Pair != pair {
			continue
		}
		out = append(out, q)
	}
	sh.mu.RUnlock()

	if s.staleCount.Load() == 0 {
		return out
	}
	s.staleMu.RLock()
	fresh := out[:0]
	for _, q := range out {
		if _, bad := s.stale[q.Exchange]; !bad {
			fresh = append(fresh, q)
		}
	}
	s.staleMu.RUnlock()
	return fresh
}

// Snapshot copies the whole store at one point in time, sorted by
// exchange then pair.
func (s *Store) Snapshot() []Quote {
	for i := range s.shards {
		s.shards[i].mu.RLock()
	}
	n := 0
	for i := range s.shards {
		n += len(s.shards[i].quotes)
	}
	out := make([]Quote, 0, n)
	for i := range s.shards {
		for _, q := range s.shards[i].quotes {
			out = append(out, q)
		}
	}
	for i := range s.shards {
		s.shards[i].mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

// Len reports the number of stored quotes.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].quotes)
		s.shards[i].mu.RUnlock()
	}
	return n
}

// MarkExchangeStale excludes an exchange's quotes from detection until
// a fresh quote arrives or the exchange is cleared.
func (s *Store) MarkExchangeStale(exchange string) {
	s.staleMu.Lock()
	if _, ok := s.stale[exchange]; !ok {
		s.stale[exchange] = struct{}{}
		s.staleCount.Add(1)
	}
	s.staleMu.Unlock()
}

// IsStale reports whether the exchange is currently excluded.
func (s *Store) IsStale(exchange string) bool {
	if s.staleCount.Load() == 0 {
		return false
	}
	s.staleMu.RLock()
	_, ok := s.stale[exchange]
	s.staleMu.RUnlock()
	return ok
}

// ClearExchange drops all quotes of an exchange and lifts its stale
// mark; the collector calls this before rebuilding from a fresh
// subscription.
func (s *Store) ClearExchange(exchange string) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.quotes {
			if k.Exchange == exchange {
				delete(sh.quotes, k)
			}
		}
		sh.mu.Unlock()
	}
	s.revive(exchange)
}

func (s *Store) revive(exchange string) {
	s.staleMu.RLock()
	_, ok := s.stale[exchange]
	s.staleMu.RUnlock()
	if !ok {
		return
	}
	s.staleMu.Lock()
	if _, ok := s.stale[exchange]; ok {
		delete(s.stale, exchange)
		s.staleCount.Add(-1)
	}
	s.staleMu.Unlock()
}

// Subscription delivers store change events over a bounded channel,
// conflating per key while the consumer lags.
type Subscription struct {
	store *Store
	inbox *Conflator
	out   chan Event
	done  chan struct{}
	once  sync.Once
}

// Subscribe registers a named consumer. The buffer bounds how far the
// consumer may fall behind before conflation kicks in.
func (s *Store) Subscribe(name string, buffer int) *Subscription {
	sub := &Subscription{
		store: s,
		inbox: NewConflator(name),
		out:   make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
	go sub.pump()
	return sub
}

func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		ev, ok := sub.inbox.Pop(sub.done)
		if !ok {
			return
		}
		select {
		case sub.out <- ev:
		case <-sub.done:
			return
		}
	}
}

// Events is the consumer side; it closes after Close.
func (sub *Subscription) Events() <-chan Event { return sub.out }

func (sub *Subscription) Close() {
	sub.once.Do(func() {
		s := sub.store
		s.subsMu.Lock()
		for i, other := range s.subs {
			if other == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.subsMu.Unlock()
		close(sub.done)
	})
}
