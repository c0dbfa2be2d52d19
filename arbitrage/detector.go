package arbitrage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

// Detector consumes QuoteChanged events and scans every other venue
// quoting the same pair, in both directions. Work is sharded by pair so
// one pair's quotes are always examined in order by the same worker,
// and each worker's inbox conflates per key when it lags.
type Detector struct {
	store *orderbook.Store
	reg   *markets.Registry
	sink  *Cache
	log   zerolog.Logger

	globalMin float64
	inboxes   []*orderbook.Conflator
	sub       *orderbook.Subscription
}

// NewDetector wires the detector into the store. The subscription is
// live from here on; quotes arriving before Run starts wait, conflated
// per key, rather than being lost.
func NewDetector(store *orderbook.Store, reg *markets.Registry, sink *Cache, log zerolog.Logger, globalMin float64, workers int) *Detector {
	if workers < 1 {
		workers = 1
	}
	d := &Detector{
		store:     store,
		reg:       reg,
		sink:      sink,
		log:       log.With().Str("component", "detector").Logger(),
		globalMin: globalMin,
		inboxes:   make([]*orderbook.Conflator, workers),
		sub:       store.Subscribe("detector", 256),
	}
	for i := range d.inboxes {
		d.inboxes[i] = orderbook.NewConflator(fmt.Sprintf("detector-%d", i))
	}
	return d
}

// Run blocks until ctx ends. Call it once.
func (d *Detector) Run(ctx context.Context) error {
	sub := d.sub
	defer sub.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, inbox := range d.inboxes {
		wg.Add(1)
		go func(inbox *orderbook.Conflator) {
			defer wg.Done()
			d.worker(done, inbox)
		}(inbox)
	}
	defer func() {
		close(done)
		wg.Wait()
	}()

	d.log.Info().Int("workers", len(d.inboxes)).Float64("min_profit", d.globalMin).Msg("detector running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			d.inboxes[int(ev.New.Pair.Hash())%len(d.inboxes)].Push(ev)
		}
	}
}

func (d *Detector) worker(done <-chan struct{}, inbox *orderbook.Conflator) {
	for {
		ev, ok := inbox.Pop(done)
		if !ok {
			return
		}
		d.process(ev.New)
	}
}

func (d *Detector) process(q orderbook.Quote) {
	start := time.Now()
	// The exchange may have gone stale between publication and pickup.
	if d.store.IsStale(q.Exchange) {
		return
	}
	meta, ok := d.reg.Describe(q.Pair)
	if !ok {
		return
	}

	for _, other := range d.store.PairQuotes(q.Pair) {
		if other.Exchange == q.Exchange {
			continue
		}
		if opp, ok := Evaluate(q, other, meta, d.globalMin); ok {
			metrics.Opportunities.WithLabelValues(string(q.Pair)).Inc()
			d.sink.Offer(opp)
		}
		if opp, ok := Evaluate(other, q, meta, d.globalMin); ok {
			metrics.Opportunities.WithLabelValues(string(q.Pair)).Inc()
			d.sink.Offer(opp)
		}
	}
	metrics.DetectLatency.Observe(time.Since(start).Seconds())
}
