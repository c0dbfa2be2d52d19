package arbitrage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

const (
	sweepInterval = time.Second

	// bestEpsilon is the profit margin a newcomer must clear over the
	// incumbent best; it keeps two venues flapping around the same
	// spread from generating a BestChanged storm.
	bestEpsilon = 0.01
)

// Update is one cache mutation, fanned out to listeners. New marks the
// first sighting of a fingerprint; repeats only refresh the entry.
type Update struct {
	Opportunity Opportunity
	New         bool
}

// Cache holds the live opportunity set: one entry per fingerprint,
// TTL-evicted, with a tracked best. The Run goroutine is the only
// writer; snapshot accessors are safe from anywhere.
type Cache struct {
	ttl time.Duration
	log zerolog.Logger

	inbox  chan Opportunity
	bestCh chan *Opportunity

	mu      sync.RWMutex
	entries map[string]*Opportunity
	best    *Opportunity

	subMu sync.RWMutex
	subs  []chan Update
}

func NewCache(ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		ttl:     ttl,
		log:     log.With().Str("component", "opportunity-cache").Logger(),
		inbox:   make(chan Opportunity, 1024),
		bestCh:  make(chan *Opportunity, 1),
		entries: make(map[string]*Opportunity),
	}
}

// Offer hands a detection to the cache without blocking the detector.
func (c *Cache) Offer(opp Opportunity) {
	select {
	case c.inbox <- opp:
	default:
		metrics.OpportunityDrops.Inc()
	}
}

// Subscribe returns a channel of cache mutations. Listeners that fall
// behind lose updates rather than stalling the cache.
func (c *Cache) Subscribe(buffer int) <-chan Update {
	ch := make(chan Update, buffer)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

// BestUpdates is a latest-value channel: an unread best is replaced,
// never queued. Nil means the cache emptied. Single consumer.
func (c *Cache) BestUpdates() <-chan *Opportunity {
	return c.bestCh
}

// Run owns all cache state until ctx ends.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp := <-c.inbox:
			c.upsert(opp)
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) upsert(opp Opportunity) {
	now := orderbook.Now()
	fp := opp.Fingerprint()

	c.mu.Lock()
	if entry, ok := c.entries[fp]; ok {
		// Same fingerprint means same prices; no re-ranking needed.
		entry.LastSeen = now
		entry.SeenCount++
		out := *entry
		c.mu.Unlock()
		c.publish(Update{Opportunity: out})
		return
	}

	opp.ID = fmt.Sprintf("%d_%s_%s_%s", time.Now().Unix(), opp.BuyExchange, opp.SellExchange, opp.Pair.Compact())
	opp.FirstSeen = now
	opp.LastSeen = now
	opp.SeenCount = 1
	entry := &opp
	c.entries[fp] = entry

	bestChanged := dethrones(entry, c.best)
	if bestChanged {
		c.best = entry
	}
	out := *entry
	c.mu.Unlock()

	c.publish(Update{Opportunity: out, New: true})
	if bestChanged {
		c.log.Info().
			Str("pair", string(out.Pair)).
			Str("buy", out.BuyExchange).
			Str("sell", out.SellExchange).
			Float64("profit_pct", out.ProfitPercent).
			Msg("new best opportunity")
		c.publishBest()
	}
}

// dethrones decides whether a fresh entry displaces the incumbent best:
// clear it by bestEpsilon, or match its profit with more volume.
func dethrones(candidate, incumbent *Opportunity) bool {
	if incumbent == nil {
		return true
	}
	if candidate.ProfitPercent > incumbent.ProfitPercent+bestEpsilon {
		return true
	}
	return common.Equal(candidate.ProfitPercent, incumbent.ProfitPercent) &&
		candidate.TradeVolume > incumbent.TradeVolume
}

func (c *Cache) sweep() {
	now := orderbook.Now()
	ttl := c.ttl.Seconds()

	c.mu.Lock()
	dropped := 0
	bestDropped := false
	for fp, e := range c.entries {
		if now-e.LastSeen > ttl {
			delete(c.entries, fp)
			if c.best == e {
				bestDropped = true
			}
			dropped++
		}
	}
	if bestDropped {
		var next *Opportunity
		for _, e := range c.entries {
			if next == nil || e.ProfitPercent > next.ProfitPercent ||
				(common.Equal(e.ProfitPercent, next.ProfitPercent) && e.TradeVolume > next.TradeVolume) {
				next = e
			}
		}
		c.best = next
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if dropped > 0 {
		c.log.Debug().Int("expired", dropped).Int("remaining", remaining).Msg("cache sweep")
	}
	if bestDropped {
		c.publishBest()
	}
}

func (c *Cache) publish(u Update) {
	c.subMu.RLock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			metrics.OpportunityDrops.Inc()
		}
	}
	c.subMu.RUnlock()
}

func (c *Cache) publishBest() {
	best := c.Best()
	for {
		select {
		case c.bestCh <- best:
			return
		default:
			select {
			case <-c.bestCh:
			default:
			}
		}
	}
}

// Snapshot returns the live entries, newest sighting first.
func (c *Cache) Snapshot() []Opportunity {
	c.mu.RLock()
	out := make([]Opportunity, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen > out[j].LastSeen })
	return out
}

// Best returns a copy of the current best, or nil.
func (c *Cache) Best() *Opportunity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.best == nil {
		return nil
	}
	v := *c.best
	return &v
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
