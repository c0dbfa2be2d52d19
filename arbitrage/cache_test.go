package arbitrage

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbitrage.watch/markets"
)

func opportunity(buy, sell string, buyPrice, sellPrice, volume float64) Opportunity {
	return Opportunity{
		Pair:          markets.MakePair("ETH", "USDT"),
		BuyExchange:   buy,
		SellExchange:  sell,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		BuyVolume:     volume,
		SellVolume:    volume,
		TradeVolume:   volume,
		ProfitPercent: (sellPrice - buyPrice) / buyPrice * 100,
	}
}

func drainBest(c *Cache) (*Opportunity, bool) {
	select {
	case b := <-c.BestUpdates():
		return b, true
	default:
		return nil, false
	}
}

func TestUpsertDeduplicatesByFingerprint(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())
	updates := c.Subscribe(256)

	opp := opportunity("exch-a", "exch-b", 2001, 2010, 5)
	for i := 0; i < 100; i++ {
		c.upsert(opp)
	}

	assert.Equal(t, 1, c.Len())
	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.EqualValues(t, 100, snap[0].SeenCount)
	assert.NotEmpty(t, snap[0].ID)
	assert.GreaterOrEqual(t, snap[0].LastSeen, snap[0].FirstSeen)

	// One insert, ninety-nine refreshes.
	var inserts, refreshes int
	for i := 0; i < 100; i++ {
		u := <-updates
		if u.New {
			inserts++
		} else {
			refreshes++
		}
	}
	assert.Equal(t, 1, inserts)
	assert.Equal(t, 99, refreshes)

	// Identity survives refreshes.
	assert.Equal(t, snap[0].ID, func() string {
		c.upsert(opp)
		return c.Snapshot()[0].ID
	}())
}

func TestBestNeedsClearMargin(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())

	c.upsert(opportunity("exch-a", "exch-b", 2000, 2020, 5)) // 1.00%
	best, ok := drainBest(c)
	require.True(t, ok)
	require.NotNil(t, best)
	assert.InDelta(t, 1.0, best.ProfitPercent, 0.0001)

	// 1.005% is inside the epsilon band; the incumbent holds.
	c.upsert(opportunity("exch-a", "exch-c", 2000, 2020.1, 5))
	_, ok = drainBest(c)
	assert.False(t, ok, "no BestChanged for a sub-epsilon improvement")
	assert.InDelta(t, 1.0, c.Best().ProfitPercent, 0.0001)

	// 1.05% clears it.
	c.upsert(opportunity("exch-a", "exch-d", 2000, 2021, 5))
	best, ok = drainBest(c)
	require.True(t, ok)
	require.NotNil(t, best)
	assert.InDelta(t, 1.05, best.ProfitPercent, 0.0001)
	assert.Equal(t, "exch-d", best.SellExchange)
}

func TestBestTieBreaksOnVolume(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())

	c.upsert(opportunity("exch-a", "exch-b", 2000, 2020, 5))
	drainBest(c)

	// Same profit, twice the volume: takes the crown.
	c.upsert(opportunity("exch-c", "exch-d", 1000, 1010, 10))
	best, ok := drainBest(c)
	require.True(t, ok)
	require.NotNil(t, best)
	assert.Equal(t, 10.0, best.TradeVolume)
	assert.Equal(t, "exch-c", best.BuyExchange)

	// Same profit, less volume: ignored.
	c.upsert(opportunity("exch-e", "exch-f", 3000, 3030, 1))
	_, ok = drainBest(c)
	assert.False(t, ok)
}

func TestSweepExpiresEntriesAndBest(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())

	c.upsert(opportunity("exch-a", "exch-b", 2000, 2020, 5))
	drainBest(c)
	require.Equal(t, 1, c.Len())

	// Nothing expires inside the TTL.
	c.sweep()
	assert.Equal(t, 1, c.Len())

	c.mu.Lock()
	for _, e := range c.entries {
		e.LastSeen -= 120
	}
	c.mu.Unlock()

	c.sweep()
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Best())

	best, ok := drainBest(c)
	require.True(t, ok, "emptying the cache announces a nil best")
	assert.Nil(t, best)
}

func TestSweepPromotesNextBest(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())

	c.upsert(opportunity("exch-a", "exch-b", 2000, 2040, 5)) // 2.00%
	c.upsert(opportunity("exch-a", "exch-c", 2000, 2020, 5)) // 1.00%
	drainBest(c)

	// Only the incumbent best ages out.
	c.mu.Lock()
	for _, e := range c.entries {
		if e.SellExchange == "exch-b" {
			e.LastSeen -= 120
		}
	}
	c.mu.Unlock()

	c.sweep()
	require.Equal(t, 1, c.Len())
	best, ok := drainBest(c)
	require.True(t, ok)
	require.NotNil(t, best)
	assert.Equal(t, "exch-c", best.SellExchange)
	assert.InDelta(t, 1.0, best.ProfitPercent, 0.0001)
}

func TestSnapshotNewestFirst(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())

	c.upsert(opportunity("exch-a", "exch-b", 2000, 2010, 5))
	c.upsert(opportunity("exch-a", "exch-c", 2000, 2012, 5))
	c.upsert(opportunity("exch-a", "exch-d", 2000, 2014, 5))

	c.mu.Lock()
	i := 0
	for _, e := range c.entries {
		e.LastSeen += float64(i) // force distinct instants
		i++
	}
	c.mu.Unlock()

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.GreaterOrEqual(t, snap[0].LastSeen, snap[1].LastSeen)
	assert.GreaterOrEqual(t, snap[1].LastSeen, snap[2].LastSeen)
}

func TestOfferDropsWhenSaturated(t *testing.T) {
	c := NewCache(time.Minute, zerolog.Nop())
	// Run is not draining; the inbox will fill and Offer must not block.
	for i := 0; i < 2000; i++ {
		c.Offer(opportunity("exch-a", "exch-b", 2000, 2010+float64(i), 5))
	}
	assert.LessOrEqual(t, len(c.inbox), 1024)
}
