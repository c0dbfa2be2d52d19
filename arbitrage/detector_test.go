package arbitrage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbitrage.watch/markets"
	"arbitrage.watch/orderbook"
)

var ethUSDT = markets.MakePair("ETH", "USDT")

func testRegistry(t *testing.T) *markets.Registry {
	t.Helper()
	reg, err := markets.NewRegistry(
		[]markets.Metadata{{
			Pair:      ethUSDT,
			Base:      "ETH",
			Quote:     "USDT",
			Precision: markets.Precision{Price: 2, Amount: 4},
			Enabled:   true,
		}},
		nil,
	)
	require.NoError(t, err)
	return reg
}

func quote(ex string, bid, bidVol, ask, askVol float64) orderbook.Quote {
	return orderbook.Quote{
		Exchange:  ex,
		Pair:      ethUSDT,
		BidPrice:  bid,
		BidVolume: bidVol,
		AskPrice:  ask,
		AskVolume: askVol,
		Timestamp: orderbook.Now(),
		Sequence:  1,
	}
}

func TestEvaluateFindsCrossedSpread(t *testing.T) {
	buy := quote("exch-a", 2000, 10, 2001, 10)
	sell := quote("exch-b", 2010, 5, 2011, 5)
	meta := markets.Metadata{Pair: ethUSDT}

	opp, ok := Evaluate(buy, sell, meta, 0.1)
	require.True(t, ok)
	assert.Equal(t, "exch-a", opp.BuyExchange)
	assert.Equal(t, "exch-b", opp.SellExchange)
	assert.Equal(t, 2001.0, opp.BuyPrice)
	assert.Equal(t, 2010.0, opp.SellPrice)
	assert.Equal(t, 10.0, opp.BuyVolume)
	assert.Equal(t, 5.0, opp.SellVolume)
	assert.Equal(t, 5.0, opp.TradeVolume)
	assert.InDelta(t, 0.4498, opp.ProfitPercent, 0.0001)

	// The reverse direction is not crossed.
	_, ok = Evaluate(sell, buy, meta, 0.1)
	assert.False(t, ok)
}

func TestEvaluateThresholds(t *testing.T) {
	buy := quote("exch-a", 2000, 10, 2001, 10)
	sell := quote("exch-b", 2010, 5, 2011, 5)

	// Profit ~0.45% misses a 0.5% global floor.
	_, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT}, 0.5)
	assert.False(t, ok)

	// A configured market threshold overrides the global one.
	opp, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT, MinProfit: 0.3}, 1.0)
	require.True(t, ok)
	assert.InDelta(t, 0.4498, opp.ProfitPercent, 0.0001)

	// Exactly at threshold passes.
	_, ok = Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT, MinProfit: 0.4497751124437781}, 0)
	assert.True(t, ok)
}

func TestEvaluateVolumeBounds(t *testing.T) {
	buy := quote("exch-a", 2000, 10, 2001, 10)
	sell := quote("exch-b", 2010, 5, 2011, 5)

	_, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT, MinVolume: 6}, 0)
	assert.False(t, ok, "trade volume 5 under the market minimum")

	opp, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT, MaxVolume: 3}, 0)
	require.True(t, ok)
	assert.Equal(t, 3.0, opp.TradeVolume, "trade volume clamped to the market maximum")

	// Clamping can push the volume under the minimum.
	_, ok = Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT, MinVolume: 4, MaxVolume: 3}, 0)
	assert.False(t, ok)
}

func TestEvaluateRejectsEmptySides(t *testing.T) {
	buy := quote("exch-a", 2000, 10, 0, 0)
	sell := quote("exch-b", 2010, 5, 2011, 5)
	_, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT}, 0)
	assert.False(t, ok)

	// Zero available volume on one side kills the direction.
	buy = quote("exch-a", 2000, 10, 2001, 0)
	_, ok = Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT}, 0)
	assert.False(t, ok)
}

func TestFingerprintStability(t *testing.T) {
	buy := quote("exch-a", 2000, 10, 2001, 10)
	sell := quote("exch-b", 2010, 5, 2011, 5)
	a, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT}, 0)
	require.True(t, ok)
	b, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT}, 0)
	require.True(t, ok)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	assert.Equal(t,
		"exch-a|exch-b|ETH/USDT|2001.0000000000|2010.0000000000|10.00000000|5.00000000",
		a.Fingerprint())

	// Any price move is a different configuration.
	sell.BidPrice = 2010.01
	c, ok := Evaluate(buy, sell, markets.Metadata{Pair: ethUSDT}, 0)
	require.True(t, ok)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestDetectorPipeline(t *testing.T) {
	store := orderbook.NewStore()
	cache := NewCache(time.Minute, zerolog.Nop())
	det := NewDetector(store, testRegistry(t), cache, zerolog.Nop(), 0.1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)
	go det.Run(ctx)

	require.NoError(t, store.Put(quote("exch-a", 2000, 10, 2001, 10)))
	require.NoError(t, store.Put(quote("exch-b", 2010, 5, 2011, 5)))

	require.Eventually(t, func() bool {
		return cache.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := cache.Snapshot()
	require.Len(t, snap, 1)
	opp := snap[0]
	assert.Equal(t, "exch-a", opp.BuyExchange)
	assert.Equal(t, "exch-b", opp.SellExchange)
	assert.Equal(t, 5.0, opp.TradeVolume)
	assert.InDelta(t, 0.4498, opp.ProfitPercent, 0.0001)
	assert.EqualValues(t, 1, opp.SeenCount)

	best := cache.Best()
	require.NotNil(t, best)
	assert.InDelta(t, 0.4498, best.ProfitPercent, 0.0001)

	// A third venue under everyone's bids opens two more directions and
	// a clearly better best.
	require.NoError(t, store.Put(quote("exch-c", 2050, 3, 2060, 3)))

	require.Eventually(t, func() bool {
		return cache.Len() == 3
	}, 2*time.Second, 10*time.Millisecond)

	best = cache.Best()
	require.NotNil(t, best)
	assert.Equal(t, "exch-a", best.BuyExchange)
	assert.Equal(t, "exch-c", best.SellExchange)
	assert.Equal(t, 3.0, best.TradeVolume)
	assert.InDelta(t, 2.4488, best.ProfitPercent, 0.001)
}

func TestDetectorSkipsStaleExchanges(t *testing.T) {
	store := orderbook.NewStore()
	cache := NewCache(time.Minute, zerolog.Nop())
	det := NewDetector(store, testRegistry(t), cache, zerolog.Nop(), 0.1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)
	go det.Run(ctx)

	require.NoError(t, store.Put(quote("exch-a", 2000, 10, 2001, 10)))
	store.MarkExchangeStale("exch-a")

	// exch-b's update sees no fresh counterparty.
	require.NoError(t, store.Put(quote("exch-b", 2010, 5, 2011, 5)))

	require.Never(t, func() bool {
		return cache.Len() > 0
	}, 300*time.Millisecond, 20*time.Millisecond)
}
