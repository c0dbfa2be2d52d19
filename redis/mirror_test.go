package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"arbitrage.watch/arbitrage"
	"arbitrage.watch/markets"
	"arbitrage.watch/orderbook"
)

func newTestMirror(t *testing.T) (*Mirror, redismock.ClientMock) {
	t.Helper()
	store := orderbook.NewStore()
	cache := arbitrage.NewCache(time.Minute, zerolog.Nop())
	m := NewMirror(Options{Addr: "localhost:6379"}, store, cache, zerolog.Nop())
	db, mock := redismock.NewClientMock()
	m.client = db
	return m, mock
}

func quote() orderbook.Quote {
	return orderbook.Quote{
		Exchange:  "bingx",
		Pair:      markets.Pair("BTC/USDT"),
		BidPrice:  50000,
		BidVolume: 1.5,
		AskPrice:  50001,
		AskVolume: 0.5,
		Timestamp: 1724500000.25,
		Sequence:  7,
	}
}

func TestWritePriceStoresMsgpackRecord(t *testing.T) {
	m, mock := newTestMirror(t)

	want, err := msgpack.Marshal(PriceRecord{
		Exchange:  "bingx",
		Symbol:    "BTCUSDT",
		BidPrice:  50000,
		BidVolume: 1.5,
		AskPrice:  50001,
		AskVolume: 0.5,
		Timestamp: 1724500000.25,
	})
	require.NoError(t, err)
	mock.ExpectSet("prices:bingx:BTCUSDT", want, 0).SetVal("OK")

	m.writePrice(context.Background(), quote())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteOpportunityIndexesRecency(t *testing.T) {
	m, mock := newTestMirror(t)

	opp := arbitrage.Opportunity{
		ID:            "1724500000_bingx_wallex_BTCUSDT",
		Pair:          "BTC/USDT",
		BuyExchange:   "bingx",
		SellExchange:  "wallex",
		BuyPrice:      50000,
		SellPrice:     50250,
		BuyVolume:     2,
		SellVolume:    1,
		TradeVolume:   1,
		ProfitPercent: 0.5,
		FirstSeen:     1724500000,
		LastSeen:      1724500060,
		SeenCount:     3,
	}
	body, err := json.Marshal(opp)
	require.NoError(t, err)
	key := "opportunity:" + opp.ID

	mock.ExpectSet(key, body, 300*time.Second).SetVal("OK")
	mock.ExpectZAdd("opportunities:latest", redis.Z{Score: opp.LastSeen, Member: key}).SetVal(1)
	mock.ExpectZRemRangeByRank("opportunities:latest", 0, -501).SetVal(0)

	m.writeOpportunity(context.Background(), opp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	m, mock := newTestMirror(t)
	q := quote()

	want, err := msgpack.Marshal(PriceRecord{
		Exchange:  "bingx",
		Symbol:    "BTCUSDT",
		BidPrice:  50000,
		BidVolume: 1.5,
		AskPrice:  50001,
		AskVolume: 0.5,
		Timestamp: 1724500000.25,
	})
	require.NoError(t, err)

	for i := 0; i < breakerTrip; i++ {
		mock.ExpectSet("prices:bingx:BTCUSDT", want, 0).SetErr(errors.New("connection refused"))
		m.writePrice(context.Background(), q)
	}
	assert.Equal(t, gobreaker.StateOpen, m.breaker.State())

	// The open breaker short-circuits; no further command reaches redis.
	m.writePrice(context.Background(), q)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsParsesInfoAndCounts(t *testing.T) {
	m, mock := newTestMirror(t)

	raw := "# Server\r\n" +
		"uptime_in_seconds:3600\r\n" +
		"connected_clients:2\r\n" +
		"used_memory_human:1.05M\r\n" +
		"instantaneous_ops_per_sec:42\r\n" +
		"keyspace_hits:100\r\n" +
		"keyspace_misses:5\r\n"
	mock.ExpectInfo().SetVal(raw)
	mock.ExpectKeys("prices:*").SetVal([]string{"prices:bingx:BTCUSDT", "prices:wallex:USDTTMN"})
	mock.ExpectZCard("opportunities:latest").SetVal(7)

	got, err := m.Stats(context.Background())
	require.NoError(t, err)
	st, ok := got.(Stats)
	require.True(t, ok)

	assert.Equal(t, "1.05M", st.MemoryUsed)
	assert.EqualValues(t, 2, st.ConnectedClients)
	assert.EqualValues(t, 42, st.OperationsPerSec)
	assert.EqualValues(t, 100, st.KeyspaceHits)
	assert.EqualValues(t, 5, st.KeyspaceMisses)
	assert.EqualValues(t, 3600, st.UptimeSeconds)
	assert.Equal(t, 2, st.PricesCount)
	assert.EqualValues(t, 7, st.OpportunitiesCount)
}

func TestSweepTrimsAgedRecords(t *testing.T) {
	m, mock := newTestMirror(t)
	now := orderbook.Now()

	oldRec, err := msgpack.Marshal(PriceRecord{Exchange: "bingx", Symbol: "BTCUSDT", Timestamp: now - 7200})
	require.NoError(t, err)
	freshRec, err := msgpack.Marshal(PriceRecord{Exchange: "wallex", Symbol: "USDTTMN", Timestamp: now})
	require.NoError(t, err)

	mock.Regexp().ExpectZRemRangeByScore("opportunities:latest", "^0$", `^\d+(\.\d+)?$`).SetVal(3)
	mock.ExpectKeys("prices:*").SetVal([]string{
		"prices:bingx:BTCUSDT", "prices:bad:key", "prices:wallex:USDTTMN",
	})
	mock.ExpectGet("prices:bingx:BTCUSDT").SetVal(string(oldRec))
	mock.ExpectGet("prices:bad:key").SetVal("not msgpack")
	mock.ExpectGet("prices:wallex:USDTTMN").SetVal(string(freshRec))
	mock.ExpectDel("prices:bingx:BTCUSDT", "prices:bad:key").SetVal(2)

	m.sweep(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}
