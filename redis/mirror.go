// Package redis mirrors pipeline state into a redis instance for
// external consumers and reports usage statistics back to the hub.
// The mirror sits off the detection path: writes are fire-and-forget
// behind a circuit breaker, so a dead redis costs nothing but the
// mirror itself.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/vmihailenco/msgpack/v5"

	"arbitrage.watch/arbitrage"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

const (
	opTimeout = 3 * time.Second

	priceKeyPrefix = "prices:"
	oppKeyPrefix   = "opportunity:"
	latestZSet     = "opportunities:latest"

	// oppTTL and latestCap bound how much history the mirror retains.
	oppTTL    = 300 * time.Second
	latestCap = 500

	cleanupInterval = 5 * time.Minute
	priceMaxAge     = time.Hour
	latestMaxAge    = 10 * time.Minute

	breakerTrip    = 5
	breakerTimeout = 30 * time.Second
)

// PriceRecord is the msgpack layout of one mirrored quote.
type PriceRecord struct {
	Exchange  string  `msgpack:"exchange"`
	Symbol    string  `msgpack:"symbol"`
	BidPrice  float64 `msgpack:"bid_price"`
	BidVolume float64 `msgpack:"bid_volume"`
	AskPrice  float64 `msgpack:"ask_price"`
	AskVolume float64 `msgpack:"ask_volume"`
	Timestamp float64 `msgpack:"timestamp"`
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Mirror consumes store and cache events and writes them through to
// redis.
type Mirror struct {
	client  *redis.Client
	store   *orderbook.Store
	cache   *arbitrage.Cache
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker
}

func NewMirror(opts Options, store *orderbook.Store, cache *arbitrage.Cache, log zerolog.Logger) *Mirror {
	m := &Mirror{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		store: store,
		cache: cache,
		log:   log.With().Str("component", "mirror").Logger(),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-mirror",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			m.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("mirror breaker state")
		},
	})
	return m
}

// Ping verifies connectivity once. Callers treat failure as a warning;
// the mirror keeps retrying through the breaker afterwards.
func (m *Mirror) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return m.client.Ping(opCtx).Err()
}

// Run writes store and cache events through until ctx ends and sweeps
// aged records on a slow cadence.
func (m *Mirror) Run(ctx context.Context) error {
	sub := m.store.Subscribe("mirror", 1024)
	defer sub.Close()
	updates := m.cache.Subscribe(256)

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.client.Close()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			m.writePrice(ctx, ev.New)
		case u := <-updates:
			m.writeOpportunity(ctx, u.Opportunity)
		case <-cleanup.C:
			m.sweep(ctx)
		}
	}
}

func (m *Mirror) writePrice(ctx context.Context, q orderbook.Quote) {
	rec := PriceRecord{
		Exchange:  q.Exchange,
		Symbol:    q.Pair.Compact(),
		BidPrice:  q.BidPrice,
		BidVolume: q.BidVolume,
		AskPrice:  q.AskPrice,
		AskVolume: q.AskVolume,
		Timestamp: q.Timestamp,
	}
	body, err := msgpack.Marshal(rec)
	if err != nil {
		m.log.Error().Err(err).Msg("price encode failed")
		return
	}
	key := priceKeyPrefix + q.Exchange + ":" + q.Pair.Compact()
	m.execute(ctx, "price", func(opCtx context.Context) error {
		return m.client.Set(opCtx, key, body, 0).Err()
	})
}

// writeOpportunity stores the full record under a TTL and indexes it
// in the recency zset, trimmed to the newest entries.
func (m *Mirror) writeOpportunity(ctx context.Context, opp arbitrage.Opportunity) {
	body, err := json.Marshal(opp)
	if err != nil {
		m.log.Error().Err(err).Msg("opportunity encode failed")
		return
	}
	key := oppKeyPrefix + opp.ID
	m.execute(ctx, "opportunity", func(opCtx context.Context) error {
		pipe := m.client.Pipeline()
		pipe.Set(opCtx, key, body, oppTTL)
		pipe.ZAdd(opCtx, latestZSet, redis.Z{Score: opp.LastSeen, Member: key})
		pipe.ZRemRangeByRank(opCtx, latestZSet, 0, -(latestCap + 1))
		_, err := pipe.Exec(opCtx)
		return err
	})
}

// sweep ages out mirrored records: zset entries past their window,
// prices that stopped updating, and records that no longer decode.
func (m *Mirror) sweep(ctx context.Context) {
	now := orderbook.Now()

	m.execute(ctx, "sweep_latest", func(opCtx context.Context) error {
		cutoff := strconv.FormatFloat(now-latestMaxAge.Seconds(), 'f', -1, 64)
		return m.client.ZRemRangeByScore(opCtx, latestZSet, "0", cutoff).Err()
	})

	m.execute(ctx, "sweep_prices", func(opCtx context.Context) error {
		keys, err := m.client.Keys(opCtx, priceKeyPrefix+"*").Result()
		if err != nil {
			return err
		}
		var drop []string
		for _, key := range keys {
			body, err := m.client.Get(opCtx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return err
			}
			var rec PriceRecord
			if err := msgpack.Unmarshal(body, &rec); err != nil {
				drop = append(drop, key)
				continue
			}
			if now-rec.Timestamp > priceMaxAge.Seconds() {
				drop = append(drop, key)
			}
		}
		if len(drop) == 0 {
			return nil
		}
		m.log.Debug().Int("keys", len(drop)).Msg("sweeping aged price records")
		return m.client.Del(opCtx, drop...).Err()
	})
}

// execute runs one write behind the breaker with a bounded deadline.
func (m *Mirror) execute(ctx context.Context, op string, fn func(context.Context) error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, fn(opCtx)
	})
	if err != nil {
		metrics.MirrorErrors.Inc()
		m.log.Debug().Err(err).Str("op", op).Msg("mirror write failed")
	}
}
