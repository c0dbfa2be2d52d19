// Package orderbook holds the shared top-of-book store and the per-venue
// depth books collectors use to reconstruct incremental feeds.
package orderbook

import (
	"errors"
	"fmt"
	"time"

	"arbitrage.watch/markets"
)

var ErrStaleQuote = errors.New("orderbook: stale quote")

// Quote is the top-of-book snapshot for one (exchange, pair).
type Quote struct {
	Exchange  string
	Pair      markets.Pair
	BidPrice  float64
	BidVolume float64
	AskPrice  float64
	AskVolume float64
	Timestamp float64
	Sequence  uint64
}

// Key identifies the store slot a quote occupies.
type Key struct {
	Exchange string
	Pair     markets.Pair
}

func (q Quote) Key() Key { return Key{Exchange: q.Exchange, Pair: q.Pair} }

func (q Quote) Validate() error {
	if q.Exchange == "" || q.Pair == "" {
		return fmt.Errorf("orderbook: quote missing exchange or pair")
	}
	if q.BidPrice < 0 || q.BidVolume < 0 || q.AskPrice < 0 || q.AskVolume < 0 {
		return fmt.Errorf("orderbook: %s %s has negative fields", q.Exchange, q.Pair)
	}
	if q.BidPrice > 0 && q.AskPrice > 0 && q.AskPrice < q.BidPrice {
		return fmt.Errorf("orderbook: %s %s is crossed: bid %g > ask %g",
			q.Exchange, q.Pair, q.BidPrice, q.AskPrice)
	}
	return nil
}

// Event is one accepted store replacement. Prev is nil for the first
// quote of a key.
type Event struct {
	New  Quote
	Prev *Quote
}

// Now is the quote timestamp format: unix seconds, fractional.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
