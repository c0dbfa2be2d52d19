// Package arbitrage turns top-of-book quotes into cross-exchange
// opportunities and retains them while they remain observable.
package arbitrage

import (
	"math"
	"strconv"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/orderbook"
)

// Opportunity is one executable direction: lift the ask on the buy
// venue, hit the bid on the sell venue.
type Opportunity struct {
	ID            string       `json:"id"`
	Pair          markets.Pair `json:"pair"`
	BuyExchange   string       `json:"buy_exchange"`
	SellExchange  string       `json:"sell_exchange"`
	BuyPrice      float64      `json:"buy_price"`
	SellPrice     float64      `json:"sell_price"`
	BuyVolume     float64      `json:"buy_volume"`
	SellVolume    float64      `json:"sell_volume"`
	TradeVolume   float64      `json:"trade_volume"`
	ProfitPercent float64      `json:"profit_percentage"`
	FirstSeen     float64      `json:"first_seen"`
	LastSeen      float64      `json:"last_seen"`
	SeenCount     int64        `json:"seen_count"`
}

// Fingerprint identifies one price/volume configuration. A repeat
// detection of the same configuration refreshes the cached entry
// instead of duplicating it.
func (o *Opportunity) Fingerprint() string {
	buf := make([]byte, 0, 96)
	buf = append(buf, o.BuyExchange...)
	buf = append(buf, '|')
	buf = append(buf, o.SellExchange...)
	buf = append(buf, '|')
	buf = append(buf, string(o.Pair)...)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, o.BuyPrice, 'f', 10, 64)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, o.SellPrice, 'f', 10, 64)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, o.BuyVolume, 'f', 8, 64)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, o.SellVolume, 'f', 8, 64)
	return string(buf)
}

// Evaluate tests the buy-here-sell-there direction between two venues'
// quotes of the same pair. False means the direction does not clear the
// spread, the profit threshold or the market's volume bounds.
//
// The market's own min_profit overrides the global threshold when set.
func Evaluate(buy, sell orderbook.Quote, meta markets.Metadata, globalMin float64) (Opportunity, bool) {
	if buy.AskPrice <= 0 || sell.BidPrice <= 0 {
		return Opportunity{}, false
	}
	if !common.GreaterThan(sell.BidPrice, buy.AskPrice) {
		return Opportunity{}, false
	}

	tradeVolume := math.Min(buy.AskVolume, sell.BidVolume)
	if meta.MaxVolume > 0 && tradeVolume > meta.MaxVolume {
		tradeVolume = meta.MaxVolume
	}
	if !common.IsPositive(tradeVolume) {
		return Opportunity{}, false
	}
	if meta.MinVolume > 0 && common.LessThan(tradeVolume, meta.MinVolume) {
		return Opportunity{}, false
	}

	profit := (sell.BidPrice - buy.AskPrice) / buy.AskPrice * 100
	threshold := globalMin
	if meta.MinProfit > 0 {
		threshold = meta.MinProfit
	}
	if !common.GreaterThanOrEqual(profit, threshold) {
		return Opportunity{}, false
	}

	return Opportunity{
		Pair:          buy.Pair,
		BuyExchange:   buy.Exchange,
		SellExchange:  sell.Exchange,
		BuyPrice:      buy.AskPrice,
		SellPrice:     sell.BidPrice,
		BuyVolume:     buy.AskVolume,
		SellVolume:    sell.BidVolume,
		TradeVolume:   tradeVolume,
		ProfitPercent: profit,
	}, true
}
