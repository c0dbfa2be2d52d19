package hub

import (
	"encoding/json"

	"arbitrage.watch/arbitrage"
	"arbitrage.watch/orderbook"
)

// Frame types consumed by the dashboard.
const (
	TypeInitialPrices        = "initial_prices"
	TypePriceUpdate          = "price_update"
	TypeInitialOpportunities = "initial_opportunities"
	TypeOpportunitiesUpdate  = "opportunities_update"
	TypeBestOpportunity      = "best_opportunity_update"
	TypeRedisStats           = "redis_stats"
	TypeExchangeStatus       = "exchange_status"
)

// Envelope is one outbound frame. Stale is set once the session has
// shed events; the client's view may have holes until it reconnects
// for a fresh snapshot.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Stale bool            `json:"stale,omitempty"`
}

func newEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}

// Quote is the wire form of a stored quote. Display metadata is
// stamped here so the dashboard never joins symbols itself.
type Quote struct {
	Exchange      string  `json:"exchange"`
	Symbol        string  `json:"symbol"`
	DisplaySymbol string  `json:"display_symbol"`
	BaseCurrency  string  `json:"base_currency"`
	CurrencyName  string  `json:"currency_name"`
	BidPrice      float64 `json:"bid_price"`
	AskPrice      float64 `json:"ask_price"`
	BidVolume     float64 `json:"bid_volume"`
	AskVolume     float64 `json:"ask_volume"`
	Timestamp     float64 `json:"timestamp"`
}

// Opportunity is the wire form of a cache entry plus the display
// symbol.
type Opportunity struct {
	arbitrage.Opportunity
	Symbol string `json:"symbol"`
}

// status is the exchange_status payload.
type status struct {
	Exchange    string  `json:"exchange"`
	Status      string  `json:"status"`
	ConnectedAt float64 `json:"connected_at,omitempty"`
}

func (h *Hub) quote(q orderbook.Quote) Quote {
	w := Quote{
		Exchange:  q.Exchange,
		Symbol:    q.Pair.Compact(),
		BidPrice:  q.BidPrice,
		AskPrice:  q.AskPrice,
		BidVolume: q.BidVolume,
		AskVolume: q.AskVolume,
		Timestamp: q.Timestamp,
	}
	if m, ok := h.reg.Describe(q.Pair); ok {
		w.DisplaySymbol = m.DisplayName
		w.BaseCurrency = m.Base
		w.CurrencyName = m.CurrencyName
	} else {
		w.DisplaySymbol = string(q.Pair)
		w.BaseCurrency = q.Pair.Base()
	}
	return w
}

func (h *Hub) quotes(qs []orderbook.Quote) []Quote {
	out := make([]Quote, 0, len(qs))
	for _, q := range qs {
		out = append(out, h.quote(q))
	}
	return out
}

func (h *Hub) opportunity(o arbitrage.Opportunity) Opportunity {
	w := Opportunity{Opportunity: o, Symbol: string(o.Pair)}
	if m, ok := h.reg.Describe(o.Pair); ok {
		w.Symbol = m.DisplayName
	}
	return w
}

func (h *Hub) opportunities(os []arbitrage.Opportunity) []Opportunity {
	out := make([]Opportunity, 0, len(os))
	for _, o := range os {
		out = append(out, h.opportunity(o))
	}
	return out
}
