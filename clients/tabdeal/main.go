// Package tabdeal streams depth from the Tabdeal websocket. Frames
// follow the Binance stream envelope; the venue never pings, so a
// silence window stands in for a heartbeat.
package tabdeal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
)

const (
	DefaultURL = "wss://api1.tabdeal.org/stream/"

	depthSuffix = "@depth@2000ms"

	// Data cadence is 2 s per subscribed stream; a minute of silence
	// means the feed is gone even if TCP disagrees.
	readTimeout = 60 * time.Second
)

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type streamEnvelope struct {
	Stream string          `json:"stream,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	ID     int             `json:"id,omitempty"`
}

type depthUpdate struct {
	Event string              `json:"e"`
	Bids  []common.PriceLevel `json:"b"`
	Asks  []common.PriceLevel `json:"a"`
}

type Options struct {
	URL string
}

type Collector struct {
	*common.Base

	opts     Options
	listings []markets.Listing
}

func New(base *common.Base, opts Options) (*Collector, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	listings := base.Registry.ForExchange(base.Exchange)
	if len(listings) == 0 {
		return nil, fmt.Errorf("tabdeal: no markets mapped for %q", base.Exchange)
	}
	return &Collector{Base: base, opts: opts, listings: listings}, nil
}

func (c *Collector) Run(ctx context.Context) error {
	return c.RunLoop(ctx, c.session)
}

func (c *Collector) session(ctx context.Context) error {
	conn, err := common.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		metrics.TransportErrors.WithLabelValues(c.Exchange).Inc()
		return err
	}
	defer conn.Close()
	stop := common.CloseOnDone(ctx, conn)
	defer stop()
	c.SetState(common.StateHandshaking)

	c.SetState(common.StateSubscribing)
	params := make([]string, len(c.listings))
	for i, l := range c.listings {
		params[i] = l.Native + depthSuffix
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(common.AckTimeout))
	if err := conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}); err != nil {
		metrics.TransportErrors.WithLabelValues(c.Exchange).Inc()
		return fmt.Errorf("tabdeal: subscribe: %w", err)
	}

	protoErrs := common.NewRateTracker(5, time.Minute)
	live := false
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.TransportErrors.WithLabelValues(c.Exchange).Inc()
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			metrics.DecodeErrors.WithLabelValues(c.Exchange).Inc()
			c.Log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}

		// Subscribe ack: {"result":null,"id":1}.
		if env.Stream == "" {
			continue
		}

		native, _, _ := strings.Cut(env.Stream, "@")
		pair, err := c.Registry.Canonicalize(c.Exchange, native)
		if err != nil {
			metrics.UnknownSymbols.WithLabelValues(c.Exchange).Inc()
			c.Log.Debug().Str("symbol", native).Msg("unknown symbol")
			continue
		}

		var d depthUpdate
		if err := json.Unmarshal(env.Data, &d); err != nil {
			metrics.DecodeErrors.WithLabelValues(c.Exchange).Inc()
			c.Log.Debug().Err(err).Str("stream", env.Stream).Msg("dropping undecodable depth")
			continue
		}
		if d.Event != "depthUpdate" {
			metrics.ProtocolErrors.WithLabelValues(c.Exchange).Inc()
			c.Log.Warn().Str("event", d.Event).Str("stream", env.Stream).Msg("protocol error")
			if protoErrs.Hit() {
				return fmt.Errorf("tabdeal: protocol error rate exceeded")
			}
			continue
		}
		if len(d.Bids) == 0 || len(d.Asks) == 0 {
			continue
		}

		if !live {
			live = true
			c.SetState(common.StateStreaming)
		}
		bid, ask := d.Bids[0], d.Asks[0]
		c.EmitQuote(pair, bid.Price, bid.Volume, ask.Price, ask.Volume, c.NextSeq(pair))
	}
}
