// Package lbank streams full depth snapshots from the LBank websocket.
// The venue replays the whole book on every update, so the top level is
// read straight off index zero with no local reconstruction.
package lbank

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
)

const (
	DefaultURL = "wss://www.lbkex.net/ws/V2/"

	depthLevels = "100"

	// The venue goes quiet on thin markets; its own docs allow two
	// minutes of silence before a connection should be presumed dead.
	readTimeout = 120 * time.Second
)

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
		return nil, fmt.Errorf("lbank: no markets mapped for %q", base.Exchange)
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
	for _, l := range c.listings {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(common.AckTimeout))
		req := subscribeRequest{Action: "subscribe", Subscribe: "depth", Depth: depthLevels, Pair: l.Native}
		if err := conn.WriteJSON(req); err != nil {
			metrics.TransportErrors.WithLabelValues(c.Exchange).Inc()
			return fmt.Errorf("lbank: subscribe %s: %w", l.Native, err)
		}
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

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			metrics.DecodeErrors.WithLabelValues(c.Exchange).Inc()
			c.Log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}

		switch {
		case msg.Action == "ping":
			conn.SetWriteDeadline(time.Now().Add(common.HeartbeatTimeout))
			if err := conn.WriteJSON(pongReply{Action: "pong", Pong: msg.Ping}); err != nil {
				metrics.TransportErrors.WithLabelValues(c.Exchange).Inc()
				return err
			}
		case msg.Type == "depth" && msg.Depth != nil:
			pair, err := c.Registry.Canonicalize(c.Exchange, msg.Pair)
			if err != nil {
				metrics.UnknownSymbols.WithLabelValues(c.Exchange).Inc()
				c.Log.Debug().Str("symbol", msg.Pair).Msg("unknown symbol")
				continue
			}
			if len(msg.Depth.Bids) == 0 || len(msg.Depth.Asks) == 0 {
				continue
			}
			if !live {
				live = true
				c.SetState(common.StateStreaming)
			}
			bid, ask := msg.Depth.Bids[0], msg.Depth.Asks[0]
			c.EmitQuote(pair, bid.Price, bid.Volume, ask.Price, ask.Volume, c.NextSeq(pair))
		case msg.Action == "pong":
			// Reply to a ping this collector never sends; ignore.
		default:
			metrics.ProtocolErrors.WithLabelValues(c.Exchange).Inc()
			c.Log.Warn().Str("detail", string(raw)).Msg("protocol error")
			if protoErrs.Hit() {
				return fmt.Errorf("lbank: protocol error rate exceeded")
			}
		}
	}
}
