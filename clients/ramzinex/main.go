// Package ramzinex streams orderbooks from the Ramzinex Centrifugo
// endpoint. Channels are keyed by numeric pair id, publications are
// level diffs recovered by offset, and the heartbeat is a bare `{}`.
package ramzinex

import (
	"context"
	"fmt"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
)

const (
	DefaultURL = "wss://websocket.ramzinex.com/websocket"

	channelPrefix = "orderbook:"
	deltaFossil   = "fossil"

	// pingGrace pads the server-announced ping interval before the read
	// deadline gives up on a silent socket.
	pingGrace = 10
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
		return nil, fmt.Errorf("ramzinex: no markets mapped for %q", base.Exchange)
	}
	return &Collector{Base: base, opts: opts, listings: listings}, nil
}

func (c *Collector) Run(ctx context.Context) error {
	return c.RunLoop(ctx, c.session)
}
