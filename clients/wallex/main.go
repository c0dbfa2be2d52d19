// Package wallex streams order depth from the Wallex websocket, a
// Socket.IO endpoint that publishes each book side on its own channel.
// The collector subscribes both sides per market and recombines them
// before quoting.
package wallex

import (
	"context"
	"fmt"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
)

const (
	DefaultURL = "wss://api.wallex.ir/ws/?EIO=4&transport=websocket"

	buySide  = "buyDepth"
	sellSide = "sellDepth"
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
		return nil, fmt.Errorf("wallex: no markets mapped for %q", base.Exchange)
	}
	return &Collector{Base: base, opts: opts, listings: listings}, nil
}

func (c *Collector) Run(ctx context.Context) error {
	return c.RunLoop(ctx, c.session)
}
