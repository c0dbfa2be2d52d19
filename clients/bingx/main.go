// Package bingx streams top-of-book quotes from the BingX swap-market
// websocket. One logical collector fans out over several physical
// sockets because the venue caps subscriptions at 200 topics per
// connection; the sockets share fate, so losing any of them cycles the
// whole venue through one reconnect.
package bingx

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/metrics"
)

const (
	DefaultURL = "wss://open-api-swap.bingx.com/swap-market"

	maxTopicsPerSocket = 200
	maxSocketsPerIP    = 60
)

// Options tune the collector beyond its wired defaults.
type Options struct {
	URL    string
	APIKey string
	// IncrementalDepth subscribes incrDepth and rebuilds full books
	// instead of consuming the pre-digested bookTicker channel.
	IncrementalDepth bool
	// MaxSockets caps how many connections the collector may open.
	// Values above the venue's per-IP limit are clamped.
	MaxSockets int
}

type Collector struct {
	*common.Base

	opts   Options
	shards [][]shardTopic
	ready  atomic.Int32
}

type shardTopic struct {
	native string
	topic  string
}

func New(base *common.Base, opts Options) (*Collector, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	maxSockets := maxSocketsPerIP
	if opts.MaxSockets > 0 && opts.MaxSockets < maxSockets {
		maxSockets = opts.MaxSockets
	}

	listings := base.Registry.ForExchange(base.Exchange)
	if len(listings) == 0 {
		return nil, fmt.Errorf("bingx: no markets mapped for %q", base.Exchange)
	}

	channel := "bookTicker"
	if opts.IncrementalDepth {
		channel = "incrDepth"
	}
	groups := shardListings(listings, maxTopicsPerSocket)
	if len(groups) > maxSockets {
		return nil, fmt.Errorf("bingx: %d listings need %d sockets, cap is %d", len(listings), len(groups), maxSockets)
	}

	c := &Collector{Base: base, opts: opts}
	for _, group := range groups {
		shard := make([]shardTopic, len(group))
		for i, l := range group {
			shard[i] = shardTopic{native: l.Native, topic: l.Native + "@" + channel}
		}
		c.shards = append(c.shards, shard)
	}
	return c, nil
}

func (c *Collector) Run(ctx context.Context) error {
	return c.RunLoop(ctx, c.session)
}

func (c *Collector) header() http.Header {
	if c.opts.APIKey == "" {
		return nil
	}
	h := http.Header{}
	h.Set("X-BX-APIKEY", c.opts.APIKey)
	return h
}

// session dials every shard socket, subscribes each one and streams
// until the first failure or ctx cancellation.
func (c *Collector) session(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conns := make([]*websocket.Conn, 0, len(c.shards))
	defer func() {
		for _, conn := range conns {
			conn.Close()
		}
	}()
	for range c.shards {
		conn, err := common.Dial(sctx, c.opts.URL, c.header())
		if err != nil {
			metrics.TransportErrors.WithLabelValues(c.Exchange).Inc()
			return err
		}
		conns = append(conns, conn)
	}
	c.SetState(common.StateHandshaking)

	c.SetState(common.StateSubscribing)
	c.ready.Store(0)
	sessions := make([]*shardSession, len(conns))
	for i, conn := range conns {
		sessions[i] = newShardSession(c, conn, c.shards[i])
		if err := sessions[i].subscribe(sctx); err != nil {
			return err
		}
	}

	errs := make(chan error, len(sessions))
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *shardSession) {
			defer wg.Done()
			errs <- s.readLoop(sctx)
		}(s)
	}

	var err error
	select {
	case err = <-errs:
	case <-sctx.Done():
		err = sctx.Err()
	}
	cancel()
	for _, conn := range conns {
		conn.Close()
	}
	wg.Wait()
	return err
}

// shardStreaming flips the collector to STREAMING once every shard has
// either acked all its topics or delivered data.
func (c *Collector) shardStreaming() {
	if int(c.ready.Add(1)) >= len(c.shards) {
		c.SetState(common.StateStreaming)
	}
}
