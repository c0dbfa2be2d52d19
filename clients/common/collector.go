// Package common carries the pieces every venue collector shares: the
// state machine, the reconnect loop with jittered backoff, the dial and
// parse helpers, and the quote emission path into the store.
package common

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

// Collector is one venue feed. Run blocks until ctx is canceled,
// reconnecting internally on every failure.
type Collector interface {
	Name() string
	Run(ctx context.Context) error
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateSubscribing
	StateStreaming
	StateBackoff
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "reconnect_backoff"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Status is a state transition notification for the dashboard.
type Status struct {
	Exchange string
	State    State
	At       float64
}

type StatusFunc func(Status)

const (
	// DefaultReadTimeout is the socket idle limit unless the venue
	// overrides it.
	DefaultReadTimeout = 30 * time.Second
	// AckTimeout bounds the wait for subscription acknowledgements.
	AckTimeout = 10 * time.Second
	// HeartbeatTimeout bounds a heartbeat reply write. Venues close
	// sockets whose pings go unanswered.
	HeartbeatTimeout = 5 * time.Second
	// StableStreamingReset is how long a session must stream before the
	// reconnect backoff starts over.
	StableStreamingReset = 30 * time.Second
	// StaleGrace is the disconnect duration after which the exchange's
	// stored quotes are excluded from detection.
	StaleGrace = 30 * time.Second
)

// Base is embedded by every venue collector.
type Base struct {
	Exchange string
	Log      zerolog.Logger
	Store    *orderbook.Store
	Registry *markets.Registry
	OnStatus StatusFunc

	// Limiter paces subscription writes; venues throttle clients that
	// burst control messages.
	Limiter *rate.Limiter

	state          atomic.Int32
	streamingSince atomic.Int64
	downSince      atomic.Int64

	seqMu sync.Mutex
	seqs  map[markets.Pair]uint64
}

func NewBase(exchange string, store *orderbook.Store, reg *markets.Registry, log zerolog.Logger, onStatus StatusFunc) *Base {
	return &Base{
		Exchange: exchange,
		Log:      log.With().Str("exchange", exchange).Logger(),
		Store:    store,
		Registry: reg,
		OnStatus: onStatus,
		Limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		seqs:     make(map[markets.Pair]uint64),
	}
}

func (b *Base) Name() string { return b.Exchange }

func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) SetState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev == s {
		return
	}
	now := time.Now()
	if s == StateStreaming {
		b.streamingSince.Store(now.UnixNano())
		b.downSince.Store(0)
	} else if prev == StateStreaming {
		b.streamingSince.Store(0)
		b.downSince.Store(now.UnixNano())
	}
	metrics.CollectorState.WithLabelValues(b.Exchange).Set(float64(s))
	b.Log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("collector state")
	if b.OnStatus != nil {
		b.OnStatus(Status{Exchange: b.Exchange, State: s, At: orderbook.Now()})
	}
}

// StreamedFor reports how long the current session has been streaming.
func (b *Base) StreamedFor() time.Duration {
	since := b.streamingSince.Load()
	if since == 0 {
		return 0
	}
	return time.Since(time.Unix(0, since))
}

// DownFor reports how long the collector has been without a stream.
func (b *Base) DownFor() time.Duration {
	since := b.downSince.Load()
	if since == 0 {
		return 0
	}
	return time.Since(time.Unix(0, since))
}

// NextSeq hands out the per-pair sequence for venues whose feed carries
// no usable update id. One session goroutine per pair writes, but the
// map is shared across a venue's sockets.
func (b *Base) NextSeq(p markets.Pair) uint64 {
	b.seqMu.Lock()
	b.seqs[p]++
	n := b.seqs[p]
	b.seqMu.Unlock()
	return n
}

// EmitQuote validates, stamps and stores one top-of-book update.
// Sequence regressions are expected during reconnects and stay silent.
func (b *Base) EmitQuote(pair markets.Pair, bidPrice, bidVol, askPrice, askVol float64, seq uint64) {
	q := orderbook.Quote{
		Exchange:  b.Exchange,
		Pair:      pair,
		BidPrice:  bidPrice,
		BidVolume: bidVol,
		AskPrice:  askPrice,
		AskVolume: askVol,
		Timestamp: orderbook.Now(),
		Sequence:  seq,
	}
	err := b.Store.Put(q)
	if err == nil || errors.Is(err, orderbook.ErrStaleQuote) {
		return
	}
	metrics.ProtocolErrors.WithLabelValues(b.Exchange).Inc()
	b.Log.Warn().Err(err).Str("pair", string(pair)).Msg("quote rejected")
}

// SessionFunc runs one connection: dial, handshake, subscribe, stream.
// It returns when the connection is unusable or ctx ends.
type SessionFunc func(ctx context.Context) error

// RunLoop drives session through the reconnect state machine: backoff
// grows exponentially with jitter, resets after a stable stream, and a
// protracted outage marks the exchange stale in the store.
func (b *Base) RunLoop(ctx context.Context, session SessionFunc) error {
	bo := NewBackoff(time.Second, time.Minute)
	for {
		if ctx.Err() != nil {
			b.SetState(StateShutdown)
			return ctx.Err()
		}
		b.SetState(StateConnecting)
		metrics.Reconnects.WithLabelValues(b.Exchange).Inc()

		err := session(ctx)
		if ctx.Err() != nil {
			b.SetState(StateShutdown)
			return ctx.Err()
		}
		if b.StreamedFor() >= StableStreamingReset {
			bo.Reset()
		}

		b.SetState(StateBackoff)
		delay := bo.Next()
		b.Log.Warn().Err(err).Dur("retry_in", delay).Msg("session ended")

		select {
		case <-ctx.Done():
			b.SetState(StateShutdown)
			return ctx.Err()
		case <-time.After(delay):
		}

		if down := b.DownFor(); down >= StaleGrace {
			b.Store.MarkExchangeStale(b.Exchange)
			b.Log.Warn().Dur("down", down).Msg("marking exchange quotes stale")
		}
	}
}
