// Package hub fans pipeline events out to dashboard websockets and
// serves the JSON snapshot API next to them.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arbitrage.watch/arbitrage"
	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

const (
	// batchFlush and batchMax bound how long and how many newly found
	// opportunities ride one opportunities_update frame.
	batchFlush = 100 * time.Millisecond
	batchMax   = 64

	statsInterval = 30 * time.Second

	defaultQueueSize   = 1024
	defaultMaxSessions = 1000
)

var ErrSessionLimit = errors.New("hub: session limit reached")

// StatsSource supplies the redis_stats payload. The mirror implements
// it; LocalStats stands in when no mirror is configured.
type StatsSource interface {
	Stats(ctx context.Context) (any, error)
}

type Options struct {
	// QueueSize bounds each session's event queue.
	QueueSize int
	// MaxSessions caps concurrent dashboard connections.
	MaxSessions int
	// Stats feeds the periodic redis_stats broadcast and /api/stats/.
	Stats StatsSource
}

// Hub owns the dashboard sessions. It subscribes to the store and the
// opportunity cache and pushes wire frames at every session; sessions
// absorb their own backpressure so one slow client never stalls the
// fan-out.
type Hub struct {
	store *orderbook.Store
	cache *arbitrage.Cache
	reg   *markets.Registry
	log   zerolog.Logger

	queueSize   int
	maxSessions int
	stats       StatsSource

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

func New(store *orderbook.Store, cache *arbitrage.Cache, reg *markets.Registry, log zerolog.Logger, opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	return &Hub{
		store:       store,
		cache:       cache,
		reg:         reg,
		log:         log.With().Str("component", "hub").Logger(),
		queueSize:   opts.QueueSize,
		maxSessions: opts.MaxSessions,
		stats:       opts.Stats,
		sessions:    make(map[*session]struct{}),
	}
}

// Run drives the fan-out pumps until ctx ends, then closes every
// session with a going-away frame.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.store.Subscribe("hub", 1024)
	defer sub.Close()
	updates := h.cache.Subscribe(256)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); h.pumpPrices(ctx, sub.Events()) }()
	go func() { defer wg.Done(); h.pumpOpportunities(ctx, updates) }()
	go func() { defer wg.Done(); h.pumpBest(ctx) }()
	go func() { defer wg.Done(); h.pumpStats(ctx) }()
	wg.Wait()

	h.closeAll()
	return ctx.Err()
}

func (h *Hub) pumpPrices(ctx context.Context, events <-chan orderbook.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(TypePriceUpdate, h.quote(ev.New), false)
		}
	}
}

func (h *Hub) pumpOpportunities(ctx context.Context, updates <-chan arbitrage.Update) {
	flush := time.NewTicker(batchFlush)
	defer flush.Stop()

	batch := make([]Opportunity, 0, batchMax)
	send := func() {
		if len(batch) == 0 {
			return
		}
		h.broadcast(TypeOpportunitiesUpdate, batch, false)
		batch = make([]Opportunity, 0, batchMax)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			// Refreshes only bump last_seen; the dashboard keys on
			// new entries.
			if !u.New {
				continue
			}
			batch = append(batch, h.opportunity(u.Opportunity))
			if len(batch) >= batchMax {
				send()
			}
		case <-flush.C:
			send()
		}
	}
}

func (h *Hub) pumpBest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case best := <-h.cache.BestUpdates():
			var payload *Opportunity
			if best != nil {
				w := h.opportunity(*best)
				payload = &w
			}
			h.broadcast(TypeBestOpportunity, payload, true)
		}
	}
}

func (h *Hub) pumpStats(ctx context.Context) {
	if h.stats == nil {
		return
	}
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := h.stats.Stats(ctx)
			if err != nil {
				h.log.Warn().Err(err).Msg("stats source failed")
				continue
			}
			h.broadcast(TypeRedisStats, payload, false)
		}
	}
}

// PublishStatus forwards a collector state change to every session.
// Collectors call it synchronously, so it must never block.
func (h *Hub) PublishStatus(st common.Status) {
	payload := status{Exchange: st.Exchange, Status: st.State.String()}
	if st.State == common.StateStreaming {
		payload.ConnectedAt = st.At
	}
	h.broadcast(TypeExchangeStatus, payload, false)
}

func (h *Hub) broadcast(typ string, payload any, best bool) {
	env, err := newEnvelope(typ, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("broadcast encode failed")
		return
	}
	h.mu.RLock()
	for s := range h.sessions {
		s.push(env, best)
	}
	h.mu.RUnlock()
}

// attach snapshots the store and cache into a new session's queue and
// registers it for live events. Holding the hub lock across both steps
// keeps broadcasts from interleaving with the snapshot.
func (h *Hub) attach(conn *websocket.Conn) (*session, error) {
	sid := uuid.NewString()[:8]
	s := newSession(h, conn, h.log.With().Str("session", sid).Logger())

	h.mu.Lock()
	if len(h.sessions) >= h.maxSessions {
		h.mu.Unlock()
		return nil, ErrSessionLimit
	}

	prices := h.quotes(h.store.Snapshot())
	opps := h.opportunities(h.cache.Snapshot())
	var best *Opportunity
	if b := h.cache.Best(); b != nil {
		w := h.opportunity(*b)
		best = &w
	}
	handoff := []struct {
		typ     string
		payload any
	}{
		{TypeInitialPrices, prices},
		{TypeInitialOpportunities, opps},
		{TypeBestOpportunity, best},
	}
	for _, e := range handoff {
		env, err := newEnvelope(e.typ, e.payload)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		s.push(env, false)
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.log.Info().Int("prices", len(prices)).Int("opportunities", len(opps)).Msg("session attached")

	go s.writePump()
	go s.readPump()
	return s, nil
}

func (h *Hub) detach(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		metrics.SessionsActive.Dec()
		s.log.Info().Msg("session detached")
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	open := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()
	for _, s := range open {
		s.shutdown()
	}
}

// SessionCount reports connected dashboard sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// LocalStats serves in-process counters when no redis mirror is wired.
type LocalStats struct {
	store *orderbook.Store
	cache *arbitrage.Cache
	start time.Time
}

func NewLocalStats(store *orderbook.Store, cache *arbitrage.Cache) *LocalStats {
	return &LocalStats{store: store, cache: cache, start: time.Now()}
}

func (l *LocalStats) Stats(context.Context) (any, error) {
	return map[string]any{
		"prices_count":        l.store.Len(),
		"opportunities_count": l.cache.Len(),
		"uptime_seconds":      int(time.Since(l.start).Seconds()),
	}, nil
}
