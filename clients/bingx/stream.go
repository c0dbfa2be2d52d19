package bingx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

// shardSession owns one socket. All reads and writes after subscribe
// happen on the read goroutine, so no write lock is needed.
type shardSession struct {
	c    *Collector
	conn *websocket.Conn
	log  zerolog.Logger

	topics  []shardTopic
	pending map[string]string // subscription id -> topic
	ackBy   time.Time
	live    bool

	books     map[markets.Pair]*orderbook.Book
	protoErrs *common.RateTracker
}

func newShardSession(c *Collector, conn *websocket.Conn, topics []shardTopic) *shardSession {
	s := &shardSession{
		c:         c,
		conn:      conn,
		log:       c.Log,
		topics:    topics,
		pending:   make(map[string]string, len(topics)),
		protoErrs: common.NewRateTracker(5, time.Minute),
	}
	if c.opts.IncrementalDepth {
		s.books = make(map[markets.Pair]*orderbook.Book, len(topics))
	}
	return s
}

func (s *shardSession) subscribe(ctx context.Context) error {
	for _, t := range s.topics {
		if err := s.c.Limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.send(subscribeRequest{ID: uuid.NewString(), ReqType: "sub", DataType: t.topic}); err != nil {
			metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
			return fmt.Errorf("bingx: subscribe %s: %w", t.topic, err)
		}
	}
	s.ackBy = time.Now().Add(common.AckTimeout)
	return nil
}

func (s *shardSession) send(req subscribeRequest) error {
	s.conn.SetWriteDeadline(time.Now().Add(common.AckTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return err
	}
	s.pending[req.ID] = req.DataType
	return nil
}

func (s *shardSession) readLoop(ctx context.Context) error {
	stop := common.CloseOnDone(ctx, s.conn)
	defer stop()

	for {
		deadline := time.Now().Add(common.DefaultReadTimeout)
		if len(s.pending) > 0 && s.ackBy.Before(deadline) {
			deadline = s.ackBy
		}
		s.conn.SetReadDeadline(deadline)

		mt, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if len(s.pending) > 0 && time.Now().After(s.ackBy) {
				return fmt.Errorf("bingx: %d subscriptions unacked after %s", len(s.pending), common.AckTimeout)
			}
			metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
			return err
		}

		payload := raw
		if mt == websocket.BinaryMessage {
			payload, err = gunzip(raw)
			if err != nil {
				metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
				s.log.Debug().Err(err).Msg("dropping undecodable frame")
				continue
			}
		}

		// Heartbeat is a bare string, not JSON. Missing the reply
		// window gets the socket closed server side.
		if string(payload) == "Ping" {
			s.conn.SetWriteDeadline(time.Now().Add(common.HeartbeatTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte("Pong")); err != nil {
				metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
				return err
			}
			continue
		}

		if err := s.handleFrame(payload); err != nil {
			return err
		}
	}
}

func (s *shardSession) markLive() {
	if !s.live {
		s.live = true
		s.c.shardStreaming()
	}
}

// protocolErr counts malformed-but-parseable frames; more than five in
// a minute cycles the connection.
func (s *shardSession) protocolErr(msg string) error {
	metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
	s.log.Warn().Str("detail", msg).Msg("protocol error")
	if s.protoErrs.Hit() {
		return fmt.Errorf("bingx: protocol error rate exceeded: %s", msg)
	}
	return nil
}

func (s *shardSession) handleFrame(payload []byte) error {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
		s.log.Debug().Err(err).Msg("dropping undecodable frame")
		return nil
	}

	// Subscription ack: id echoes the request, no dataType attached.
	if f.ID != "" && f.Data == nil {
		topic, ok := s.pending[f.ID]
		if !ok {
			return s.protocolErr("ack for unknown subscription id " + f.ID)
		}
		delete(s.pending, f.ID)
		if f.Code != nil && *f.Code != 0 {
			metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
			return fmt.Errorf("bingx: subscribe %s rejected: code=%d msg=%q", topic, *f.Code, f.Msg)
		}
		if len(s.pending) == 0 {
			s.markLive()
		}
		return nil
	}

	native, channel := splitTopic(f.DataType)
	switch channel {
	case "bookTicker":
		return s.handleTicker(native, f.Data)
	case "incrDepth":
		return s.handleDepth(f.Data)
	case "":
		// Frames without a dataType and without an id are noise the
		// venue occasionally emits; drop them quietly.
		return nil
	default:
		return s.protocolErr("unexpected channel " + channel)
	}
}

func (s *shardSession) handleTicker(native string, data []byte) error {
	var t bookTicker
	if err := json.Unmarshal(data, &t); err != nil {
		metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
		s.log.Debug().Err(err).Str("symbol", native).Msg("dropping undecodable ticker")
		return nil
	}
	if t.Symbol != "" {
		native = t.Symbol
	}
	pair, err := s.c.Registry.Canonicalize(s.c.Exchange, native)
	if err != nil {
		metrics.UnknownSymbols.WithLabelValues(s.c.Exchange).Inc()
		s.log.Debug().Str("symbol", native).Msg("unknown symbol")
		return nil
	}
	s.markLive()
	s.c.EmitQuote(pair,
		t.BidPrice.Float64(), t.BidQty.Float64(),
		t.AskPrice.Float64(), t.AskQty.Float64(),
		s.c.NextSeq(pair))
	return nil
}

// handleDepth rebuilds a local book from the incrDepth stream. A
// snapshot arrives with action "all"; increments must chain off
// lastUpdateId and a gap forces a per-topic resubscribe.
func (s *shardSession) handleDepth(data []byte) error {
	var d depthUpdate
	if err := json.Unmarshal(data, &d); err != nil {
		metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
		s.log.Debug().Err(err).Msg("dropping undecodable depth frame")
		return nil
	}
	pair, err := s.c.Registry.Canonicalize(s.c.Exchange, d.Symbol)
	if err != nil {
		metrics.UnknownSymbols.WithLabelValues(s.c.Exchange).Inc()
		s.log.Debug().Str("symbol", d.Symbol).Msg("unknown symbol")
		return nil
	}
	s.markLive()

	book := s.books[pair]
	if book == nil {
		book = orderbook.NewBook()
		s.books[pair] = book
	}

	switch d.Action {
	case "all":
		book.LoadSnapshot(common.Levels(d.Bids), common.Levels(d.Asks), d.LastUpdateID)
	default:
		err := book.Apply(orderbook.Diff{ID: d.LastUpdateID, Bids: common.Levels(d.Bids), Asks: common.Levels(d.Asks)})
		switch {
		case errors.Is(err, orderbook.ErrSequenceGap):
			metrics.SequenceGaps.WithLabelValues(s.c.Exchange).Inc()
			s.log.Warn().Str("symbol", d.Symbol).Uint64("update_id", d.LastUpdateID).Msg("depth gap, resubscribing")
			book.Reset()
			if err := s.send(subscribeRequest{ID: uuid.NewString(), ReqType: "sub", DataType: d.Symbol + "@incrDepth"}); err != nil {
				metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
				return err
			}
			s.ackBy = time.Now().Add(common.AckTimeout)
			return nil
		case err != nil:
			// Diff before any snapshot.
			return s.protocolErr(err.Error())
		}
	}

	bid, haveBid := book.BestBid()
	ask, haveAsk := book.BestAsk()
	if !haveBid || !haveAsk {
		return nil
	}
	s.c.EmitQuote(pair, bid.Price, bid.Volume, ask.Price, ask.Volume, s.c.NextSeq(pair))
	return nil
}
