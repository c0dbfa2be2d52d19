package ramzinex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/metrics"
	"arbitrage.watch/orderbook"
)

var heartbeat = []byte("{}")

type session struct {
	c    *Collector
	conn *websocket.Conn

	nextID      int
	pendingSubs map[int]string          // command id -> channel
	chans       map[string]markets.Pair // channel -> pair
	books       map[markets.Pair]*orderbook.Book
	awaiting    map[markets.Pair]bool // gap hit, pushes ignored until fresh subscribe ack

	readTimeout time.Duration
	ackBy       time.Time
	protoErrs   *common.RateTracker
	live        bool
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

	s := &session{
		c:           c,
		conn:        conn,
		nextID:      1,
		pendingSubs: make(map[int]string, len(c.listings)),
		chans:       make(map[string]markets.Pair, len(c.listings)),
		books:       make(map[markets.Pair]*orderbook.Book, len(c.listings)),
		awaiting:    make(map[markets.Pair]bool),
		readTimeout: common.DefaultReadTimeout,
		protoErrs:   common.NewRateTracker(5, time.Minute),
	}

	c.SetState(common.StateHandshaking)
	if err := s.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	c.SetState(common.StateSubscribing)
	for _, l := range c.listings {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
		pair, err := c.Registry.Canonicalize(c.Exchange, l.Native)
		if err != nil {
			metrics.UnknownSymbols.WithLabelValues(c.Exchange).Inc()
			continue
		}
		if err := s.subscribe(l.Native, pair); err != nil {
			return err
		}
	}

	return s.readLoop(ctx)
}

func (s *session) send(cmd command) error {
	s.conn.SetWriteDeadline(time.Now().Add(common.AckTimeout))
	return s.conn.WriteJSON(cmd)
}

// connect performs the Centrifugo handshake and picks up the server's
// announced ping interval for the read deadline.
func (s *session) connect(ctx context.Context) error {
	id := s.nextID
	s.nextID++
	if err := s.send(command{ID: id, Connect: &connectRequest{Name: "js"}}); err != nil {
		metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.conn.SetReadDeadline(time.Now().Add(common.AckTimeout))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
			return err
		}
		if bytes.Equal(bytes.TrimSpace(raw), heartbeat) {
			if err := s.pong(); err != nil {
				return err
			}
			continue
		}
		var r reply
		if err := json.Unmarshal(raw, &r); err != nil {
			metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
			return fmt.Errorf("ramzinex: malformed connect reply: %w", err)
		}
		if r.ID != id {
			continue
		}
		if r.Error != nil {
			metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
			return fmt.Errorf("ramzinex: connect rejected: code=%d %s", r.Error.Code, r.Error.Message)
		}
		if r.Connect != nil && r.Connect.Ping > 0 {
			s.readTimeout = time.Duration(r.Connect.Ping+pingGrace) * time.Second
		}
		return nil
	}
}

func (s *session) subscribe(native string, pair markets.Pair) error {
	id := s.nextID
	s.nextID++
	channel := channelPrefix + native
	cmd := command{
		ID: id,
		Subscribe: &subscribeRequest{
			Channel: channel,
			Recover: true,
			Delta:   deltaFossil,
		},
	}
	if err := s.send(cmd); err != nil {
		metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
		return fmt.Errorf("ramzinex: subscribe %s: %w", channel, err)
	}
	s.pendingSubs[id] = channel
	s.chans[channel] = pair
	if s.books[pair] == nil {
		s.books[pair] = orderbook.NewBook()
	}
	s.ackBy = time.Now().Add(common.AckTimeout)
	return nil
}

func (s *session) pong() error {
	s.conn.SetWriteDeadline(time.Now().Add(common.HeartbeatTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
		metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
		return err
	}
	return nil
}

func (s *session) protocolErr(msg string) error {
	metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
	s.c.Log.Warn().Str("detail", msg).Msg("protocol error")
	if s.protoErrs.Hit() {
		return fmt.Errorf("ramzinex: protocol error rate exceeded: %s", msg)
	}
	return nil
}

func (s *session) markLive() {
	if !s.live {
		s.live = true
		s.c.SetState(common.StateStreaming)
	}
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		deadline := time.Now().Add(s.readTimeout)
		if len(s.pendingSubs) > 0 && s.ackBy.Before(deadline) {
			deadline = s.ackBy
		}
		s.conn.SetReadDeadline(deadline)

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if len(s.pendingSubs) > 0 && time.Now().After(s.ackBy) {
				return fmt.Errorf("ramzinex: %d subscriptions unacked after %s", len(s.pendingSubs), common.AckTimeout)
			}
			metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
			return err
		}

		if bytes.Equal(bytes.TrimSpace(raw), heartbeat) {
			if err := s.pong(); err != nil {
				return err
			}
			continue
		}

		var r reply
		if err := json.Unmarshal(raw, &r); err != nil {
			metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
			s.c.Log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}

		switch {
		case r.ID != 0:
			if err := s.handleAck(r); err != nil {
				return err
			}
		case r.Push != nil:
			if err := s.handlePush(r.Push); err != nil {
				return err
			}
		default:
			if err := s.protocolErr("reply with neither id nor push"); err != nil {
				return err
			}
		}
	}
}

func (s *session) handleAck(r reply) error {
	channel, ok := s.pendingSubs[r.ID]
	if !ok {
		return s.protocolErr(fmt.Sprintf("ack for unknown command id %d", r.ID))
	}
	delete(s.pendingSubs, r.ID)
	if r.Error != nil {
		metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
		return fmt.Errorf("ramzinex: subscribe %s rejected: code=%d %s", channel, r.Error.Code, r.Error.Message)
	}

	pair, ok := s.chans[channel]
	if !ok {
		return s.protocolErr("ack for unmapped channel " + channel)
	}
	delete(s.awaiting, pair)

	// Recovered history rides in the ack; replay it in order.
	if r.Subscribe != nil {
		for i := range r.Subscribe.Publications {
			if err := s.applyPub(pair, channel, &r.Subscribe.Publications[i]); err != nil {
				return err
			}
		}
	}
	if len(s.pendingSubs) == 0 {
		s.markLive()
	}
	return nil
}

func (s *session) handlePush(p *push) error {
	if p.Pub == nil {
		return s.protocolErr("push without publication on " + p.Channel)
	}
	pair, ok := s.chans[p.Channel]
	if !ok {
		native := strings.TrimPrefix(p.Channel, channelPrefix)
		var err error
		pair, err = s.c.Registry.Canonicalize(s.c.Exchange, native)
		if err != nil {
			metrics.UnknownSymbols.WithLabelValues(s.c.Exchange).Inc()
			s.c.Log.Debug().Str("channel", p.Channel).Msg("push for unknown channel")
			return nil
		}
	}
	if s.awaiting[pair] {
		// Gap recovery in flight; stale deltas must not prime the book.
		return nil
	}
	return s.applyPub(pair, p.Channel, p.Pub)
}

func (s *session) applyPub(pair markets.Pair, channel string, pub *publication) error {
	data := []byte(pub.Data)
	// Publications sometimes arrive double-encoded as a JSON string.
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
			s.c.Log.Debug().Err(err).Str("channel", channel).Msg("dropping undecodable publication")
			return nil
		}
		data = []byte(inner)
	}
	var book bookData
	if err := json.Unmarshal(data, &book); err != nil {
		metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
		s.c.Log.Debug().Err(err).Str("channel", channel).Msg("dropping undecodable publication")
		return nil
	}

	s.markLive()

	b := s.books[pair]
	if b == nil {
		b = orderbook.NewBook()
		s.books[pair] = b
	}

	if !b.Primed() {
		b.LoadSnapshot(common.Levels(book.Buys), common.Levels(book.Sells), pub.Offset)
	} else {
		err := b.Apply(orderbook.Diff{ID: pub.Offset, Bids: common.Levels(book.Buys), Asks: common.Levels(book.Sells)})
		switch {
		case errors.Is(err, orderbook.ErrSequenceGap):
			metrics.SequenceGaps.WithLabelValues(s.c.Exchange).Inc()
			s.c.Log.Warn().Str("channel", channel).Uint64("offset", pub.Offset).Msg("offset gap, resubscribing")
			return s.recoverChannel(pair, channel)
		case err != nil:
			return s.protocolErr(err.Error())
		}
	}

	bid, haveBid := b.BestBid()
	ask, haveAsk := b.BestAsk()
	if !haveBid || !haveAsk {
		return nil
	}
	s.c.EmitQuote(pair, bid.Price, bid.Volume, ask.Price, ask.Volume, s.c.NextSeq(pair))
	return nil
}

// recoverChannel drops the poisoned book and cycles the subscription so
// the next ack carries a fresh snapshot.
func (s *session) recoverChannel(pair markets.Pair, channel string) error {
	s.books[pair].Reset()
	s.awaiting[pair] = true

	if err := s.send(command{ID: s.nextID, Unsubscribe: &unsubscribeRequest{Channel: channel}}); err != nil {
		metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
		return err
	}
	s.nextID++

	native := strings.TrimPrefix(channel, channelPrefix)
	return s.subscribe(native, pair)
}
