package wallex

import (
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
)

type session struct {
	c    *Collector
	conn *websocket.Conn

	books     map[markets.Pair]*halves
	protoErrs *common.RateTracker
	live      bool
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
		c:         c,
		conn:      conn,
		books:     make(map[markets.Pair]*halves, len(c.listings)),
		protoErrs: common.NewRateTracker(5, time.Minute),
	}

	c.SetState(common.StateHandshaking)
	if _, err := s.awaitOpen(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ProtocolErrors.WithLabelValues(c.Exchange).Inc()
		return err
	}
	if err := s.connectNamespace(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	c.SetState(common.StateSubscribing)
	if err := s.subscribe(ctx); err != nil {
		return err
	}

	return s.readLoop(ctx)
}

func (s *session) write(payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(common.AckTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *session) awaitOpen() (openPacket, error) {
	s.conn.SetReadDeadline(time.Now().Add(common.AckTimeout))
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return openPacket{}, err
	}
	if len(raw) == 0 || raw[0] != eioOpen {
		return openPacket{}, fmt.Errorf("wallex: expected open packet, got %q", preview(raw))
	}
	var open openPacket
	if err := json.Unmarshal(raw[1:], &open); err != nil {
		return openPacket{}, fmt.Errorf("wallex: malformed open packet: %w", err)
	}
	s.c.Log.Debug().Str("sid", open.SID).Int("ping_interval_ms", open.PingInterval).Msg("engine.io open")
	return open, nil
}

// connectNamespace sends the Socket.IO connect packet and waits for its
// ack, answering any heartbeat that lands in between.
func (s *session) connectNamespace(ctx context.Context) error {
	if err := s.write([]byte{eioMessage, sioConnect}); err != nil {
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
		if len(raw) == 0 {
			continue
		}
		switch {
		case raw[0] == eioPing:
			if err := s.write([]byte{eioPong}); err != nil {
				return err
			}
		case raw[0] == eioMessage && len(raw) > 1 && raw[1] == sioConnect:
			return nil
		case raw[0] == eioMessage && len(raw) > 1 && raw[1] == sioError:
			metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
			return fmt.Errorf("wallex: namespace connect rejected: %s", preview(raw[2:]))
		default:
			metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
			return fmt.Errorf("wallex: expected connect ack, got %q", preview(raw))
		}
	}
}

// subscribe requests both depth sides for every mapped market. The
// venue acks nothing; the first broadcast confirms the stream.
func (s *session) subscribe(ctx context.Context) error {
	for _, l := range s.c.listings {
		for _, side := range []string{buySide, sellSide} {
			if err := s.c.Limiter.Wait(ctx); err != nil {
				return err
			}
			frame, err := encodeEvent("subscribe", subscribeArg{Channel: l.Native + "@" + side})
			if err != nil {
				return fmt.Errorf("wallex: encode subscribe: %w", err)
			}
			if err := s.write(frame); err != nil {
				metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
				return fmt.Errorf("wallex: subscribe %s@%s: %w", l.Native, side, err)
			}
		}
	}
	return nil
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		s.conn.SetReadDeadline(time.Now().Add(common.DefaultReadTimeout))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
			return err
		}
		if len(raw) == 0 {
			continue
		}

		switch raw[0] {
		case eioPing:
			s.conn.SetWriteDeadline(time.Now().Add(common.HeartbeatTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				metrics.TransportErrors.WithLabelValues(s.c.Exchange).Inc()
				return err
			}
		case eioClose:
			return errors.New("wallex: server closed the engine.io session")
		case eioMessage:
			if len(raw) < 2 {
				if err := s.protocolErr("truncated message packet"); err != nil {
					return err
				}
				continue
			}
			switch raw[1] {
			case sioEvent:
				if err := s.handleEvent(raw[2:]); err != nil {
					return err
				}
			case sioConnect:
				// Duplicate connect ack; harmless.
			case sioError:
				if err := s.protocolErr("socket.io error: " + preview(raw[2:])); err != nil {
					return err
				}
			default:
				if err := s.protocolErr(fmt.Sprintf("unexpected socket.io packet %q", raw[1])); err != nil {
					return err
				}
			}
		case eioOpen, eioPong:
			// Stray control packets; ignore.
		default:
			if err := s.protocolErr(fmt.Sprintf("unexpected engine.io packet %q", raw[0])); err != nil {
				return err
			}
		}
	}
}

func (s *session) protocolErr(msg string) error {
	metrics.ProtocolErrors.WithLabelValues(s.c.Exchange).Inc()
	s.c.Log.Warn().Str("detail", msg).Msg("protocol error")
	if s.protoErrs.Hit() {
		return fmt.Errorf("wallex: protocol error rate exceeded: %s", msg)
	}
	return nil
}

func (s *session) handleEvent(body []byte) error {
	name, payload, err := decodeEvent(body)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
		s.c.Log.Debug().Err(err).Msg("dropping undecodable event")
		return nil
	}

	native, side, ok := strings.Cut(name, "@")
	if !ok || (side != buySide && side != sellSide) {
		// The socket also carries trade and ticker broadcasts.
		return nil
	}
	pair, err := s.c.Registry.Canonicalize(s.c.Exchange, native)
	if err != nil {
		metrics.UnknownSymbols.WithLabelValues(s.c.Exchange).Inc()
		s.c.Log.Debug().Str("symbol", native).Msg("unknown symbol")
		return nil
	}

	var entries []depthEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		metrics.DecodeErrors.WithLabelValues(s.c.Exchange).Inc()
		s.c.Log.Debug().Err(err).Str("channel", name).Msg("dropping undecodable depth")
		return nil
	}

	if !s.live {
		s.live = true
		s.c.SetState(common.StateStreaming)
	}

	h := s.books[pair]
	if h == nil {
		h = &halves{}
		s.books[pair] = h
	}
	if side == buySide {
		h.haveBid = len(entries) > 0
		if h.haveBid {
			h.bidPrice = entries[0].Price.Float64()
			h.bidVol = entries[0].Quantity.Float64()
		}
	} else {
		h.haveAsk = len(entries) > 0
		if h.haveAsk {
			h.askPrice = entries[0].Price.Float64()
			h.askVol = entries[0].Quantity.Float64()
		}
	}
	if h.haveBid && h.haveAsk {
		s.c.EmitQuote(pair, h.bidPrice, h.bidVol, h.askPrice, h.askVol, s.c.NextSeq(pair))
	}
	return nil
}
