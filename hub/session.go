package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arbitrage.watch/metrics"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second

	// readLimit bounds inbound frames; the dashboard only listens.
	readLimit = 512
)

// session is one dashboard connection. Events wait in a bounded FIFO;
// when a slow reader overflows it the oldest non-best frame is shed
// and the session is flagged stale. Best-opportunity frames ride a
// separate queue that is never shed and drains first.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	mu    sync.Mutex
	queue []Envelope
	bests []Envelope
	stale bool

	notify   chan struct{}
	done     chan struct{}
	shutOnce sync.Once
	once     sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, log zerolog.Logger) *session {
	return &session{
		hub:    h,
		conn:   conn,
		log:    log,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push enqueues one frame. It never blocks: producers are the hub
// fan-out paths and must not stall behind a slow socket.
func (s *session) push(env Envelope, best bool) {
	s.mu.Lock()
	if best {
		s.bests = append(s.bests, env)
	} else {
		if len(s.queue) >= s.hub.queueSize {
			s.queue = s.queue[1:]
			s.stale = true
			metrics.BroadcastDrops.Inc()
		}
		s.queue = append(s.queue, env)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop takes the next frame, best-opportunity updates first.
func (s *session) pop() (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var env Envelope
	switch {
	case len(s.bests) > 0:
		env, s.bests = s.bests[0], s.bests[1:]
	case len(s.queue) > 0:
		env, s.queue = s.queue[0], s.queue[1:]
	default:
		return Envelope{}, false
	}
	env.Stale = s.stale
	return env, true
}

func (s *session) writePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer s.close()

	for {
		select {
		case <-s.done:
			deadline := time.Now().Add(writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
			return
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.notify:
			for {
				env, ok := s.pop()
				if !ok {
					break
				}
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := s.conn.WriteJSON(env); err != nil {
					s.log.Debug().Err(err).Msg("session write failed")
					return
				}
			}
		}
	}
}

// readPump discards client frames and keeps the pong deadline fresh.
func (s *session) readPump() {
	defer s.close()
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// shutdown asks the write pump to send a going-away frame and exit.
func (s *session) shutdown() {
	s.shutOnce.Do(func() { close(s.done) })
}

// close detaches the session and tears the socket down; safe from
// either pump and from the hub.
func (s *session) close() {
	s.once.Do(func() {
		s.hub.detach(s)
		_ = s.conn.Close()
	})
}
