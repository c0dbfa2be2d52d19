package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownGrace = 5 * time.Second

// Server exposes the dashboard socket, the JSON snapshot API and the
// prometheus endpoint on one listener.
type Server struct {
	hub *Hub
	log zerolog.Logger

	srv      *http.Server
	upgrader websocket.Upgrader
}

func NewServer(addr string, h *Hub, log zerolog.Logger) *Server {
	s := &Server{
		hub: h,
		log: log.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter().StrictSlash(true)
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/api/prices/", s.handlePrices).Methods(http.MethodGet)
	r.HandleFunc("/api/opportunities/", s.handleOpportunities).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the route table; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx ends, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub.SessionCount() >= s.hub.maxSessions {
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	if _, err := s.hub.attach(conn); err != nil {
		s.log.Warn().Err(err).Msg("session rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

type pricesResponse struct {
	Success       bool              `json:"success"`
	Data          []Quote           `json:"data"`
	CurrencyNames map[string]string `json:"currency_names"`
}

type opportunitiesResponse struct {
	Success         bool              `json:"success"`
	Data            []Opportunity     `json:"data"`
	BestOpportunity *Opportunity      `json:"best_opportunity"`
	TotalCount      int               `json:"total_count"`
	CurrencyNames   map[string]string `json:"currency_names"`
}

type statsResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	h := s.hub
	s.writeJSON(w, http.StatusOK, pricesResponse{
		Success:       true,
		Data:          h.quotes(h.store.Snapshot()),
		CurrencyNames: h.reg.CurrencyNames(),
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, _ *http.Request) {
	h := s.hub
	resp := opportunitiesResponse{
		Success:       true,
		Data:          h.opportunities(h.cache.Snapshot()),
		CurrencyNames: h.reg.CurrencyNames(),
	}
	resp.TotalCount = len(resp.Data)
	if b := h.cache.Best(); b != nil {
		best := h.opportunity(*b)
		resp.BestOpportunity = &best
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.hub.stats == nil {
		s.writeJSON(w, http.StatusOK, statsResponse{Success: true, Data: map[string]any{}})
		return
	}
	data, err := s.hub.stats.Stats(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("stats fetch failed")
		s.writeJSON(w, http.StatusServiceUnavailable, statsResponse{Success: false})
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{Success: true, Data: data})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response write failed")
	}
}
