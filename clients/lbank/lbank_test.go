package lbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbitrage.watch/clients/common"
	"arbitrage.watch/markets"
	"arbitrage.watch/orderbook"
)

func testRegistry(t *testing.T) *markets.Registry {
	t.Helper()
	pair := markets.MakePair("ETH", "USDT")
	reg, err := markets.NewRegistry(
		[]markets.Metadata{{
			Pair:      pair,
			Base:      "ETH",
			Quote:     "USDT",
			Precision: markets.Precision{Price: 2, Amount: 4},
			Enabled:   true,
		}},
		[]markets.Alias{{Exchange: "lbank", Native: "eth_usdt", Pair: pair}},
	)
	require.NoError(t, err)
	return reg
}

func newWSServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func startSession(t *testing.T, store *orderbook.Store, url string) *Collector {
	t.Helper()
	base := common.NewBase("lbank", store, testRegistry(t), zerolog.Nop(), nil)
	c, err := New(base, Options{URL: url})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.session(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
	return c
}

func accept(t *testing.T, conns chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func TestSubscribeAndDepth(t *testing.T) {
	srv, conns := newWSServer(t)
	store := orderbook.NewStore()
	c := startSession(t, store, "ws"+strings.TrimPrefix(srv.URL, "http"))

	conn := accept(t, conns)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var req subscribeRequest
	require.NoError(t, conn.ReadJSON(&req))
	assert.Equal(t, "subscribe", req.Action)
	assert.Equal(t, "depth", req.Subscribe)
	assert.Equal(t, "100", req.Depth)
	assert.Equal(t, "eth_usdt", req.Pair)

	depth := `{"type":"depth","pair":"eth_usdt","depth":{"bids":[["2000.5","10"],["2000","4"]],"asks":[["2001.5","5"],["2002","9"]]},"SERVER":"V2","TS":"2026-08-25T10:00:00.000"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(depth)))

	pair := markets.MakePair("ETH", "USDT")
	require.Eventually(t, func() bool {
		_, ok := store.Get("lbank", pair)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	q, _ := store.Get("lbank", pair)
	assert.Equal(t, 2000.5, q.BidPrice)
	assert.Equal(t, 10.0, q.BidVolume)
	assert.Equal(t, 2001.5, q.AskPrice)
	assert.Equal(t, 5.0, q.AskVolume)
	assert.Equal(t, common.StateStreaming, c.State())
}

func TestPingPongCarriesID(t *testing.T) {
	srv, conns := newWSServer(t)
	startSession(t, orderbook.NewStore(), "ws"+strings.TrimPrefix(srv.URL, "http"))

	conn := accept(t, conns)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var req subscribeRequest
	require.NoError(t, conn.ReadJSON(&req))

	ping := `{"action":"ping","ping":"0ca8f854-7ba7-4341-9d86-d3327e52804e"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(ping)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong pongReply
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Action)
	assert.Equal(t, "0ca8f854-7ba7-4341-9d86-d3327e52804e", pong.Pong)
}

func TestUnknownSymbolDropped(t *testing.T) {
	srv, conns := newWSServer(t)
	store := orderbook.NewStore()
	startSession(t, store, "ws"+strings.TrimPrefix(srv.URL, "http"))

	conn := accept(t, conns)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var req subscribeRequest
	require.NoError(t, conn.ReadJSON(&req))

	depth := `{"type":"depth","pair":"doge_btc","depth":{"bids":[["1","1"]],"asks":[["2","1"]]}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(depth)))

	require.Never(t, func() bool {
		return store.Len() > 0
	}, 200*time.Millisecond, 20*time.Millisecond)
}
