package tabdeal

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
	pair := markets.MakePair("USDT", "TMN")
	reg, err := markets.NewRegistry(
		[]markets.Metadata{{
			Pair:      pair,
			Base:      "USDT",
			Quote:     "TMN",
			Precision: markets.Precision{Price: 0, Amount: 2},
			Enabled:   true,
		}},
		[]markets.Alias{{Exchange: "tabdeal", Native: "usdtirt", Pair: pair}},
	)
	require.NoError(t, err)
	return reg
}

func startSession(t *testing.T, store *orderbook.Store, url string) (*Collector, chan *websocket.Conn) {
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
	if url == "" {
		url = "ws" + strings.TrimPrefix(srv.URL, "http")
	}

	base := common.NewBase("tabdeal", store, testRegistry(t), zerolog.Nop(), nil)
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
	return c, conns
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

func TestSubscribeAndStream(t *testing.T) {
	store := orderbook.NewStore()
	c, conns := startSession(t, store, "")

	conn := accept(t, conns)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var req subscribeRequest
	require.NoError(t, conn.ReadJSON(&req))
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"usdtirt@depth@2000ms"}, req.Params)
	assert.Equal(t, 1, req.ID)

	// Ack first, then one depth frame.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`)))
	frame := `{"stream":"usdtirt@depth@2000ms","data":{"e":"depthUpdate","E":1724580000000,"b":[["98500","1250.5"],["98490","800"]],"a":[["98510","410.2"],["98520","99"]]}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	pair := markets.MakePair("USDT", "TMN")
	require.Eventually(t, func() bool {
		_, ok := store.Get("tabdeal", pair)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	q, _ := store.Get("tabdeal", pair)
	assert.Equal(t, 98500.0, q.BidPrice)
	assert.Equal(t, 1250.5, q.BidVolume)
	assert.Equal(t, 98510.0, q.AskPrice)
	assert.Equal(t, 410.2, q.AskVolume)
	assert.Equal(t, common.StateStreaming, c.State())
}

func TestNonDepthEventIgnoredThenCycles(t *testing.T) {
	store := orderbook.NewStore()
	_, conns := startSession(t, store, "")

	conn := accept(t, conns)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var req subscribeRequest
	require.NoError(t, conn.ReadJSON(&req))

	// Wrong event type on the depth stream counts as a protocol error
	// but must not kill the session on its own.
	bad := `{"stream":"usdtirt@depth@2000ms","data":{"e":"trade","b":[],"a":[]}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(bad)))

	good := `{"stream":"usdtirt@depth@2000ms","data":{"e":"depthUpdate","b":[["98500","10"]],"a":[["98510","5"]]}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(good)))

	pair := markets.MakePair("USDT", "TMN")
	require.Eventually(t, func() bool {
		_, ok := store.Get("tabdeal", pair)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
