package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/pkg/logger"
)

func testStream(t *testing.T, wsURL string) *Stream {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return NewStream(wsURL, "BTCUSDT", "1m", time.Millisecond, time.Minute, log).(*Stream)
}

// klineServer upgrades the connection, waits for the subscribe frame and
// hands the socket to the test.
func klineServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage() // subscribe frame
		serve(conn)
	}))
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReadFailureMarksDisconnected(t *testing.T) {
	srv := klineServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})
	defer srv.Close()

	s := testStream(t, wsAddr(srv))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx))
	require.True(t, s.IsConnected())

	candles, errs := s.Read(ctx)
	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no read error after socket drop")
	}

	_, open := <-candles
	assert.False(t, open)
	assert.False(t, s.IsConnected())
}

func TestReconnectAfterDropDialsFreshSocket(t *testing.T) {
	srv := klineServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})
	defer srv.Close()

	s := testStream(t, wsAddr(srv))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx))

	_, errs := s.Read(ctx)
	<-errs
	require.False(t, s.IsConnected())

	require.NoError(t, s.Reconnect(ctx))
	assert.True(t, s.IsConnected())
}

func TestReadDeliversClosedCandlesOnly(t *testing.T) {
	frames := []string{
		`{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"o":"100","h":"101","l":"99","c":"100.5","v":"12","x":false}}`,
		`{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"o":"100","h":"101","l":"99","c":"100.7","v":"15","x":true}}`,
	}
	srv := klineServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.Close()
	})
	defer srv.Close()

	s := testStream(t, wsAddr(srv))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx))

	candles, errs := s.Read(ctx)
	var got []float64
	for c := range candles {
		got = append(got, c.Close)
	}
	<-errs

	require.Len(t, got, 1)
	assert.Equal(t, 100.7, got[0])
}
