package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// streamTestServer accepts WebSocket registrations, records the symbol sets
// it saw, and lets tests push updates down the latest connection.
type streamTestServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	dials   atomic.Int32
	symbols atomic.Value // last ?symbols= value
	conn    atomic.Pointer[websocket.Conn]
}

func newStreamTestServer(t *testing.T) *streamTestServer {
	t.Helper()
	s := &streamTestServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.dials.Add(1)
		s.symbols.Store(r.URL.Query().Get("symbols"))
		s.conn.Store(conn)
		// Hold the connection open; discard any client frames.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *streamTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *streamTestServer) push(t *testing.T, payload string) {
	t.Helper()
	conn := s.conn.Load()
	if conn == nil {
		t.Fatal("no live connection to push to")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func newTestStreamClient(server *streamTestServer) *StreamClient {
	cfg := DefaultStreamConfig(server.wsURL())
	cfg.MaxReconnectWait = 50 * time.Millisecond
	return NewStreamClient(cfg, nil)
}

func TestEnsureStreamIdempotent(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)
	defer client.Close()

	ctx := context.Background()
	if err := client.EnsureStream(ctx, "binance", []string{"ETHUSDT", "BTCUSDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}

	// Same set in any order is a no-op.
	if err := client.EnsureStream(ctx, "binance", []string{"BTCUSDT", "ETHUSDT"}); err != nil {
		t.Fatalf("EnsureStream() repeat error = %v", err)
	}

	if got := server.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got, _ := server.symbols.Load().(string); got != "BTCUSDT,ETHUSDT" {
		t.Errorf("symbols = %q, want sorted BTCUSDT,ETHUSDT", got)
	}
}

func TestEnsureStreamReplacesOnChangedSet(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)
	defer client.Close()

	ctx := context.Background()
	if err := client.EnsureStream(ctx, "binance", []string{"BTCUSDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}
	if err := client.EnsureStream(ctx, "binance", []string{"BTCUSDT", "SOLUSDT"}); err != nil {
		t.Fatalf("EnsureStream() with new set error = %v", err)
	}

	if got := server.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	if got, _ := server.symbols.Load().(string); got != "BTCUSDT,SOLUSDT" {
		t.Errorf("symbols = %q, want BTCUSDT,SOLUSDT", got)
	}
}

func TestEnsureStreamNoSymbols(t *testing.T) {
	client := NewStreamClient(DefaultStreamConfig("ws://unused.invalid"), nil)
	defer client.Close()

	if err := client.EnsureStream(context.Background(), "binance", nil); err != ErrNoSymbols {
		t.Errorf("error = %v, want ErrNoSymbols", err)
	}
}

func TestStreamDeliversUpdates(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)
	defer client.Close()

	if err := client.EnsureStream(context.Background(), "okx_stream", []string{"BTC-USDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}

	server.push(t, `{"symbol":"BTC-USDT","quote":{"symbol":"BTC-USDT","price":64100.5,"last_updated":1700000000000}}`)

	select {
	case update := <-client.Updates():
		if update.SourceID != "okx_stream" {
			t.Errorf("SourceID = %q, want stamped okx_stream", update.SourceID)
		}
		if update.Symbol != "BTC-USDT" {
			t.Errorf("Symbol = %q", update.Symbol)
		}
		if update.Quote.Price != 64100.5 {
			t.Errorf("Price = %v", update.Quote.Price)
		}
		if update.Quote.SourceID != "okx_stream" {
			t.Errorf("Quote.SourceID = %q, want stamped okx_stream", update.Quote.SourceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream update")
	}
}

func TestStreamSkipsMalformedMessages(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)
	defer client.Close()

	if err := client.EnsureStream(context.Background(), "binance", []string{"BTCUSDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}

	server.push(t, `{not json`)
	server.push(t, `{"symbol":"BTCUSDT","quote":{"symbol":"BTCUSDT","price":1.5,"last_updated":1}}`)

	select {
	case update := <-client.Updates():
		if update.Quote.Price != 1.5 {
			t.Errorf("Price = %v, want the valid message after the malformed one", update.Quote.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream update")
	}
}

func TestStreamReconnects(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)
	defer client.Close()

	if err := client.EnsureStream(context.Background(), "binance", []string{"BTCUSDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}

	// Drop the server side; the client should redial on its own.
	server.conn.Load().Close()

	deadline := time.Now().Add(3 * time.Second)
	for server.dials.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("dials = %d, want redial after drop", server.dials.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseStopsRegistrations(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)

	if err := client.EnsureStream(context.Background(), "binance", []string{"BTCUSDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := client.EnsureStream(context.Background(), "binance", []string{"BTCUSDT"}); err != ErrStreamClosed {
		t.Errorf("EnsureStream() after close = %v, want ErrStreamClosed", err)
	}
}

func TestCloseUnblocksActiveRead(t *testing.T) {
	server := newStreamTestServer(t)
	client := newTestStreamClient(server)

	if err := client.EnsureStream(context.Background(), "binance", []string{"BTCUSDT"}); err != nil {
		t.Fatalf("EnsureStream() error = %v", err)
	}

	// The server holds the connection open without sending anything, so by
	// now the read loop is parked inside ReadMessage.
	time.Sleep(200 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		client.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() blocked behind an idle connection")
	}
}
