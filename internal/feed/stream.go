package feed

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

// StreamConfig configures the push-stream client.
type StreamConfig struct {
	WSBaseURL        string        // e.g., wss://backend.example.com
	APIKey           string        // Optional bearer token (query param on dial)
	DialTimeout      time.Duration // WebSocket handshake timeout
	WriteTimeout     time.Duration // Control-frame write deadline
	PingInterval     time.Duration // Keepalive ping cadence
	MaxReconnectWait time.Duration // Backoff cap between redial attempts
	BufferSize       int           // Updates channel capacity
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig(wsBaseURL string) StreamConfig {
	return StreamConfig{
		WSBaseURL:        strings.TrimRight(wsBaseURL, "/"),
		DialTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		MaxReconnectWait: 60 * time.Second,
		BufferSize:       256,
	}
}

// streamConn is one live registration: a WebSocket for a single source.
type streamConn struct {
	sourceID  string
	symbolKey string // sorted, comma-joined symbol set
	cancel    context.CancelFunc
	done      chan struct{}
}

// StreamClient maintains one WebSocket per streaming source against the
// price backend. Registrations are idempotent per exact symbol set; a
// registration with a different set for the same source replaces the old
// connection. Dropped connections are re-dialed with exponential backoff.
// Implements Streamer.
type StreamClient struct {
	cfg    StreamConfig
	logger *slog.Logger

	updates chan model.StreamUpdate

	mu     sync.Mutex
	conns  map[string]*streamConn // source id → live connection
	closed bool
}

// NewStreamClient creates a stream client. No connections are opened until
// EnsureStream is called.
func NewStreamClient(cfg StreamConfig, logger *slog.Logger) *StreamClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &StreamClient{
		cfg:     cfg,
		logger:  logger,
		updates: make(chan model.StreamUpdate, cfg.BufferSize),
		conns:   make(map[string]*streamConn),
	}
}

// Updates returns the shared channel of inbound stream updates.
func (s *StreamClient) Updates() <-chan model.StreamUpdate {
	return s.updates
}

// EnsureStream registers (source, symbols) with the backend. Calling again
// with the identical symbol set is a no-op; a different set tears down the
// old connection for that source and dials a new one. The initial dial is
// synchronous so registration failures surface to the caller; reconnects
// after that happen in the background.
func (s *StreamClient) EnsureStream(ctx context.Context, sourceID string, symbols []string) error {
	if len(symbols) == 0 {
		return ErrNoSymbols
	}

	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	symbolKey := strings.Join(sorted, ",")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if existing, ok := s.conns[sourceID]; ok {
		if existing.symbolKey == symbolKey {
			s.mu.Unlock()
			return nil
		}
		// Symbol set changed: replace the registration.
		existing.cancel()
		delete(s.conns, sourceID)
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx, sourceID, sorted)
	if err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	sc := &streamConn{
		sourceID:  sourceID,
		symbolKey: symbolKey,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return ErrStreamClosed
	}
	s.conns[sourceID] = sc
	s.mu.Unlock()

	go s.run(connCtx, sc, conn, sorted)

	s.logger.Info("stream registered",
		"source", sourceID,
		"symbols", len(sorted),
	)

	return nil
}

// CloseSource tears down the registration for one source, if any.
func (s *StreamClient) CloseSource(sourceID string) {
	s.mu.Lock()
	sc, ok := s.conns[sourceID]
	if ok {
		delete(s.conns, sourceID)
	}
	s.mu.Unlock()

	if ok {
		sc.cancel()
		<-sc.done
	}
}

// Close tears down every registration. The updates channel stays open so
// in-flight consumers drain without a panic; no further updates arrive.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*streamConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.conns = make(map[string]*streamConn)
	s.mu.Unlock()

	for _, sc := range conns {
		sc.cancel()
		<-sc.done
	}
	return nil
}

// dial opens the WebSocket for one source and symbol set.
func (s *StreamClient) dial(ctx context.Context, sourceID string, symbols []string) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	if s.cfg.APIKey != "" {
		q.Set("token", s.cfg.APIKey)
	}
	wsURL := s.cfg.WSBaseURL + "/v1/stream/" + url.PathEscape(sourceID) + "?" + q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.DialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// run owns one source's connection: read loop, keepalive, reconnect with
// exponential backoff. Exits when the registration is cancelled.
func (s *StreamClient) run(ctx context.Context, sc *streamConn, conn *websocket.Conn, symbols []string) {
	defer close(sc.done)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = s.cfg.MaxReconnectWait

	for {
		err := s.consume(ctx, sc, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("stream connection lost",
			"source", sc.sourceID,
			"error", err,
		)

		// Redial with the registered symbol set until cancelled.
		for {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = s.cfg.MaxReconnectWait
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}

			next, dialErr := s.dial(ctx, sc.sourceID, symbols)
			if dialErr != nil {
				s.logger.Warn("stream redial failed",
					"source", sc.sourceID,
					"error", dialErr,
				)
				continue
			}

			s.logger.Info("stream reconnected", "source", sc.sourceID)
			conn = next
			backoffCfg.Reset()
			break
		}
	}
}

// consume reads updates from one connection until it fails or the
// registration is cancelled.
func (s *StreamClient) consume(ctx context.Context, sc *streamConn, conn *websocket.Conn) error {
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteTimeout))
	})

	// Cancellation must unblock a pending ReadMessage, so the watcher
	// closes the conn out from under it.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	// Keepalive pings until the read loop returns.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(s.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var update model.StreamUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			s.logger.Warn("malformed stream message",
				"source", sc.sourceID,
				"error", err,
			)
			continue
		}
		if update.SourceID == "" {
			update.SourceID = sc.sourceID
		}
		if update.Quote.SourceID == "" {
			update.Quote.SourceID = update.SourceID
		}
		if update.Symbol == "" {
			update.Symbol = update.Quote.Symbol
		}

		select {
		case s.updates <- update:
		case <-ctx.Done():
			return ctx.Err()
		default:
			s.logger.Warn("updates buffer full, dropping",
				"source", sc.sourceID,
				"symbol", update.Symbol,
			)
		}
	}
}
