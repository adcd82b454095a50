package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// WebSocketOptions tunes a WebSocket transport.
type WebSocketOptions struct {
	// PingInterval, if non-zero, sends a control ping on this cadence and
	// tears the connection down if the write fails.
	PingInterval time.Duration
	// WriteTimeout bounds every write, including pings.
	WriteTimeout time.Duration
	// MaxDialElapsed bounds how long DialWithBackoff retries a failing
	// dial before giving up.
	MaxDialElapsed time.Duration
	// RateLimit throttles outbound SendMessage calls; rate.Inf (the
	// default) never throttles.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultWebSocketOptions returns reasonable defaults.
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxDialElapsed: 60 * time.Second,
		RateLimit:      rate.Inf,
		RateBurst:      1,
	}
}

// WebSocket adapts a gorilla/websocket connection to rpc.Transport. Text
// frames carry JSON; binary frames carry MessagePack.
type WebSocket struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	opts    WebSocketOptions
	logger  *zap.Logger
	limiter *rate.Limiter

	onMsg   func(interface{})
	onConn  func()
	onClose func()
	onErr   func(error)

	closed bool
}

// NewWebSocket wraps an already-established connection (from
// websocket.Upgrade on the host, or websocket.Dial on the script side) and
// starts its read (and, if configured, ping) loop. By the time a
// *websocket.Conn exists the handshake already completed, so this
// transport reports connect immediately and does not implement
// rpc.ConnectNotifier's "deferred" contract — it still implements the
// interface so a Peer can subscribe, it simply fires right away.
func NewWebSocket(conn *websocket.Conn, logger *zap.Logger, opts WebSocketOptions) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 1
	}
	w := &WebSocket{
		conn:    conn,
		opts:    opts,
		logger:  logger,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
	}
	go w.readLoop()
	if opts.PingInterval > 0 {
		go w.pingLoop()
	}
	return w
}

// SendMessage writes payload as a text frame (string) or binary frame
// ([]byte).
func (w *WebSocket) SendMessage(payload interface{}) error {
	if err := w.limiter.Wait(context.Background()); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.opts.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	}
	switch v := payload.(type) {
	case string:
		return w.conn.WriteMessage(websocket.TextMessage, []byte(v))
	case []byte:
		return w.conn.WriteMessage(websocket.BinaryMessage, v)
	default:
		return fmt.Errorf("transport: websocket cannot send payload of type %T", payload)
	}
}

// OnMessage registers the inbound-payload callback.
func (w *WebSocket) OnMessage(cb func(interface{})) {
	w.mu.Lock()
	w.onMsg = cb
	w.mu.Unlock()
}

// OnConnect registers the connect callback and fires it immediately, since
// a *websocket.Conn is only ever handed to this type post-handshake.
func (w *WebSocket) OnConnect(cb func()) {
	w.mu.Lock()
	w.onConn = cb
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// OnClose registers the close callback (rpc.CloseNotifier).
func (w *WebSocket) OnClose(cb func()) {
	w.mu.Lock()
	w.onClose = cb
	w.mu.Unlock()
}

// OnError registers the error callback (rpc.ErrorNotifier).
func (w *WebSocket) OnError(cb func(error)) {
	w.mu.Lock()
	w.onErr = cb
	w.mu.Unlock()
}

func (w *WebSocket) readLoop() {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.teardown(err)
			return
		}
		w.mu.Lock()
		cb := w.onMsg
		w.mu.Unlock()
		if cb == nil {
			continue
		}
		if msgType == websocket.TextMessage {
			cb(string(data))
		} else {
			cb(data)
		}
	}
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		conn := w.conn
		deadline := time.Now().Add(w.opts.WriteTimeout)
		w.mu.Unlock()

		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			w.teardown(err)
			return
		}
	}
}

func (w *WebSocket) teardown(cause error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	onErr, onClose := w.onErr, w.onClose
	w.mu.Unlock()

	if cause != nil && onErr != nil {
		onErr(cause)
	}
	if onClose != nil {
		onClose()
	}
}

// Close closes the underlying connection and fires OnClose. Idempotent.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	w.mu.Unlock()

	err := conn.Close()
	w.teardown(nil)
	return err
}

// DialWithBackoff dials url, retrying a failed connection with exponential
// backoff bounded by opts.MaxDialElapsed (grounded on the reconnect
// strategy the gateway's SSE client applies to its own backend dials).
func DialWithBackoff(ctx context.Context, url string, logger *zap.Logger, opts WebSocketOptions) (*WebSocket, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var conn *websocket.Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			logger.Warn("websocket dial failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = opts.MaxDialElapsed

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	return NewWebSocket(conn, logger, opts), nil
}

var (
	_ rpc.Transport       = (*WebSocket)(nil)
	_ rpc.ConnectNotifier = (*WebSocket)(nil)
	_ rpc.CloseNotifier   = (*WebSocket)(nil)
	_ rpc.ErrorNotifier   = (*WebSocket)(nil)
)
