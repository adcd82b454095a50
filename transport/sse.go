package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// SSEClient is the script-side half of an HTTP transport mirroring the
// Streamable-HTTP shape: an SSE stream carries inbound payloads, and
// outbound payloads are POSTed to the URL the host advertises on its first
// "endpoint" event (grounded on the gateway backend session's SSE
// handshake).
type SSEClient struct {
	mu           sync.Mutex
	client       *sse.Client
	http         *http.Client
	postEndpoint string
	logger       *zap.Logger

	onMsg   func(interface{})
	onConn  func()
	onClose func()
	onErr   func(error)

	ch     chan *sse.Event
	cancel context.CancelFunc
}

// NewSSEClient prepares (but does not yet start) a client streaming from
// streamURL.
func NewSSEClient(streamURL string, httpClient *http.Client, logger *zap.Logger) *SSEClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEClient{
		client: sse.NewClient(streamURL),
		http:   httpClient,
		logger: logger,
		ch:     make(chan *sse.Event),
	}
}

// SendMessage POSTs payload to the endpoint announced by the stream's first
// "endpoint" event; later "endpoint" events are ignored.
func (c *SSEClient) SendMessage(payload interface{}) error {
	c.mu.Lock()
	endpoint := c.postEndpoint
	c.mu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("transport: sse client has no POST endpoint yet")
	}

	var body []byte
	switch v := payload.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		return fmt.Errorf("transport: sse client cannot send payload of type %T", payload)
	}

	resp, err := c.http.Post(endpoint, "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("transport: sse post to %s failed: %s", endpoint, resp.Status)
	}
	return nil
}

// OnMessage registers the inbound-payload callback.
func (c *SSEClient) OnMessage(cb func(interface{})) { c.mu.Lock(); c.onMsg = cb; c.mu.Unlock() }

// OnConnect registers the connect callback (rpc.ConnectNotifier), fired
// once the first "endpoint" event arrives.
func (c *SSEClient) OnConnect(cb func()) { c.mu.Lock(); c.onConn = cb; c.mu.Unlock() }

// OnClose registers the close callback (rpc.CloseNotifier).
func (c *SSEClient) OnClose(cb func()) { c.mu.Lock(); c.onClose = cb; c.mu.Unlock() }

// OnError registers the error callback (rpc.ErrorNotifier).
func (c *SSEClient) OnError(cb func(error)) { c.mu.Lock(); c.onErr = cb; c.mu.Unlock() }

// Start subscribes to the SSE stream and begins processing events.
func (c *SSEClient) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 60 * time.Second
	c.client.ReconnectStrategy = backoff.WithContext(expBackoff, ctx)
	c.client.ReconnectNotify = func(err error, t time.Duration) {
		c.logger.Warn("sse transport: reconnecting", zap.Error(err), zap.Duration("backoff", t))
	}

	if err := c.client.SubscribeChanWithContext(ctx, "", c.ch); err != nil {
		cancel()
		return fmt.Errorf("transport: sse subscribe: %w", err)
	}
	go c.readLoop(ctx)
	return nil
}

func (c *SSEClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.ch:
			if !ok {
				return
			}
			switch string(ev.Event) {
			case "endpoint":
				c.mu.Lock()
				alreadySet := c.postEndpoint != ""
				if !alreadySet {
					c.postEndpoint = string(ev.Data)
				}
				onConn := c.onConn
				c.mu.Unlock()
				if !alreadySet && onConn != nil {
					onConn()
				}
			case "message":
				c.mu.Lock()
				cb := c.onMsg
				c.mu.Unlock()
				if cb != nil {
					cb(string(ev.Data))
				}
			}
		}
	}
}

// Close stops the stream and fires OnClose.
func (c *SSEClient) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	onClose := c.onClose
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

// SSEServer is the host-side half: ServeStream handles the long-lived GET
// that becomes the SSE stream (announcing postPath as the POST endpoint),
// ServePost delivers one payload from the script.
type SSEServer struct {
	mu       sync.Mutex
	logger   *zap.Logger
	postPath string

	flusher http.Flusher
	writer  http.ResponseWriter

	onMsg   func(interface{})
	onConn  func()
	onClose func()
	onErr   func(error)
}

// NewSSEServer returns a server-side transport that will advertise postPath
// as its POST endpoint once a stream is opened.
func NewSSEServer(postPath string, logger *zap.Logger) *SSEServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEServer{postPath: postPath, logger: logger}
}

// SendMessage writes payload as an SSE "message" event on the open stream.
func (s *SSEServer) SendMessage(payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return fmt.Errorf("transport: sse server has no open stream yet")
	}

	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("transport: sse server cannot send payload of type %T", payload)
	}

	if _, err := fmt.Fprintf(s.writer, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// OnMessage registers the inbound-payload callback.
func (s *SSEServer) OnMessage(cb func(interface{})) { s.mu.Lock(); s.onMsg = cb; s.mu.Unlock() }

// OnConnect registers the connect callback (rpc.ConnectNotifier).
func (s *SSEServer) OnConnect(cb func()) { s.mu.Lock(); s.onConn = cb; s.mu.Unlock() }

// OnClose registers the close callback (rpc.CloseNotifier).
func (s *SSEServer) OnClose(cb func()) { s.mu.Lock(); s.onClose = cb; s.mu.Unlock() }

// OnError registers the error callback (rpc.ErrorNotifier).
func (s *SSEServer) OnError(cb func(error)) { s.mu.Lock(); s.onErr = cb; s.mu.Unlock() }

// ServeStream handles the long-lived GET request that becomes the SSE
// stream. It blocks until the request context is cancelled.
func (s *SSEServer) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.mu.Lock()
	s.writer = w
	s.flusher = flusher
	onConn := s.onConn
	s.mu.Unlock()

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", s.postPath)
	flusher.Flush()
	if onConn != nil {
		onConn()
	}

	<-r.Context().Done()

	s.mu.Lock()
	s.writer = nil
	onClose := s.onClose
	s.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

// ServePost handles a POST delivering one payload from the script.
func (s *SSEServer) ServePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	cb := s.onMsg
	s.mu.Unlock()
	if cb != nil {
		cb(string(body))
	}
	w.WriteHeader(http.StatusAccepted)
}

var (
	_ rpc.Transport       = (*SSEClient)(nil)
	_ rpc.ConnectNotifier = (*SSEClient)(nil)
	_ rpc.CloseNotifier   = (*SSEClient)(nil)
	_ rpc.ErrorNotifier   = (*SSEClient)(nil)
	_ rpc.Transport       = (*SSEServer)(nil)
	_ rpc.ConnectNotifier = (*SSEServer)(nil)
	_ rpc.CloseNotifier   = (*SSEServer)(nil)
	_ rpc.ErrorNotifier   = (*SSEServer)(nil)
)
