// Package transport provides concrete rpc.Transport implementations: an
// in-process pair for tests, a WebSocket transport, and an HTTP/SSE
// transport mirroring the Streamable-HTTP shape.
package transport

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// ErrClosed is returned by SendMessage once the transport has been closed.
var ErrClosed = errors.New("transport: pipe closed")

// Memory is an in-process, callback-driven transport pairing two peers
// without touching the network. Unlike the source's channel-pair
// transports, it implements ConnectNotifier and defers connect until
// Connect is called explicitly, so tests can exercise the pre-connect
// buffering scenario (§8 item 5).
type Memory struct {
	mu      sync.Mutex
	peer    *Memory
	onMsg   func(payload interface{})
	onConn  func()
	onClose func()
	onErr   func(error)
	closed  bool
	logger  *zap.Logger
}

// NewMemoryPair returns two ends of an in-process pipe. Neither end reports
// connect until Connect is called on either one.
func NewMemoryPair(logger *zap.Logger) (*Memory, *Memory) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Memory{logger: logger}
	b := &Memory{logger: logger}
	a.peer, b.peer = b, a
	return a, b
}

// SendMessage delivers payload to the paired end's OnMessage callback.
func (m *Memory) SendMessage(payload interface{}) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	peer := m.peer
	m.mu.Unlock()

	peer.mu.Lock()
	cb := peer.onMsg
	peer.mu.Unlock()
	if cb == nil {
		m.logger.Debug("memory transport: message dropped, no OnMessage handler registered")
		return nil
	}
	cb(payload)
	return nil
}

// OnMessage registers the inbound-payload callback.
func (m *Memory) OnMessage(cb func(payload interface{})) {
	m.mu.Lock()
	m.onMsg = cb
	m.mu.Unlock()
}

// OnConnect registers the connect callback (rpc.ConnectNotifier).
func (m *Memory) OnConnect(cb func()) {
	m.mu.Lock()
	m.onConn = cb
	m.mu.Unlock()
}

// OnClose registers the close callback (rpc.CloseNotifier).
func (m *Memory) OnClose(cb func()) {
	m.mu.Lock()
	m.onClose = cb
	m.mu.Unlock()
}

// OnError registers the error callback (rpc.ErrorNotifier).
func (m *Memory) OnError(cb func(error)) {
	m.mu.Lock()
	m.onErr = cb
	m.mu.Unlock()
}

// Connect invokes both ends' OnConnect hooks, this end first. It keeps no
// connected state: every call invokes the hooks again, and SendMessage
// delivers whether or not Connect has been called.
func (m *Memory) Connect() {
	for _, t := range [2]*Memory{m, m.peer} {
		t.mu.Lock()
		cb := t.onConn
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

// Close marks this end closed and invokes its OnClose hook. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cb := m.onClose
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

var (
	_ rpc.Transport       = (*Memory)(nil)
	_ rpc.ConnectNotifier = (*Memory)(nil)
	_ rpc.CloseNotifier   = (*Memory)(nil)
	_ rpc.ErrorNotifier   = (*Memory)(nil)
)
