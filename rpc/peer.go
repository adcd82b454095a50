package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// CallHandler answers an inbound Request addressed to a registered method
// name. Returning an error produces a Response carrying that error; if the
// error is not already an *Error it is wrapped as ErrCodeInternal.
type CallHandler func(params json.RawMessage) (interface{}, error)

type peerState int32

const (
	statePending peerState = iota
	stateConnected
)

type pendingCall struct {
	ch chan callResult
}

type callResult struct {
	value json.RawMessage
	err   error
}

// Peer is the symmetric JSON-RPC endpoint used on both sides of a
// host/script channel (§4.D). It owns request/response correlation, the
// connect-gated send queue, and inbound Request dispatch.
type Peer struct {
	transport Transport
	codec     *Codec
	events    *Dispatcher
	logger    *zap.Logger

	sendEncoding Encoding
	logConsole   int32 // atomic bool

	nextID uint64 // atomic counter, pre-increment

	mu      sync.Mutex
	state   peerState
	pending map[ID]pendingCall
	queue   []interface{} // already-encoded payloads awaiting connect
	methods map[string]CallHandler
}

// PeerOption configures a Peer at construction time.
type PeerOption func(*Peer)

// WithSendEncoding overrides the default MessagePack send encoding.
func WithSendEncoding(enc Encoding) PeerOption {
	return func(p *Peer) { p.sendEncoding = enc }
}

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) PeerOption {
	return func(p *Peer) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPeer binds a Peer to transport and wires its callbacks. If transport
// implements ConnectNotifier, the Peer waits for that callback before
// flushing its queue; otherwise it synthesizes an immediate connect (§4.C).
func NewPeer(transport Transport, opts ...PeerOption) *Peer {
	p := &Peer{
		transport:    transport,
		codec:        NewCodec(),
		events:       NewDispatcher(),
		logger:       zap.NewNop(),
		sendEncoding: EncodingMessagePack,
		pending:      make(map[ID]pendingCall),
		methods:      make(map[string]CallHandler),
	}
	for _, opt := range opts {
		opt(p)
	}

	transport.OnMessage(p.ProcessMessage)

	if cn, ok := transport.(ConnectNotifier); ok {
		cn.OnConnect(p.handleConnect)
	} else {
		p.handleConnect()
	}
	if cl, ok := transport.(CloseNotifier); ok {
		cl.OnClose(func() { p.events.Emit("transportClosed") })
	}
	if en, ok := transport.(ErrorNotifier); ok {
		en.OnError(func(err error) { p.events.Emit("error", err) })
	}

	return p
}

// On subscribes handler to name (method notifications, or the reserved
// "error"/"transportClosed"/"connected" events).
func (p *Peer) On(name string, h Handler) { p.events.On(name, h) }

// Off removes a handler previously registered with On or Once.
func (p *Peer) Off(name string, h Handler) { p.events.Off(name, h) }

// Once subscribes handler to fire at most once.
func (p *Peer) Once(name string, h Handler) { p.events.Once(name, h) }

// Emit fires name on this peer's dispatcher directly — used by higher
// layers (script.Runtime) that need to report through the same "error"
// channel as the core.
func (p *Peer) Emit(name string, args ...interface{}) { p.events.Emit(name, args...) }

// Connected reports whether the transport has reached the connected state.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateConnected
}

// HandleCall registers handler to answer inbound Requests for method.
func (p *Peer) HandleCall(method string, handler CallHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods[method] = handler
}

// RemoveCallHandler unregisters a previously registered method handler.
func (p *Peer) RemoveCallHandler(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.methods, method)
}

// SetLogging toggles a one-line log per send/receive (§4.D).
func (p *Peer) SetLogging(logConsole bool) {
	var v int32
	if logConsole {
		v = 1
	}
	atomic.StoreInt32(&p.logConsole, v)
}

// Call issues a Request for method and blocks until a Response arrives,
// ctx is done, or the call is abandoned. params must be nil or
// array/object shaped (§3); an invalid params value fails synchronously
// without touching the transport or the pending table (§8 scenario 4).
func (p *Peer) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params: %w", err)
	}

	id := p.newID()
	ch := make(chan callResult, 1)

	p.mu.Lock()
	p.pending[id] = pendingCall{ch: ch}
	p.mu.Unlock()

	env := &Envelope{JSONRPC: ProtocolVersion, ID: &id, Method: method, Params: raw}
	if err := p.send(env); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		// The pending entry is deliberately left in place: a late response
		// still resolves into the buffered channel, and a caller that
		// abandoned the wait simply never reads it (§5).
		return nil, ctx.Err()
	}
}

// Notify issues a one-way Request with no id and no expected reply. Same
// params validation as Call.
func (p *Peer) Notify(method string, params interface{}) error {
	if err := validateParams(params); err != nil {
		return err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("rpc: marshal params: %w", err)
	}
	env := &Envelope{JSONRPC: ProtocolVersion, Method: method, Params: raw}
	return p.send(env)
}

// ProcessMessage is the Transport's entry point for inbound payloads
// (§4.D). It decodes the payload and routes it to a pending resolver, a
// notification's subscribers, or an inbound-Request handler.
func (p *Peer) ProcessMessage(raw interface{}) {
	env, err := p.codec.Decode(raw)
	if err != nil {
		p.events.Emit("error", fmt.Errorf("rpc: decode: %w", err))
		return
	}
	p.logTraffic("<--", raw)

	switch {
	case env.IsResponse():
		p.handleResponse(env)
	case env.IsNotification():
		p.events.Emit(env.Method, paramsToArg(env.Params))
	case env.IsRequest():
		p.handleIncomingRequest(env)
	default:
		p.events.Emit("error", fmt.Errorf("rpc: envelope has neither id nor method"))
	}
}

func (p *Peer) handleResponse(env *Envelope) {
	p.mu.Lock()
	pc, ok := p.pending[*env.ID]
	if ok {
		delete(p.pending, *env.ID)
	}
	p.mu.Unlock()

	if !ok {
		p.events.Emit("error", fmt.Errorf("Response with id:%d has no pending request", uint64(*env.ID)))
		return
	}

	switch {
	case env.Error != nil:
		pc.ch <- callResult{err: env.Error}
	case env.Result != nil:
		pc.ch <- callResult{value: env.Result}
	default:
		pc.ch <- callResult{err: &Error{Code: ErrCodeParseError, Message: "response has neither result nor error"}}
	}
}

func (p *Peer) handleIncomingRequest(env *Envelope) {
	p.mu.Lock()
	handler, ok := p.methods[env.Method]
	p.mu.Unlock()

	if !ok {
		p.respondError(*env.ID, &Error{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", env.Method)})
		return
	}

	result, err := p.invokeHandler(handler, env.Params)
	if err != nil {
		p.respondError(*env.ID, toRPCError(err))
		return
	}
	p.respondResult(*env.ID, result)
}

func (p *Peer) invokeHandler(handler CallHandler, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rpc: method handler panicked: %v", r)
		}
	}()
	return handler(params)
}

func (p *Peer) respondResult(id ID, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		p.respondError(id, &Error{Code: ErrCodeInternal, Message: fmt.Sprintf("failed to marshal result: %v", err)})
		return
	}
	if string(raw) == "null" {
		raw = json.RawMessage(`null`)
	}
	env := &Envelope{JSONRPC: ProtocolVersion, ID: &id, Result: raw}
	if err := p.send(env); err != nil {
		p.events.Emit("error", err)
	}
}

func (p *Peer) respondError(id ID, rpcErr *Error) {
	env := &Envelope{JSONRPC: ProtocolVersion, ID: &id, Error: rpcErr}
	if err := p.send(env); err != nil {
		p.events.Emit("error", err)
	}
}

func (p *Peer) handleConnect() {
	p.mu.Lock()
	if p.state == stateConnected {
		p.mu.Unlock()
		return
	}
	p.state = stateConnected
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, wire := range queued {
		p.deliver(wire)
	}
	p.events.Emit("connected")
}

func (p *Peer) send(env *Envelope) error {
	wire, err := p.codec.Encode(env, p.sendEncoding)
	if err != nil {
		return fmt.Errorf("rpc: encode: %w", err)
	}

	p.mu.Lock()
	if p.state != stateConnected {
		p.queue = append(p.queue, wire)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.deliver(wire)
}

func (p *Peer) deliver(wire interface{}) error {
	p.logTraffic("-->", wire)
	return p.transport.SendMessage(wire)
}

func (p *Peer) newID() ID {
	return ID(atomic.AddUint64(&p.nextID, 1))
}

func (p *Peer) logTraffic(dir string, payload interface{}) {
	if atomic.LoadInt32(&p.logConsole) == 0 {
		return
	}
	p.logger.Info("rpc", zap.String("dir", dir), zap.Any("payload", payload))
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

func paramsToArg(params json.RawMessage) interface{} {
	if len(params) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(params, &v); err != nil {
		return nil
	}
	return v
}

func toRPCError(err error) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return &Error{Code: ErrCodeInternal, Message: err.Error()}
}
