// Package plugin provides the minimal host-side wiring needed to expose a
// named plugin's methods on a Peer and answer the LoadComponents handshake.
// It deliberately does not attempt reflection- or tag-based method
// discovery (the plugin-authoring surface is out of scope, §1); callers
// register each method explicitly, mirroring the wire-facing handler map
// the gateway's capabilities build by hand.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// Method answers one RPC addressed to a Plugin.
type Method func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Plugin is a named collection of methods and events offered to a peer
// (Glossary: Capability). It is a thin convenience wrapper over
// Peer.HandleCall, not a dispatch framework.
type Plugin struct {
	Name string

	mu      sync.Mutex
	methods map[string]Method
}

// New creates an empty Plugin named name.
func New(name string) *Plugin {
	return &Plugin{Name: name, methods: make(map[string]Method)}
}

// Handle declares method as callable on this plugin. Returns p so calls
// can be chained.
func (p *Plugin) Handle(method string, fn Method) *Plugin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods[method] = fn
	return p
}

// Register wires every declared method onto peer under
// "Name.method" (§6's method-naming convention), using ctx as the base
// context every handler invocation is given.
func (p *Plugin) Register(peer *rpc.Peer, ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, fn := range p.methods {
		wireName := p.Name + "." + name
		handler := fn
		peer.HandleCall(wireName, func(params json.RawMessage) (interface{}, error) {
			return handler(ctx, params)
		})
	}
}

// Notify emits a notification for event under "Name.event", the same
// convention the host uses for method calls (§6).
func (p *Plugin) Notify(peer *rpc.Peer, event string, params interface{}) error {
	return peer.Notify(fmt.Sprintf("%s.%s", p.Name, event), params)
}

// Host tracks which plugin names a peer can serve and answers the reserved
// LoadComponents handshake (§6): it rejects with MethodNotFound if any
// requested name is unknown, and otherwise echoes the requested names (the
// response body itself is ignored by the script core, which synthesizes
// stubs client-side).
type Host struct {
	peer *rpc.Peer

	mu    sync.Mutex
	known map[string]bool
}

// NewHost registers the LoadComponents handler on peer.
func NewHost(peer *rpc.Peer) *Host {
	h := &Host{peer: peer, known: make(map[string]bool)}
	peer.HandleCall("LoadComponents", h.handleLoadComponents)
	return h
}

// Expose registers plugin's methods on the host peer and marks its name as
// loadable via LoadComponents.
func (h *Host) Expose(plugin *Plugin, ctx context.Context) {
	plugin.Register(h.peer, ctx)
	h.mu.Lock()
	h.known[plugin.Name] = true
	h.mu.Unlock()
}

func (h *Host) handleLoadComponents(params json.RawMessage) (interface{}, error) {
	var args [][]string
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, &rpc.Error{
			Code:    rpc.ErrCodeInvalidParams,
			Message: "LoadComponents expects a single array-of-names argument",
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range args[0] {
		if !h.known[name] {
			return nil, &rpc.Error{
				Code:    rpc.ErrCodeMethodNotFound,
				Message: fmt.Sprintf("unknown plugin: %s", name),
			}
		}
	}
	return args[0], nil
}
