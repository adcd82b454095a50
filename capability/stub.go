// Package capability synthesizes local proxies for plugins exposed by the
// remote peer (§4.E): calling a stub method issues an RPC against that
// plugin, and subscribing to an "onXxx"-style property subscribes to the
// matching wire notification.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// eventPrefix is the property-name prefix that marks a stub accessor as an
// event subscription rather than a method call (§4.E).
const eventPrefix = "on"

// ErrInvalidPluginName is the caller-misuse error for an empty plugin name
// passed to NewStub, Factory.Stub, or an injection slot (§7 category 1).
var ErrInvalidPluginName = errors.New("capability: plugin name must not be empty")

// Stub is a local proxy for one named plugin offered by a peer. Go has no
// dynamic property interception, so per §9's "stub synthesis" note this is
// the concrete, degraded form: explicit Call/Notify/On/Off methods rather
// than a property-access trap.
type Stub struct {
	peer       *rpc.Peer
	pluginName string

	mu       sync.Mutex
	wrappers map[string][]rpc.Handler // eventSuffix -> wired handlers subscribed through On
}

// NewStub returns a proxy for pluginName bound to peer. pluginName must be
// non-empty; an empty name is caller misuse (§7 category 1) and panics
// rather than surfacing as a wire-level or remote error.
func NewStub(peer *rpc.Peer, pluginName string) *Stub {
	if pluginName == "" {
		panic(ErrInvalidPluginName)
	}
	return &Stub{peer: peer, pluginName: pluginName, wrappers: make(map[string][]rpc.Handler)}
}

// PluginName reports the plugin this stub proxies.
func (s *Stub) PluginName() string { return s.pluginName }

// Call issues an RPC for method against this plugin, wrapping args as the
// positional-argument array the wire convention expects (§8 scenario 1),
// and blocks for the result.
func (s *Stub) Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	return s.peer.Call(ctx, s.wireMethod(method), argsToParams(args))
}

// Notify issues a one-way RPC for method against this plugin.
func (s *Stub) Notify(method string, args ...interface{}) error {
	return s.peer.Notify(s.wireMethod(method), argsToParams(args))
}

// On treats property as an "onXxx" event accessor and subscribes handler to
// the matching wire notification: pluginName + "." + eventSuffix, the
// resolved convention from §9.
func (s *Stub) On(property string, handler func(args ...interface{})) error {
	suffix, ok := eventSuffix(property)
	if !ok {
		return fmt.Errorf("capability: %q is not an event-subscribing property (must start with %q)", property, eventPrefix)
	}
	wired := rpc.Handler(handler)
	s.peer.On(s.wireMethod(suffix), wired)

	s.mu.Lock()
	s.wrappers[suffix] = append(s.wrappers[suffix], wired)
	s.mu.Unlock()
	return nil
}

// Off removes a handler previously subscribed through On.
func (s *Stub) Off(property string, handler func(args ...interface{})) {
	suffix, ok := eventSuffix(property)
	if !ok {
		return
	}
	s.peer.Off(s.wireMethod(suffix), rpc.Handler(handler))
}

func (s *Stub) wireMethod(name string) string {
	return s.pluginName + "." + name
}

func eventSuffix(property string) (string, bool) {
	if !strings.HasPrefix(property, eventPrefix) || len(property) <= len(eventPrefix) {
		return "", false
	}
	return property[len(eventPrefix):], true
}

func argsToParams(args []interface{}) []interface{} {
	if args == nil {
		return []interface{}{}
	}
	return args
}

// Factory memoizes one Stub per plugin name for a given peer, matching the
// "produced lazily... same stub object returned" contract of §4.E.
type Factory struct {
	peer *rpc.Peer

	mu    sync.Mutex
	stubs map[string]*Stub
}

// NewFactory returns a Factory producing stubs bound to peer.
func NewFactory(peer *rpc.Peer) *Factory {
	return &Factory{peer: peer, stubs: make(map[string]*Stub)}
}

// Stub returns the memoized proxy for pluginName, creating it on first
// access.
func (f *Factory) Stub(pluginName string) *Stub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stubs[pluginName]; ok {
		return s
	}
	s := NewStub(f.peer, pluginName)
	f.stubs[pluginName] = s
	return s
}

// Call is the fully degraded stub-synthesis form called out by §9: issue a
// single RPC against pluginName.method without holding onto a Stub.
func Call(ctx context.Context, peer *rpc.Peer, pluginName, method string, args ...interface{}) (json.RawMessage, error) {
	return NewStub(peer, pluginName).Call(ctx, method, args...)
}
