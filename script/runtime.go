// Package script specializes rpc.Peer with the capability-loading handshake
// and the injection mechanism a script uses to populate its declared
// capability slots before systemDidEnable runs (§4.F).
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/telestoworld/telestoworld-rpc/capability"
	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// loadComponentsMethod is the reserved handshake method name (§6).
const loadComponentsMethod = "LoadComponents"

// Runtime extends a Peer with loadAPIs, injection, and the systemDidEnable
// lifecycle hook.
type Runtime struct {
	peer    *rpc.Peer
	factory *capability.Factory

	mu         sync.Mutex
	loadedAPIs map[string]*capability.Stub

	enableOnce sync.Once
}

// NewRuntime wraps peer with the script-side capability loader.
func NewRuntime(peer *rpc.Peer) *Runtime {
	return &Runtime{
		peer:       peer,
		factory:    capability.NewFactory(peer),
		loadedAPIs: make(map[string]*capability.Stub),
	}
}

// Peer returns the underlying peer.
func (r *Runtime) Peer() *rpc.Peer { return r.peer }

// LoadAPIs resolves names into capability stubs, issuing a single batched
// LoadComponents call for whatever in names isn't already loaded (§4.F,
// §8 scenario 6). Previously loaded names are never re-requested.
func (r *Runtime) LoadAPIs(ctx context.Context, names []string) (map[string]*capability.Stub, error) {
	r.mu.Lock()
	var missing []string
	for _, name := range names {
		if _, ok := r.loadedAPIs[name]; !ok {
			missing = append(missing, name)
		}
	}
	r.mu.Unlock()

	if len(missing) > 0 {
		if _, err := r.peer.Call(ctx, loadComponentsMethod, []interface{}{missing}); err != nil {
			return nil, fmt.Errorf("script: LoadComponents: %w", err)
		}
		r.mu.Lock()
		for _, name := range missing {
			r.loadedAPIs[name] = r.factory.Stub(name)
		}
		r.mu.Unlock()
	}

	result := make(map[string]*capability.Stub, len(names))
	r.mu.Lock()
	for _, name := range names {
		result[name] = r.loadedAPIs[name]
	}
	r.mu.Unlock()
	return result, nil
}

// InjectionDescriptor declares which capability names must populate which
// named slots of a script instance before systemDidEnable runs (§3, §9).
type InjectionDescriptor struct {
	slots map[string]string // slot name -> plugin name
}

// NewInjectionDescriptor returns an empty descriptor.
func NewInjectionDescriptor() *InjectionDescriptor {
	return &InjectionDescriptor{slots: make(map[string]string)}
}

// Require declares that slot must be populated with pluginName's stub
// before the script instance starts running. slot and pluginName must be
// non-empty; an empty one is caller misuse (§7 category 1) and panics
// immediately rather than failing later at LoadComponents time. Returns the
// descriptor so calls can be chained.
func (d *InjectionDescriptor) Require(slot, pluginName string) *InjectionDescriptor {
	if slot == "" {
		panic(errors.New("script: injection slot name must not be empty"))
	}
	if pluginName == "" {
		panic(capability.ErrInvalidPluginName)
	}
	d.slots[slot] = pluginName
	return d
}

func (d *InjectionDescriptor) pluginNames() []string {
	seen := make(map[string]struct{}, len(d.slots))
	names := make([]string, 0, len(d.slots))
	for _, name := range d.slots {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// SlotSetter writes a resolved capability stub into a script instance's
// named slot.
type SlotSetter func(stub *capability.Stub)

// Inject resolves every slot in descriptor via a single batched LoadAPIs
// call and invokes the matching setter with the result.
func (r *Runtime) Inject(ctx context.Context, descriptor *InjectionDescriptor, setters map[string]SlotSetter) error {
	if descriptor == nil || len(descriptor.slots) == 0 {
		return nil
	}
	apis, err := r.LoadAPIs(ctx, descriptor.pluginNames())
	if err != nil {
		return err
	}
	for slot, pluginName := range descriptor.slots {
		setter, ok := setters[slot]
		if !ok {
			continue
		}
		setter(apis[pluginName])
	}
	return nil
}

// Start resolves descriptor's injected capabilities (if any), waits for the
// transport to report connect, and then invokes systemDidEnable exactly
// once (§4.F). A panic or error from the hook is routed to the peer's
// "error" event rather than propagated. Start returns immediately; the
// work runs on its own goroutine.
func (r *Runtime) Start(ctx context.Context, descriptor *InjectionDescriptor, setters map[string]SlotSetter, systemDidEnable func(ctx context.Context) error) {
	go func() {
		if descriptor != nil && len(descriptor.slots) > 0 {
			// Resolving LoadAPIs requires a round trip, so its completion
			// already implies the transport is connected.
			if err := r.Inject(ctx, descriptor, setters); err != nil {
				r.peer.Emit("error", err)
				return
			}
		} else if err := r.waitConnected(ctx); err != nil {
			return
		}
		r.enableOnce.Do(func() { r.runHook(ctx, systemDidEnable) })
	}()
}

// waitConnected blocks until the peer is connected or ctx is done. It
// subscribes to "connected" before checking Connected(), so a connect that
// happens between the two is still observed.
func (r *Runtime) waitConnected(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	r.peer.On("connected", func(...interface{}) { once.Do(func() { close(done) }) })
	if r.peer.Connected() {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) runHook(ctx context.Context, hook func(ctx context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.peer.Emit("error", fmt.Errorf("script: systemDidEnable panicked: %v", rec))
		}
	}()
	if hook == nil {
		return
	}
	if err := hook(ctx); err != nil {
		r.peer.Emit("error", fmt.Errorf("script: systemDidEnable: %w", err))
	}
}
