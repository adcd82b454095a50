package rpc

import (
	"fmt"
	"reflect"
	"sync"
)

// Handler receives the arguments passed to Emit for a named event.
type Handler func(args ...interface{})

// Dispatcher is a synchronous, single-process named-event pub/sub table
// (§4.A). Handlers for a given name run in registration order, on the
// calling goroutine; a panicking handler is recovered and reported via the
// "error" event instead of propagating.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler)}
}

// On registers h to run whenever name is emitted.
func (d *Dispatcher) On(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], h)
}

// Once registers h to run at most once: it removes itself before its body
// runs, so a handler that re-emits name from within itself does not see
// itself re-invoked.
func (d *Dispatcher) Once(name string, h Handler) {
	var wrapped Handler
	wrapped = func(args ...interface{}) {
		d.Off(name, wrapped)
		h(args...)
	}
	d.On(name, wrapped)
}

// Off removes the first registration of h under name, if any.
func (d *Dispatcher) Off(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := reflect.ValueOf(h).Pointer()
	list := d.handlers[name]
	for i, registered := range list {
		if reflect.ValueOf(registered).Pointer() == target {
			d.handlers[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler currently registered for name, in
// registration order, synchronously on the caller's goroutine.
func (d *Dispatcher) Emit(name string, args ...interface{}) {
	d.mu.Lock()
	list := append([]Handler(nil), d.handlers[name]...)
	d.mu.Unlock()

	for _, h := range list {
		d.invoke(name, h, args)
	}
}

func (d *Dispatcher) invoke(name string, h Handler, args []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			if name == "error" {
				// Never recurse into error handlers for an error handler's
				// own panic.
				return
			}
			d.Emit("error", fmt.Errorf("rpc: handler for %q panicked: %v", name, r))
		}
	}()
	h(args...)
}
