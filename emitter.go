package orbit

import (
	"reflect"
	"sync"
)

// Listener is a named-event callback. Emit passes its arguments through
// unchanged; listeners assert the types they expect.
type Listener func(args ...any)

type listenerEntry struct {
	fn   Listener
	ptr  uintptr
	once bool
}

// Emitter gives a component named-event registration and synchronous,
// in-order emission. Every emitting component owns its own Emitter; there is
// no ambient global dispatch. The zero value is ready to use.
//
// Listeners run on the emitting goroutine in registration order. Emit does not
// recover: a panicking listener propagates to Emit's caller. Registrations
// changed during an emission take effect on the next Emit.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*listenerEntry
}

// On registers listener for event and returns a closure that deregisters it.
func (e *Emitter) On(event string, listener Listener) func() {
	return e.register(event, listener, false)
}

// One registers listener for event and deregisters it when the event first
// fires, before the listener runs.
func (e *Emitter) One(event string, listener Listener) func() {
	return e.register(event, listener, true)
}

func (e *Emitter) register(event string, listener Listener, once bool) func() {
	entry := &listenerEntry{
		fn:   listener,
		ptr:  reflect.ValueOf(listener).Pointer(),
		once: once,
	}
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[string][]*listenerEntry)
	}
	e.listeners[event] = append(e.listeners[event], entry)
	e.mu.Unlock()
	return func() { e.remove(event, entry) }
}

// Off deregisters the first registration of listener for event. Listeners are
// matched by function identity, so the exact function registered must be
// passed.
func (e *Emitter) Off(event string, listener Listener) {
	ptr := reflect.ValueOf(listener).Pointer()
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[event]
	for i, entry := range entries {
		if entry.ptr == ptr {
			e.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (e *Emitter) remove(event string, target *listenerEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[event]
	for i, entry := range entries {
		if entry == target {
			e.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit invokes every listener registered for event, synchronously and in
// registration order, with the given arguments.
func (e *Emitter) Emit(event string, args ...any) {
	e.mu.Lock()
	entries := e.listeners[event]
	snapshot := make([]*listenerEntry, len(entries))
	copy(snapshot, entries)
	e.mu.Unlock()

	for _, entry := range snapshot {
		if entry.once {
			// Deregister before invoking so the listener fires at most once
			// even if it panics.
			e.remove(event, entry)
		}
		entry.fn(args...)
	}
}

// ListenerCount returns how many listeners are registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}
