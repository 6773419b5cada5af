// Package listener provides a thread-safe multicast registry used by the
// account and call managers to publish state-machine events.
package listener

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener receives events of type E.
type Listener[E any] interface {
	OnEvent(event E)
}

// Func adapts a plain function to a Listener.
type Func[E any] func(event E)

// OnEvent calls f(event).
func (f Func[E]) OnEvent(event E) { f(event) }

// Handle identifies one registration.
type Handle uint64

type entry[E any] struct {
	handle   Handle
	listener Listener[E]
}

// Registry is an insertion-ordered, duplicate-suppressing set of listeners.
//
// Dispatch delivers to a snapshot of the registrations taken when the event
// starts, and skips any registration removed before its turn. A listener may
// therefore remove itself or another listener from inside OnEvent without
// the remaining listeners being skipped or receiving the event twice.
// Listeners added during a dispatch only see later events.
type Registry[E any] struct {
	mu      sync.Mutex
	next    Handle
	entries []entry[E]
	active  map[Handle]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry[E any]() *Registry[E] {
	return &Registry[E]{active: make(map[Handle]struct{})}
}

// Add registers l. Registering the same comparable listener twice returns
// the original handle.
func (r *Registry[E]) Add(l Listener[E]) Handle {
	if l == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if isComparable(l) {
		for _, e := range r.entries {
			if sameListener(e.listener, l) {
				return e.handle
			}
		}
	}
	return r.appendLocked(l)
}

// AddFunc registers f. Each call creates a new registration since
// functions cannot be compared.
func (r *Registry[E]) AddFunc(f func(E)) Handle {
	if f == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(Func[E](f))
}

func (r *Registry[E]) appendLocked(l Listener[E]) Handle {
	if r.active == nil {
		r.active = make(map[Handle]struct{})
	}
	r.next++
	h := r.next
	// Copy on write so snapshots held by an in-flight Dispatch stay intact.
	entries := make([]entry[E], len(r.entries), len(r.entries)+1)
	copy(entries, r.entries)
	r.entries = append(entries, entry[E]{handle: h, listener: l})
	r.active[h] = struct{}{}
	return h
}

// Remove unregisters the listener with handle h. Unknown handles are ignored.
func (r *Registry[E]) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(func(e entry[E]) bool { return e.handle == h })
}

// RemoveListener unregisters a comparable listener previously passed to Add.
func (r *Registry[E]) RemoveListener(l Listener[E]) bool {
	if l == nil || !isComparable(l) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(func(e entry[E]) bool { return sameListener(e.listener, l) })
}

func (r *Registry[E]) removeLocked(match func(entry[E]) bool) bool {
	for i, e := range r.entries {
		if !match(e) {
			continue
		}
		entries := make([]entry[E], 0, len(r.entries)-1)
		entries = append(entries, r.entries[:i]...)
		entries = append(entries, r.entries[i+1:]...)
		r.entries = entries
		delete(r.active, e.handle)
		return true
	}
	return false
}

// Len returns the number of registered listeners.
func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear removes every listener.
func (r *Registry[E]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.active = make(map[Handle]struct{})
}

// Dispatch delivers event to every listener registered when the call began.
// It must not be called with any lock held that a listener might need.
func (r *Registry[E]) Dispatch(event E) {
	r.mu.Lock()
	snapshot := r.entries
	r.mu.Unlock()

	for _, e := range snapshot {
		if !r.isActive(e.handle) {
			continue
		}
		r.deliver(e, event)
	}
}

func (r *Registry[E]) isActive(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[h]
	return ok
}

func (r *Registry[E]) deliver(e entry[E], event E) {
	defer func() {
		if p := recover(); p != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Registry.Dispatch",
				"handle":   e.handle,
				"panic":    p,
			}).Error("Listener panicked during dispatch")
		}
	}()
	e.listener.OnEvent(event)
}

func isComparable(l any) bool {
	return reflect.TypeOf(l).Comparable()
}

func sameListener(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a == b
}
