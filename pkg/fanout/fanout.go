// Package fanout provides a keyed observer registry: values registered under
// a key, a snapshot to fan an event out to all of them, and first/last
// signals for reference-counted setup and teardown. It knows nothing about
// transports, which is exactly what makes it testable.
package fanout

import "sync"

// Handle identifies one registration. Removing a handle twice is a no-op.
type Handle[V any] struct {
	value V
}

// Value returns the registered value.
func (h *Handle[V]) Value() V { return h.value }

// Registry maps keys to sets of registered values. Safe for concurrent use.
type Registry[K comparable, V any] struct {
	mu   sync.RWMutex
	sets map[K]map[*Handle[V]]struct{}
}

func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{sets: make(map[K]map[*Handle[V]]struct{})}
}

// Add registers v under key. first is true when this is the key's first
// registration -- the moment shared setup (a room join, a watch) belongs to.
func (r *Registry[K, V]) Add(key K, v V) (h *Handle[V], first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[key]
	if !ok {
		set = make(map[*Handle[V]]struct{})
		r.sets[key] = set
	}
	h = &Handle[V]{value: v}
	set[h] = struct{}{}
	return h, len(set) == 1
}

// Remove deregisters h from key. last is true when the key's set became
// empty and was deleted -- the moment shared teardown belongs to. A later
// Add for the same key starts clean.
func (r *Registry[K, V]) Remove(key K, h *Handle[V]) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[key]
	if !ok {
		return false
	}
	if _, ok := set[h]; !ok {
		return false
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.sets, key)
		return true
	}
	return false
}

// Contains reports whether h is still registered under key. Delivery paths
// that captured a handle earlier use it to skip listeners torn down in the
// meantime.
func (r *Registry[K, V]) Contains(key K, h *Handle[V]) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[key]
	if !ok {
		return false
	}
	_, ok = set[h]
	return ok
}

// Count returns the number of registrations under key.
func (r *Registry[K, V]) Count(key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets[key])
}

// Values returns a snapshot of the values registered under key, safe to
// iterate while others register or deregister.
func (r *Registry[K, V]) Values(key K) []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.sets[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]V, 0, len(set))
	for h := range set {
		out = append(out, h.value)
	}
	return out
}

// Keys returns a snapshot of the keys with at least one registration.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, 0, len(r.sets))
	for k := range r.sets {
		out = append(out, k)
	}
	return out
}
