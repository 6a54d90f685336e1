package mio

import "sync"

// objectRegistry is a loop's id→*Object handle table, the concrete form of
// spec.md §6's "integer→pointer map" external-collaborator interface.
// Unlike the teacher's weak-pointer promise registry (objects here are
// always explicitly destroyed via Object.Destroy, never garbage-collected
// out from under the loop), entries are removed synchronously on
// destruction rather than scavenged; the incrementing-handle allocation
// pattern is kept from the teacher's registry.
type objectRegistry struct {
	mu     sync.RWMutex
	data   map[uint64]*Object
	nextID uint64
}

func newObjectRegistry() *objectRegistry {
	return &objectRegistry{
		data:   make(map[uint64]*Object),
		nextID: 1, // 0 is reserved as the null handle
	}
}

// Add assigns a new handle to o and registers it.
func (r *objectRegistry) Add(o *Object) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.data[id] = o
	return id
}

// Remove drops the handle.
func (r *objectRegistry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
}

// Get looks up an object by handle.
func (r *objectRegistry) Get(id uint64) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.data[id]
	return o, ok
}

// Len reports the number of registered objects.
func (r *objectRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Each calls fn for every registered object. fn must not mutate the
// registry.
func (r *objectRegistry) Each(fn func(id uint64, o *Object)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, o := range r.data {
		fn(id, o)
	}
}
