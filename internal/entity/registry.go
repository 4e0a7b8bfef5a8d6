package entity

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry binds Go types to entities. Registration happens in two
// phases: an entity resolves its forward relations against the entities
// already registered, and relations waiting on an unregistered target are
// parked until that target registers.
type Registry struct {
	mu       sync.RWMutex
	entities map[reflect.Type]*Entity
	pending  map[reflect.Type][]*ForeignKey
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[reflect.Type]*Entity),
		pending:  make(map[reflect.Type][]*ForeignKey),
	}
}

// Register adds e to the registry and installs the reverse side of every
// relation that can be resolved.
func (r *Registry) Register(e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[e.Type]; ok {
		return fmt.Errorf("entity: type %s is already registered", e.Type)
	}
	e.registry = r
	r.entities[e.Type] = e
	var parked []*ForeignKey
	for _, fk := range e.Relations() {
		if target, ok := r.entities[fk.ref]; ok {
			if err := target.installReverse(fk); err != nil {
				return r.abort(e, err)
			}
			continue
		}
		parked = append(parked, fk)
	}
	for _, fk := range r.pending[e.Type] {
		if err := e.installReverse(fk); err != nil {
			return r.abort(e, err)
		}
	}
	delete(r.pending, e.Type)
	for _, fk := range parked {
		r.pending[fk.ref] = append(r.pending[fk.ref], fk)
	}
	return nil
}

// abort unbinds an entity whose registration failed.
func (r *Registry) abort(e *Entity, err error) error {
	delete(r.entities, e.Type)
	e.registry = nil
	return err
}

// Lookup returns the entity bound to t.
func (r *Registry) Lookup(t reflect.Type) (*Entity, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[t]
	return e, ok
}

// Pending returns the number of relations waiting on t to register.
func (r *Registry) Pending(t reflect.Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending[t])
}
