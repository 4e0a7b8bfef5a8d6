// Package entity holds the runtime descriptors of registered entities:
// their columns, relations, struct bindings and the registry resolving
// relations between them.
package entity

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/nomnom/schema/field"
)

// Entity describes one registered domain type and its table.
type Entity struct {
	Name       string // Go type name, used in error messages.
	Table      string
	PrimaryKey string
	Type       reflect.Type
	Binding    *Binding

	registry *Registry
	mu       sync.RWMutex
	columns  map[string]Column
	order    []string
	markers  map[string]string
}

// New builds the descriptor of struct type t from its field descriptors.
// Empty table and pk select the defaults: the pluralized snake-case type
// name and "id".
func New(t reflect.Type, fields []*field.Descriptor, table, pk string) (*Entity, error) {
	binding, err := Bind(t)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = TableName(t.Name())
	}
	if pk == "" {
		pk = "id"
	}
	e := &Entity{
		Name:       t.Name(),
		Table:      table,
		PrimaryKey: pk,
		Type:       t,
		Binding:    binding,
		columns:    make(map[string]Column),
		markers:    make(map[string]string),
	}
	hasPK := false
	for _, d := range fields {
		if d.Name == pk {
			hasPK = true
		}
	}
	if !hasPK {
		e.add(&Scalar{desc: field.Int(pk).Descriptor()})
	}
	for _, d := range fields {
		if d.Err != nil {
			return nil, fmt.Errorf("entity: %s: %w", e.Name, d.Err)
		}
		if _, ok := e.columns[d.Name]; ok {
			return nil, fmt.Errorf("entity: %s: duplicate column %q", e.Name, d.Name)
		}
		if !d.IsForeignKey() {
			e.add(&Scalar{desc: d})
			continue
		}
		if d.Name == pk {
			return nil, fmt.Errorf("entity: %s: primary key %q cannot be a foreign key", e.Name, pk)
		}
		fk := &ForeignKey{
			name:     d.Name,
			column:   d.Column(),
			nullable: d.Nillable,
			forward:  true,
			owner:    e,
			ref:      d.Ref,
		}
		e.add(fk)
		if _, ok := e.columns[fk.column]; !ok {
			e.add(&Scalar{
				desc: &field.Descriptor{Name: fk.column, Optional: true, Nillable: fk.nullable},
				ref:  fk,
			})
		}
	}
	if c, ok := e.columns[pk].(*Scalar); !ok || c.ref != nil {
		return nil, fmt.Errorf("entity: %s: primary key %q must be a scalar column", e.Name, pk)
	}
	return e, nil
}

// TableName returns the default table name of a Go type name:
// "TestFoo" becomes "test_foos".
func TableName(typeName string) string {
	return inflect.Pluralize(snake(typeName))
}

func (e *Entity) add(c Column) {
	e.columns[c.Name()] = c
	e.order = append(e.order, c.Name())
}

// Column returns the column named name.
func (e *Entity) Column(name string) (Column, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.columns[name]; ok {
		return c, nil
	}
	return nil, UnknownColumn(e.Name, name)
}

// PK returns the primary key column.
func (e *Entity) PK() *Scalar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.columns[e.PrimaryKey].(*Scalar)
}

// Scalars returns the stored non-relation columns in declaration order.
func (e *Entity) Scalars() []*Scalar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var cols []*Scalar
	for _, name := range e.order {
		if c, ok := e.columns[name].(*Scalar); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// Relations returns the forward foreign keys in declaration order.
func (e *Entity) Relations() []*ForeignKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var fks []*ForeignKey
	for _, name := range e.order {
		if fk, ok := e.columns[name].(*ForeignKey); ok && fk.forward {
			fks = append(fks, fk)
		}
	}
	return fks
}

// KeyOf returns the primary key of obj, an instance of the entity type or
// a string keyed map holding the key.
func (e *Entity) KeyOf(obj any) (any, bool) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Kind() != reflect.Map && rv.Type() != e.Type {
		return nil, false
	}
	return e.Binding.Get(obj, e.PrimaryKey)
}

// Mark attaches a named marker to the entity. Decorators use markers to
// find each other's configuration through relations.
func (e *Entity) Mark(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markers[key] = value
}

// Marker returns the marker stored under key.
func (e *Entity) Marker(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.markers[key]
	return v, ok
}

// installReverse adds the reverse side of fk to e, the target of fk.
// The relation is named after the source table, or after the source table
// and fk when that name is taken, as it is for the second of two relations
// between the same entities.
func (e *Entity) installReverse(fk *ForeignKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := fk.owner.Table
	if _, ok := e.columns[name]; ok {
		name = fk.owner.Table + "_" + fk.name
	}
	if _, ok := e.columns[name]; ok {
		return fmt.Errorf("entity: %s: reverse relation %q of %s.%s collides with an existing column", e.Name, name, fk.owner.Name, fk.name)
	}
	e.columns[name] = &ForeignKey{
		name:     name,
		column:   e.columns[e.PrimaryKey].Column(),
		remote:   fk.column,
		nullable: true,
		owner:    e,
		ref:      fk.owner.Type,
		target:   fk.owner,
	}
	e.order = append(e.order, name)
	return nil
}
