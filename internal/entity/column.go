package entity

import (
	"fmt"
	"reflect"

	"github.com/syssam/nomnom/schema/field"
)

// Column is a mapped attribute of an entity. The set of implementations
// is closed: *Scalar and *ForeignKey.
type Column interface {
	// Name is the logical name used in filters and payloads.
	Name() string
	// Column is the physical column name.
	Column() string
	Nullable() bool
	// Validate runs the data validator on a value destined for storage.
	Validate(v any) error
	// ValidateQuery runs the validator selected by op on a WHERE value.
	ValidateQuery(op Op, v any) error
	// EncodeQuery converts a single WHERE value to its storage form.
	EncodeQuery(v any) (any, error)

	isColumn()
}

// Scalar is a plain stored column. Scalars derived from a forward foreign
// key (e.g. node_id) validate and decode through the target primary key.
type Scalar struct {
	desc *field.Descriptor
	ref  *ForeignKey
}

func (*Scalar) isColumn() {}

// Name implements Column.
func (s *Scalar) Name() string { return s.desc.Name }

// Column implements Column.
func (s *Scalar) Column() string { return s.desc.Column() }

// Nullable implements Column.
func (s *Scalar) Nullable() bool { return s.desc.Nillable }

// Optional reports if the column may be omitted on create.
func (s *Scalar) Optional() bool {
	_, hasDefault := s.desc.DefaultValue()
	return s.desc.Optional || hasDefault
}

// Descriptor returns the field descriptor of the column.
func (s *Scalar) Descriptor() *field.Descriptor { return s.desc }

// Relation returns the forward foreign key this column stores, if any.
func (s *Scalar) Relation() *ForeignKey { return s.ref }

// Validate implements Column.
func (s *Scalar) Validate(v any) error {
	if s.ref != nil {
		return s.ref.validateKey(v)
	}
	return s.desc.Validate(v)
}

// ValidateQuery implements Column.
func (s *Scalar) ValidateQuery(op Op, v any) error {
	return checkOp(op, v, s.Validate, s.checkType)
}

// checkType checks v against the column type without running the
// validators of stored values.
func (s *Scalar) checkType(v any) error {
	if s.ref != nil {
		return s.ref.checkKeyType(v)
	}
	v = field.Indirect(v)
	if v == nil {
		return field.ErrNull
	}
	return s.desc.Type.Check(v)
}

// Encode converts a data value to its storage form.
func (s *Scalar) Encode(v any) (any, error) {
	if s.ref != nil {
		return s.ref.encodeKey(v, false)
	}
	return s.desc.Encode(v)
}

// EncodeQuery implements Column.
func (s *Scalar) EncodeQuery(v any) (any, error) {
	if s.ref != nil {
		return s.ref.encodeKey(v, true)
	}
	return s.desc.EncodeQuery(v)
}

// Decode converts a storage value to its application form.
func (s *Scalar) Decode(v any) (any, error) {
	if s.ref != nil {
		pk, err := s.ref.targetKey()
		if err != nil {
			return nil, err
		}
		return pk.Decode(v)
	}
	return s.desc.Decode(v)
}

// ForeignKey is a relation between two entities. Forward keys are owned by
// the entity storing the key column; reverse keys are installed on the
// target to allow queries from the referenced side and are never written.
type ForeignKey struct {
	name     string
	column   string
	remote   string // set on reverse keys only.
	nullable bool
	forward  bool
	owner    *Entity
	ref      reflect.Type
	target   *Entity // set on reverse keys only.
}

func (*ForeignKey) isColumn() {}

// Name implements Column.
func (f *ForeignKey) Name() string { return f.name }

// Column implements Column. For reverse keys it is the owner's primary key
// column.
func (f *ForeignKey) Column() string { return f.column }

// Nullable implements Column.
func (f *ForeignKey) Nullable() bool { return f.nullable }

// Forward reports if the owner stores the key column.
func (f *ForeignKey) Forward() bool { return f.forward }

// Owner returns the entity the key is declared on.
func (f *ForeignKey) Owner() *Entity { return f.owner }

// Target resolves the entity on the other side of the relation.
func (f *ForeignKey) Target() (*Entity, error) {
	if f.target != nil {
		return f.target, nil
	}
	if f.owner.registry != nil {
		if e, ok := f.owner.registry.Lookup(f.ref); ok {
			return e, nil
		}
	}
	return nil, NotRegistered(f.owner.Name, f.ref.Name())
}

// RemoteColumn returns the column on the target the key is joined to.
func (f *ForeignKey) RemoteColumn() (string, error) {
	if !f.forward {
		return f.remote, nil
	}
	target, err := f.Target()
	if err != nil {
		return "", err
	}
	return target.PK().Column(), nil
}

// Validate implements Column. Values are target objects, maps holding the
// target primary key, or raw key values.
func (f *ForeignKey) Validate(v any) error {
	return f.validateKey(v)
}

// ValidateQuery implements Column.
func (f *ForeignKey) ValidateQuery(op Op, v any) error {
	return checkOp(op, v, f.validateKey, f.checkKeyType)
}

func (f *ForeignKey) checkKeyType(v any) error {
	key, err := f.Key(v)
	if err != nil {
		return err
	}
	pk, err := f.targetKey()
	if err != nil {
		return err
	}
	return pk.checkType(key)
}

// EncodeQuery implements Column.
func (f *ForeignKey) EncodeQuery(v any) (any, error) {
	return f.encodeKey(v, true)
}

// Key extracts the referenced primary key from a target object. Raw key
// values are returned unchanged.
func (f *ForeignKey) Key(v any) (any, error) {
	v = field.Indirect(v)
	if v == nil {
		return nil, nil
	}
	target, err := f.Target()
	if err != nil {
		return nil, err
	}
	if key, ok := target.KeyOf(v); ok {
		return field.Indirect(key), nil
	}
	if isObject(v) {
		return nil, fmt.Errorf("expected a %s or its primary key, got %T", target.Name, v)
	}
	return v, nil
}

func (f *ForeignKey) targetKey() (*Scalar, error) {
	target, err := f.Target()
	if err != nil {
		return nil, err
	}
	return target.PK(), nil
}

func (f *ForeignKey) validateKey(v any) error {
	key, err := f.Key(v)
	if err != nil {
		return err
	}
	if key == nil {
		if f.nullable {
			return nil
		}
		return field.ErrNull
	}
	pk, err := f.targetKey()
	if err != nil {
		return err
	}
	return pk.Validate(key)
}

func (f *ForeignKey) encodeKey(v any, query bool) (any, error) {
	key, err := f.Key(v)
	if err != nil || key == nil {
		return nil, err
	}
	pk, err := f.targetKey()
	if err != nil {
		return nil, err
	}
	if query {
		return pk.EncodeQuery(key)
	}
	return pk.Encode(key)
}

// isObject reports if v is a struct or map that is not a plain value type.
func isObject(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return true
	case reflect.Struct:
		_, known := valueStructs[rv.Type()]
		return !known
	}
	return false
}

var (
	_ Column = (*Scalar)(nil)
	_ Column = (*ForeignKey)(nil)
)
