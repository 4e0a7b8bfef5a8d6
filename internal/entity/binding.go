package entity

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// valueStructs are struct types treated as plain values, not objects.
var valueStructs = map[reflect.Type]struct{}{
	reflect.TypeFor[time.Time]():       {},
	reflect.TypeFor[decimal.Decimal](): {},
}

// Binding maps logical column names to the fields of a struct type.
// A field is named by its `db` tag, or by its snake-cased Go name.
// Fields tagged `db:"-"` are ignored.
type Binding struct {
	typ    reflect.Type
	fields map[string][]int
}

// Bind builds the binding of struct type t.
func Bind(t reflect.Type) (*Binding, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity: %s is not a struct type", t)
	}
	b := &Binding{typ: t, fields: make(map[string][]int)}
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		name := sf.Tag.Get("db")
		switch name {
		case "-":
			continue
		case "":
			name = snake(sf.Name)
		}
		if _, ok := b.fields[name]; !ok {
			b.fields[name] = sf.Index
		}
	}
	return b, nil
}

// Has reports if the struct has a field for name.
func (b *Binding) Has(name string) bool {
	_, ok := b.fields[name]
	return ok
}

// New returns a pointer to a new struct populated from attrs. Attributes
// without a matching field are ignored.
func (b *Binding) New(attrs map[string]any) (any, error) {
	p := reflect.New(b.typ)
	for name, v := range attrs {
		idx, ok := b.fields[name]
		if !ok {
			continue
		}
		if err := assign(fieldAlloc(p.Elem(), idx), v); err != nil {
			return nil, fmt.Errorf("entity: %s.%s: %w", b.typ.Name(), name, err)
		}
	}
	return p.Interface(), nil
}

// Set assigns v to the field name of obj, which must be a pointer to the
// bound struct type.
func (b *Binding) Set(obj any, name string, v any) error {
	idx, ok := b.fields[name]
	if !ok {
		return nil
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer || rv.Elem().Type() != b.typ {
		return fmt.Errorf("entity: cannot set %s on %T", name, obj)
	}
	return assign(fieldAlloc(rv.Elem(), idx), v)
}

// Get reads the value of name from obj. obj may be the bound struct, a
// pointer to it, or a map keyed by string.
func (b *Binding) Get(obj any, name string) (any, bool) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch {
	case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case rv.Type() == b.typ:
		idx, ok := b.fields[name]
		if !ok {
			return nil, false
		}
		f, err := rv.FieldByIndexErr(idx)
		if err != nil {
			return nil, false
		}
		return f.Interface(), true
	}
	return nil, false
}

// fieldAlloc returns the field at index, allocating nil embedded pointers.
func fieldAlloc(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

var scannerType = reflect.TypeFor[sql.Scanner]()

func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.SetZero()
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		if src.Kind() == reflect.Pointer && src.IsNil() {
			dst.SetZero()
			return nil
		}
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if src.Kind() == reflect.Pointer {
		if src.IsNil() {
			dst.SetZero()
			return nil
		}
		return assign(dst, src.Elem().Interface())
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(v)
	}
	if convertible(src.Type(), dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

func convertible(src, dst reflect.Type) bool {
	if !src.ConvertibleTo(dst) {
		return false
	}
	// int to string conversions yield runes, not digits.
	if dst.Kind() == reflect.String {
		switch src.Kind() {
		case reflect.String, reflect.Slice:
			return true
		}
		return false
	}
	return true
}
