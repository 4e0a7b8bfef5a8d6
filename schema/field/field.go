package field

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Type is the storage kind of a field.
type Type uint8

// Field types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeTime
	TypeBytes
	TypeUUID
	TypeULID
	TypeDecimal
	TypeAny
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeString:  "string",
	TypeTime:    "time",
	TypeBytes:   "bytes",
	TypeUUID:    "uuid",
	TypeULID:    "ulid",
	TypeDecimal: "decimal",
	TypeAny:     "any",
}

// String returns the name of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// Numeric reports if the type holds numbers.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeDecimal
}

// Field is implemented by the field builders.
type Field interface {
	Descriptor() *Descriptor
}

// A Descriptor holds the configuration of one field.
type Descriptor struct {
	Name       string // logical name.
	StorageKey string // physical column name, if it differs from the default.
	Type       Type   // storage kind, TypeInvalid for foreign keys.
	Optional   bool   // may be omitted on create.
	Nillable   bool   // accepts NULL.
	Default    any    // default value, or a func() any.
	Validators []func(any) error
	Tag        string       // go-playground/validator tag.
	Codec      Codec        // nil means identity.
	Ref        reflect.Type // target struct type of a foreign key.
	Err        error        // first construction error.
}

// IsForeignKey reports if the descriptor marks a foreign key.
func (d *Descriptor) IsForeignKey() bool { return d.Ref != nil }

// Column returns the physical column name.
func (d *Descriptor) Column() string {
	switch {
	case d.StorageKey != "":
		return d.StorageKey
	case d.IsForeignKey():
		return d.Name + "_id"
	default:
		return d.Name
	}
}

// DefaultValue returns the default value of the field, calling the
// default function if one was given.
func (d *Descriptor) DefaultValue() (any, bool) {
	switch v := d.Default.(type) {
	case nil:
		return nil, false
	case func() any:
		return v(), true
	default:
		return v, true
	}
}

// Validate runs the data validator of the field on v.
func (d *Descriptor) Validate(v any) error {
	v = Indirect(v)
	if v == nil {
		if d.Nillable {
			return nil
		}
		return ErrNull
	}
	if err := d.Type.Check(v); err != nil {
		return err
	}
	for _, fn := range d.Validators {
		if err := fn(v); err != nil {
			return err
		}
	}
	if d.Tag != "" {
		if err := validateTag(v, d.Tag); err != nil {
			return err
		}
	}
	return nil
}

// Encode converts an application value to its storage form.
func (d *Descriptor) Encode(v any) (any, error) {
	v, err := d.Type.Normalize(Indirect(v))
	if err != nil || d.Codec == nil {
		return v, err
	}
	return d.Codec.Encode(v)
}

// EncodeQuery converts a value used in a WHERE comparison.
func (d *Descriptor) EncodeQuery(v any) (any, error) {
	v, err := d.Type.Normalize(Indirect(v))
	if err != nil || d.Codec == nil {
		return v, err
	}
	return d.Codec.EncodeQuery(v)
}

// Decode converts a storage value to its application form.
func (d *Descriptor) Decode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if d.Codec != nil {
		var err error
		if v, err = d.Codec.Decode(v); err != nil {
			return nil, err
		}
	}
	return d.Type.Decode(v)
}

// ErrNull is returned when NULL is given to a field that is not nillable.
var ErrNull = errors.New("value must not be null")

// Builder is the builder for scalar fields.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// Bool returns a new boolean field.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Int returns a new integer field.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Float returns a new floating point field.
func Float(name string) *Builder { return newBuilder(name, TypeFloat) }

// String returns a new string field.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Time returns a new timestamp field.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// Bytes returns a new binary field.
func Bytes(name string) *Builder { return newBuilder(name, TypeBytes) }

// UUID returns a new uuid field. Values are google/uuid UUIDs or their
// string form.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// ULID returns a new ULID field stored as its 26 character string form.
func ULID(name string) *Builder { return newBuilder(name, TypeULID) }

// Decimal returns a new arbitrary precision numeric field.
func Decimal(name string) *Builder { return newBuilder(name, TypeDecimal) }

// Any returns a field that accepts any value.
func Any(name string) *Builder { return newBuilder(name, TypeAny) }

// Optional allows the field to be omitted on create.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Nillable allows the field to hold NULL.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	return b
}

// StorageKey sets the physical column name.
func (b *Builder) StorageKey(key string) *Builder {
	b.desc.StorageKey = key
	return b
}

// Default sets the value used when the field is omitted on create.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a function called for every create that omits the field.
func (b *Builder) DefaultFunc(fn func() any) *Builder {
	b.desc.Default = fn
	return b
}

// Validate adds a custom validator.
func (b *Builder) Validate(fn func(any) error) *Builder {
	b.desc.Validators = append(b.desc.Validators, fn)
	return b
}

// Tag adds a go-playground/validator tag, e.g. "email" or "min=3,max=10".
func (b *Builder) Tag(tag string) *Builder {
	b.desc.Tag = tag
	return b
}

// Codec sets the encode/decode hooks of the field.
func (b *Builder) Codec(c Codec) *Builder {
	b.desc.Codec = c
	return b
}

// NotEmpty requires a non-empty string or byte slice.
func (b *Builder) NotEmpty() *Builder {
	return b.length("NotEmpty", func(n int) error {
		if n == 0 {
			return errors.New("value must not be empty")
		}
		return nil
	})
}

// MinLen requires a string of at least i runes.
func (b *Builder) MinLen(i int) *Builder {
	return b.length("MinLen", func(n int) error {
		if n < i {
			return fmt.Errorf("value is less than the required length %d", i)
		}
		return nil
	})
}

// MaxLen requires a string of at most i runes.
func (b *Builder) MaxLen(i int) *Builder {
	return b.length("MaxLen", func(n int) error {
		if n > i {
			return fmt.Errorf("value is greater than the required length %d", i)
		}
		return nil
	})
}

// Match requires a string matching re.
func (b *Builder) Match(re *regexp.Regexp) *Builder {
	if b.desc.Type != TypeString {
		return b.fail("Match", nil)
	}
	return b.Validate(func(v any) error {
		if !re.MatchString(reflect.ValueOf(v).String()) {
			return fmt.Errorf("value does not match validation %q", re)
		}
		return nil
	})
}

// Min requires a number greater than or equal to i.
func (b *Builder) Min(i float64) *Builder {
	return b.number("Min", func(f decimal.Decimal) error {
		if f.LessThan(decimal.NewFromFloat(i)) {
			return fmt.Errorf("value out of range, must be >= %v", i)
		}
		return nil
	})
}

// Max requires a number less than or equal to i.
func (b *Builder) Max(i float64) *Builder {
	return b.number("Max", func(f decimal.Decimal) error {
		if f.GreaterThan(decimal.NewFromFloat(i)) {
			return fmt.Errorf("value out of range, must be <= %v", i)
		}
		return nil
	})
}

// Range requires a number in [i, j].
func (b *Builder) Range(i, j float64) *Builder {
	return b.Min(i).Max(j)
}

// Positive requires a number greater than zero.
func (b *Builder) Positive() *Builder {
	return b.number("Positive", func(f decimal.Decimal) error {
		if !f.IsPositive() {
			return errors.New("value must be positive")
		}
		return nil
	})
}

// Descriptor implements the Field interface.
func (b *Builder) Descriptor() *Descriptor { return b.desc }

func (b *Builder) length(name string, check func(int) error) *Builder {
	if b.desc.Type != TypeString && b.desc.Type != TypeBytes {
		return b.fail(name, nil)
	}
	return b.Validate(func(v any) error {
		if bs, ok := v.([]byte); ok {
			return check(len(bs))
		}
		return check(utf8.RuneCountInString(reflect.ValueOf(v).String()))
	})
}

func (b *Builder) number(name string, check func(decimal.Decimal) error) *Builder {
	if !b.desc.Type.Numeric() {
		return b.fail(name, nil)
	}
	return b.Validate(func(v any) error {
		d, err := toDecimal(v)
		if err != nil {
			return err
		}
		return check(d)
	})
}

func (b *Builder) fail(validator string, err error) *Builder {
	if b.desc.Err == nil {
		b.desc.Err = fmt.Errorf("field %q: %s is not supported by %s fields", b.desc.Name, validator, b.desc.Type)
		if err != nil {
			b.desc.Err = fmt.Errorf("field %q: %w", b.desc.Name, err)
		}
	}
	return b
}

// ForeignKeyBuilder is the builder for foreign key fields.
type ForeignKeyBuilder struct {
	desc *Descriptor
}

// ForeignKey returns a foreign key field referencing the entity
// registered for T. T may be given as a struct or a pointer to one.
func ForeignKey[T any](name string) *ForeignKeyBuilder {
	ref := reflect.TypeFor[T]()
	for ref.Kind() == reflect.Pointer {
		ref = ref.Elem()
	}
	desc := &Descriptor{Name: name, Ref: ref}
	if ref.Kind() != reflect.Struct {
		desc.Err = fmt.Errorf("field %q: foreign key target must be a struct, got %s", name, ref)
	}
	return &ForeignKeyBuilder{desc: desc}
}

// Nillable allows the relation to be absent.
func (b *ForeignKeyBuilder) Nillable() *ForeignKeyBuilder {
	b.desc.Nillable = true
	b.desc.Optional = true
	return b
}

// StorageKey sets the physical column holding the referenced key.
func (b *ForeignKeyBuilder) StorageKey(key string) *ForeignKeyBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor implements the Field interface.
func (b *ForeignKeyBuilder) Descriptor() *Descriptor { return b.desc }

var (
	_ Field = (*Builder)(nil)
	_ Field = (*ForeignKeyBuilder)(nil)
)
