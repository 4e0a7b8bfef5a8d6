package field

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Check reports an error if v is not a valid value of the type.
// v must not be nil.
func (t Type) Check(v any) error {
	ok := false
	switch t {
	case TypeBool:
		ok = kindOf(v) == reflect.Bool
	case TypeInt:
		ok = IsInteger(v)
	case TypeFloat:
		ok = IsNumber(v)
	case TypeString:
		ok = kindOf(v) == reflect.String
	case TypeTime:
		_, ok = v.(time.Time)
	case TypeBytes:
		_, ok = v.([]byte)
	case TypeUUID:
		switch v := v.(type) {
		case uuid.UUID:
			ok = true
		case string:
			_, err := uuid.Parse(v)
			ok = err == nil
		}
	case TypeULID:
		switch v := v.(type) {
		case ulid.ULID:
			ok = true
		case string:
			_, err := ulid.ParseStrict(v)
			ok = err == nil
		}
	case TypeDecimal:
		_, err := toDecimal(v)
		ok = err == nil
	case TypeAny:
		ok = true
	}
	if !ok {
		return fmt.Errorf("expected a %s value, got %T", t, v)
	}
	return nil
}

// Normalize converts an accepted input value to the value sent to the
// driver.
func (t Type) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeUUID:
		if s, ok := v.(string); ok {
			return uuid.Parse(s)
		}
	case TypeULID:
		switch v := v.(type) {
		case ulid.ULID:
			return v.String(), nil
		case string:
			id, err := ulid.ParseStrict(v)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
	case TypeDecimal:
		return toDecimal(v)
	}
	return v, nil
}

// Decode converts a value read from the driver to the application type.
func (t Type) Decode(v any) (any, error) {
	switch t {
	case TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	case TypeInt:
		switch v := v.(type) {
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case TypeFloat:
		switch v := v.(type) {
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case TypeBool:
		switch v := v.(type) {
		case []byte:
			return strconv.ParseBool(string(v))
		case string:
			return strconv.ParseBool(v)
		}
	case TypeUUID:
		switch v := v.(type) {
		case []byte:
			if len(v) == 16 {
				return uuid.FromBytes(v)
			}
			return uuid.ParseBytes(v)
		case string:
			return uuid.Parse(v)
		}
	case TypeULID:
		switch v := v.(type) {
		case []byte:
			if len(v) == 16 {
				var id ulid.ULID
				err := id.UnmarshalBinary(v)
				return id, err
			}
			return ulid.Parse(string(v))
		case string:
			return ulid.Parse(v)
		}
	case TypeDecimal:
		return toDecimal(v)
	}
	return v, nil
}

// Indirect dereferences pointers. A nil pointer yields nil.
func Indirect(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		return v
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// IsInteger reports if v is of an integer kind.
func IsInteger(v any) bool {
	switch kindOf(v) {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// IsNumber reports if v is an integer, a float or a decimal.
func IsNumber(v any) bool {
	if _, ok := v.(decimal.Decimal); ok {
		return true
	}
	k := kindOf(v)
	return IsInteger(v) || k == reflect.Float32 || k == reflect.Float64
}

func kindOf(v any) reflect.Kind {
	if v == nil {
		return reflect.Invalid
	}
	return reflect.TypeOf(v).Kind()
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case []byte:
		return decimal.NewFromString(string(v))
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return decimal.NewFromInt(rv.Int()), nil
	case rv.CanUint():
		return decimal.NewFromBigInt(new(big.Int).SetUint64(rv.Uint()), 0), nil
	case rv.CanFloat():
		return decimal.NewFromFloat(rv.Float()), nil
	}
	return decimal.Decimal{}, fmt.Errorf("expected a numeric value, got %T", v)
}

var (
	tagOnce      sync.Once
	tagValidator *validator.Validate
)

func validateTag(v any, tag string) error {
	tagOnce.Do(func() {
		tagValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return tagValidator.Var(v, tag)
}
