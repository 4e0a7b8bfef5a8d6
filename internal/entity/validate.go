package entity

import (
	"fmt"
	"reflect"
	"time"

	"github.com/syssam/nomnom/schema/field"
)

// Op is a comparison operator used in filter keys ("name:iContains").
type Op string

// Comparison operators.
const (
	OpEq          Op = "eq"
	OpNeq         Op = "neq"
	OpRaw         Op = "raw"
	OpContains    Op = "contains"
	OpStartsWith  Op = "startsWith"
	OpEndsWith    Op = "endsWith"
	OpIContains   Op = "iContains"
	OpIStartsWith Op = "iStartsWith"
	OpIEndsWith   Op = "iEndsWith"
	OpIn          Op = "in"
	OpNotIn       Op = "notIn"
	OpIsNull      Op = "isNull"
	OpLt          Op = "lt"
	OpGt          Op = "gt"
	OpLte         Op = "lte"
	OpGte         Op = "gte"
	OpRegex       Op = "regex"
)

// Valid reports if op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpRaw, OpContains, OpStartsWith, OpEndsWith,
		OpIContains, OpIStartsWith, OpIEndsWith, OpIn, OpNotIn,
		OpIsNull, OpLt, OpGt, OpLte, OpGte, OpRegex:
		return true
	}
	return false
}

// Pattern reports if op compares against a string pattern.
func (op Op) Pattern() bool {
	switch op {
	case OpContains, OpStartsWith, OpEndsWith, OpIContains, OpIStartsWith, OpIEndsWith, OpRegex:
		return true
	}
	return false
}

// checkOp selects the query validator of op. data is the column's data
// validator, used by equality and by every element of in/notIn. typed
// checks a value against the column type only, and serves the range
// operators: a bound need not satisfy the validators of stored values.
func checkOp(op Op, v any, data, typed func(any) error) error {
	if op.Pattern() {
		v = field.Indirect(v)
		if v != nil && reflect.TypeOf(v).Kind() == reflect.String {
			return nil
		}
		return fmt.Errorf("%s expects a string, got %T", op, v)
	}
	switch op {
	case OpRaw:
		return nil
	case OpIn, OpNotIn:
		elems, ok := Elements(v)
		if !ok {
			return fmt.Errorf("%s expects a list, got %T", op, v)
		}
		for i, e := range elems {
			if err := data(e); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	case OpIsNull:
		if _, ok := field.Indirect(v).(bool); !ok {
			return fmt.Errorf("isNull expects a bool, got %T", v)
		}
		return nil
	case OpLt, OpGt, OpLte, OpGte:
		iv := field.Indirect(v)
		_, isTime := iv.(time.Time)
		if !isTime && !field.IsNumber(iv) && kindOf(iv) != reflect.String {
			return fmt.Errorf("%s expects a number, a string or a time, got %T", op, v)
		}
		if err := typed(iv); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case OpEq, OpNeq:
		return data(v)
	}
	return fmt.Errorf("unknown operator %q", op)
}

func kindOf(v any) reflect.Kind {
	if v == nil {
		return reflect.Invalid
	}
	return reflect.TypeOf(v).Kind()
}

// Elements returns the elements of a slice or array value. Strings and
// byte slices are not lists.
func Elements(v any) ([]any, bool) {
	v = field.Indirect(v)
	if v == nil {
		return nil, false
	}
	if elems, ok := v.([]any); ok {
		return elems, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}
