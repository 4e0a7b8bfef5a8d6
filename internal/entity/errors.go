package entity

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError is a validation failure of one key of a filter or data payload.
type FieldError struct {
	Key string
	Err error
}

// Error returns the error string.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error { return e.Err }

// FieldErrors collects the validation failures of one statement.
type FieldErrors []*FieldError

// Error returns the error string.
func (e FieldErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add appends a failure for key if err is not nil.
func (e *FieldErrors) Add(key string, err error) {
	if err != nil {
		*e = append(*e, &FieldError{Key: key, Err: err})
	}
}

// Err returns the collected failures, or nil.
func (e FieldErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// SchemaError reports a reference to an unknown column, a column that
// cannot be joined through, or an unregistered relation target.
type SchemaError struct {
	Model string
	Msg   string
}

// Error returns the error string.
func (e *SchemaError) Error() string { return e.Msg }

// UnknownColumn returns the error for a column missing from the model.
func UnknownColumn(model, name string) *SchemaError {
	return &SchemaError{Model: model, Msg: fmt.Sprintf("%q is not a valid column on %s.", name, model)}
}

// NotJoinable returns the error for a path segment that is not a relation.
func NotJoinable(model, name string) *SchemaError {
	return &SchemaError{Model: model, Msg: fmt.Sprintf("`%s` is not a join-able column", name)}
}

// NotRegistered returns the error for a relation whose target has no
// registered entity.
func NotRegistered(model, target string) *SchemaError {
	return &SchemaError{Model: model, Msg: fmt.Sprintf("No DAO registered for `%s`", target)}
}

// ErrRequired is reported for a required field missing from a create payload.
var ErrRequired = errors.New("value is required")
