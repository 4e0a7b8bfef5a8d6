package nomnom

import (
	"errors"
	"fmt"

	"github.com/syssam/nomnom/internal/entity"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when Get matches no row.
	ErrNotFound = errors.New("nomnom: object not found")

	// ErrMultipleObjects is returned when Get matches more than one row.
	ErrMultipleObjects = errors.New("nomnom: multiple objects returned")

	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("nomnom: conflict")

	// ErrMissingUpdateData is returned when an update names no writable
	// column.
	ErrMissingUpdateData = errors.New("nomnom: missing update data")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("nomnom: cannot start a transaction within a transaction")

	// ErrNoDriver is returned when neither the context nor the registry
	// provides a connection.
	ErrNoDriver = errors.New("nomnom: no driver configured")
)

type (
	// FieldError is the validation failure of one filter or data key.
	FieldError = entity.FieldError

	// SchemaError reports a reference to an unknown column, a column that
	// cannot be joined through, or a relation target without a DAO. It is
	// a programming error and is raised before any statement runs.
	SchemaError = entity.SchemaError
)

// NotFoundError is returned by Get when no row matches.
type NotFoundError struct {
	Model string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return e.Model + " not found"
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// MultipleObjectsReturnedError is returned by Get when more than one row
// matches.
type MultipleObjectsReturnedError struct {
	Model string
}

// Error returns the error string.
func (e *MultipleObjectsReturnedError) Error() string {
	return "Multiple " + e.Model + " objects returned"
}

// Is reports whether the target error matches MultipleObjectsReturnedError.
func (e *MultipleObjectsReturnedError) Is(err error) bool {
	return err == ErrMultipleObjects
}

// IsMultipleObjects returns true if the error is a
// MultipleObjectsReturnedError.
func IsMultipleObjects(err error) bool {
	if err == nil {
		return false
	}
	var e *MultipleObjectsReturnedError
	return errors.As(err, &e) || errors.Is(err, ErrMultipleObjects)
}

// ConflictError is a unique constraint violation. Message and Kind come
// from the description registered for the constraint with
// DescribeConflict; without one, Message is the database message.
type ConflictError struct {
	Model      string
	Constraint string
	Message    string
	Kind       string
	Err        error
}

// Error returns the error string.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Model, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ConflictError.
func (e *ConflictError) Is(err error) bool {
	return err == ErrConflict
}

// IsConflict returns true if the error is a ConflictError.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConflictError
	return errors.As(err, &e)
}

// MissingUpdateDataError is returned by Update when the payload names no
// writable column.
type MissingUpdateDataError struct {
	Model string
}

// Error returns the error string.
func (e *MissingUpdateDataError) Error() string {
	return fmt.Sprintf("%s: missing update data", e.Model)
}

// Is reports whether the target error matches MissingUpdateDataError.
func (e *MissingUpdateDataError) Is(err error) bool {
	return err == ErrMissingUpdateData
}

// IsMissingUpdateData returns true if the error is a MissingUpdateDataError.
func IsMissingUpdateData(err error) bool {
	if err == nil {
		return false
	}
	var e *MissingUpdateDataError
	return errors.As(err, &e)
}

// ValidationError lists every value of a statement that failed its
// validator. It is raised before the statement reaches the database.
type ValidationError struct {
	Model  string
	Errors []*FieldError
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("nomnom: validation failed for %s: %v", e.Model, entity.FieldErrors(e.Errors))
}

// Unwrap returns the field errors.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

// Keys returns the failed keys in order.
func (e *ValidationError) Keys() []string {
	keys := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		keys[i] = fe.Key
	}
	return keys
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// IsSchemaError returns true if the error is a SchemaError.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err      error // error returned by the transaction function
	Rollback error // error returned by the rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("nomnom: rollback failed: %v (after: %v)", e.Rollback, e.Err)
}

// Unwrap returns the underlying errors.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Rollback}
}

// QueryError wraps a database error of a read.
type QueryError struct {
	Model string
	Op    string // "select", "count", "aggregate"
	Err   error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	return fmt.Sprintf("nomnom: querying %s (%s): %v", e.Model, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps a database error of a write.
type MutationError struct {
	Model string
	Op    string // "create", "update", "delete"
	Err   error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("nomnom: %s %s: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
