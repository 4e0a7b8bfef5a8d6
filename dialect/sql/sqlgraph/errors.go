// Package sqlgraph classifies Postgres errors returned by the drivers.
package sqlgraph

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes of integrity constraint violations (class 23).
const (
	UniqueViolation     = "23505"
	ForeignKeyViolation = "23503"
	CheckViolation      = "23514"
	NotNullViolation    = "23502"
)

// sqlStateError is implemented by driver errors exposing their code.
type sqlStateError interface {
	SQLState() string
}

// SQLState returns the SQLSTATE code of the driver error in the chain of
// err.
func SQLState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState(), true
	}
	return "", false
}

// IsConstraintError reports if err is an integrity constraint violation.
func IsConstraintError(err error) bool {
	if code, ok := SQLState(err); ok {
		return strings.HasPrefix(code, "23")
	}
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if err is a unique violation.
func IsUniqueConstraintError(err error) bool {
	return is(err, UniqueViolation, "violates unique constraint")
}

// IsForeignKeyConstraintError reports if err is a foreign key violation.
func IsForeignKeyConstraintError(err error) bool {
	return is(err, ForeignKeyViolation, "violates foreign key constraint")
}

// IsCheckConstraintError reports if err is a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return is(err, CheckViolation, "violates check constraint")
}

// is matches the SQLSTATE of err, falling back to the message text for
// errors that carry no code.
func is(err error, code, text string) bool {
	if err == nil {
		return false
	}
	if c, ok := SQLState(err); ok {
		return c == code
	}
	return strings.Contains(err.Error(), text)
}

var uniqueRe = regexp.MustCompile(`duplicate key value violates unique constraint "(\w+)"`)

// UniqueConstraint returns the name of the violated unique constraint. The
// name is read from the driver error when available, and from the message
// text otherwise.
func UniqueConstraint(err error) (string, bool) {
	if !IsUniqueConstraintError(err) {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return pgErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Constraint != "" {
		return pqErr.Constraint, true
	}
	if m := uniqueRe.FindStringSubmatch(err.Error()); m != nil {
		return m[1], true
	}
	return "", true
}

// asError returns the first error in the chain of err implementing T.
func asError[T any](err error) (T, bool) {
	var target T
	return target, errors.As(err, &target)
}
