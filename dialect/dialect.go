package dialect

import "context"

// Postgres is the only dialect the builder emits.
const Postgres = "postgres"

// ExecQuerier wraps the two query operations of a connection.
//
// Exec runs a statement that returns no rows; v is nil or a *sql.Result.
// Query runs a statement returning rows; v must be a *sql.Rows of the
// dialect/sql package. args is a []any in placeholder order.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is a connection a registry executes statements on.
type Driver interface {
	ExecQuerier
	// Tx starts a transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is a transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}
