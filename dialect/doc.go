// Package dialect defines the connection interfaces the query layer
// executes statements on.
//
// A Driver runs statements and starts transactions:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// Both Driver and Tx implement ExecQuerier, so statements compiled by a
// query set run the same way inside and outside a transaction.
//
// The dialect/sql sub-package implements Driver on top of database/sql:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	reg := nomnom.NewRegistry(nomnom.WithDriver(drv))
package dialect
