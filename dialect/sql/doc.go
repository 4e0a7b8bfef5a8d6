// Package sql runs statements on a Postgres database/sql pool.
//
// A Driver wraps a *sql.DB opened with either lib/pq ("postgres") or
// jackc/pgx ("pgx") and implements dialect.Driver. Rows returned by Query
// are read with ScanValues, which leaves decoding to the caller.
//
//	drv, err := sql.Open("pgx", "postgres://localhost/app?sslmode=disable")
//	if err != nil {
//		return err
//	}
//	rows := &sql.Rows{}
//	if err := drv.Query(ctx, `SELECT 1`, []any{}, rows); err != nil {
//		return err
//	}
//	defer rows.Close()
//
// # Session settings
//
// WithVar attaches a setting to a context. Statements run with the context
// are preceded by SET name = 'value', and the setting is RESET before the
// connection is released to the pool:
//
//	ctx = sql.WithVar(ctx, "app.tenant", tenant)
//
// # Configuration
//
// LoadConfig reads a YAML file and NOMNOM_* environment overrides. OpenConfig
// opens, tunes and pings a pool from the result, and Instrument adds
// statement counters when a slow threshold is configured.
//
// # Instrumentation
//
// StatsDriver counts statements per entity and operation, as labeled with
// WithStatement, and reports slow ones through a hook.
package sql
