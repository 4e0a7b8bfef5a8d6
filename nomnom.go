package nomnom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syssam/nomnom/dialect"
	"github.com/syssam/nomnom/internal/entity"
)

// Registry holds the entities of one application and the defaults they
// execute with. Registries are independent of each other.
type Registry struct {
	entities *entity.Registry
	driver   dialect.Driver
	logger   *slog.Logger

	mu        sync.RWMutex
	hooks     []func(context.Context, QueryEvent)
	conflicts map[string]conflict
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDriver sets the driver statements run on when the context carries
// no connection.
func WithDriver(drv dialect.Driver) RegistryOption {
	return func(r *Registry) {
		r.driver = drv
	}
}

// WithLogger sets the logger compiled statements are logged to at debug
// level. Default is slog.Default().
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entities:  entity.NewRegistry(),
		logger:    slog.Default(),
		conflicts: make(map[string]conflict),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Driver returns the default driver of the registry.
func (r *Registry) Driver() dialect.Driver { return r.driver }

// QueryEvent describes a compiled statement about to run.
type QueryEvent struct {
	Model string
	Op    Op
	SQL   string
	Args  []any
}

// OnQuery registers fn to be called once for every compiled statement,
// before it runs. Hooks observe statements and cannot alter them.
func (r *Registry) OnQuery(fn func(context.Context, QueryEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) emit(ctx context.Context, ev QueryEvent) {
	r.logger.DebugContext(ctx, "compiled statement", "entity", ev.Model, "op", ev.Op, "sql", ev.SQL, "args", ev.Args)
	r.mu.RLock()
	hooks := r.hooks
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, ev)
	}
}

type ctxConnKey struct{}

type connValue struct {
	conn dialect.ExecQuerier
	tx   bool
}

// NewConnContext returns a context whose statements run on conn instead
// of the registry driver.
func NewConnContext(ctx context.Context, conn dialect.ExecQuerier) context.Context {
	_, tx := conn.(dialect.Tx)
	return context.WithValue(ctx, ctxConnKey{}, connValue{conn: conn, tx: tx})
}

// conn returns the connection of ctx, or the registry driver.
func (r *Registry) conn(ctx context.Context) (dialect.ExecQuerier, error) {
	if v, ok := ctx.Value(ctxConnKey{}).(connValue); ok {
		return v.conn, nil
	}
	if r.driver == nil {
		return nil, ErrNoDriver
	}
	return r.driver, nil
}

// WithTx runs fn in a transaction. Statements run with the context passed
// to fn use the transaction. The transaction is committed when fn returns
// nil and rolled back otherwise, or when fn panics.
//
//	err := reg.WithTx(ctx, func(ctx context.Context) error {
//		author, err := authors.Create(ctx, nomnom.Data{"name": "Gary"})
//		if err != nil {
//			return err
//		}
//		_, err = books.Create(ctx, nomnom.Data{"author": author, "title": "Memoir"})
//		return err
//	})
func (r *Registry) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var drv dialect.Driver
	if v, ok := ctx.Value(ctxConnKey{}).(connValue); ok {
		if v.tx {
			return ErrTxStarted
		}
		if d, ok := v.conn.(dialect.Driver); ok {
			drv = d
		}
	}
	if drv == nil {
		drv = r.driver
	}
	if drv == nil {
		return ErrNoDriver
	}
	tx, err := drv.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(NewConnContext(ctx, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return &RollbackError{Err: err, Rollback: rerr}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("nomnom: committing transaction: %w", err)
	}
	return nil
}
