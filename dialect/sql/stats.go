package sql

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/syssam/nomnom/dialect"
)

// Statement names the entity and operation a statement was compiled for.
// The zero value stands for statements run without one, such as the
// transaction control of a driver.
type Statement struct {
	Model string
	Op    string
}

func (s Statement) String() string {
	if s == (Statement{}) {
		return "unlabeled"
	}
	return s.Model + "." + s.Op
}

type ctxStatementKey struct{}

// WithStatement returns a context attributing the statements run with it
// to the operation op of model.
func WithStatement(ctx context.Context, model, op string) context.Context {
	return context.WithValue(ctx, ctxStatementKey{}, Statement{Model: model, Op: op})
}

// StatementFrom returns the statement label of ctx.
func StatementFrom(ctx context.Context) (Statement, bool) {
	s, ok := ctx.Value(ctxStatementKey{}).(Statement)
	return s, ok
}

// Counter holds the totals of one statement label.
type Counter struct {
	Count    int64
	Errors   int64
	Slow     int64
	Duration time.Duration
}

// Avg returns the mean statement duration.
func (c Counter) Avg() time.Duration {
	if c.Count == 0 {
		return 0
	}
	return c.Duration / time.Duration(c.Count)
}

func (c Counter) String() string {
	return fmt.Sprintf("count=%d errors=%d slow=%d duration=%s avg=%s", c.Count, c.Errors, c.Slow, c.Duration, c.Avg())
}

func (c *Counter) add(d time.Duration, err error, slow bool) {
	c.Count++
	c.Duration += d
	if err != nil {
		c.Errors++
	}
	if slow {
		c.Slow++
	}
}

// QueryStats counts statements per entity and operation. It is safe for
// concurrent use.
type QueryStats struct {
	mu      sync.Mutex
	total   Counter
	byLabel map[Statement]*Counter
}

// Observe records a statement of label that took d and failed with err.
func (s *QueryStats) Observe(label Statement, d time.Duration, err error, slow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byLabel == nil {
		s.byLabel = make(map[Statement]*Counter)
	}
	c, ok := s.byLabel[label]
	if !ok {
		c = &Counter{}
		s.byLabel[label] = c
	}
	c.add(d, err, slow)
	s.total.add(d, err, slow)
}

// Total returns the counter of all statements.
func (s *QueryStats) Total() Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Get returns the counter of one label.
func (s *QueryStats) Get(label Statement) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byLabel[label]; ok {
		return *c
	}
	return Counter{}
}

// Labels returns the observed labels sorted by model, then operation.
func (s *QueryStats) Labels() []Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.SortedFunc(maps.Keys(s.byLabel), func(a, b Statement) int {
		return cmp.Or(cmp.Compare(a.Model, b.Model), cmp.Compare(a.Op, b.Op))
	})
}

// Reset zeroes all counters.
func (s *QueryStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = Counter{}
	s.byLabel = nil
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, label Statement, query string, args []any, duration time.Duration)

// StatsDriver counts the statements run through a Driver.
type StatsDriver struct {
	*Driver
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the slow statement threshold. Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets the slow statement callback.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level to logger, or to the
// default logger when logger is nil.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, label Statement, query string, args []any, duration time.Duration) {
		logger.WarnContext(ctx, "slow statement",
			"entity", label.Model, "op", label.Op, "duration", duration, "sql", query, "args", args)
	})
}

// NewStatsDriver wraps drv with statement counters. Statements are
// attributed to the label set by WithStatement, which the DAOs of a
// registry do for every statement they run.
//
//	drv, _ := sql.OpenConfig(ctx, cfg)
//	stats := sql.NewStatsDriver(drv, sql.WithSlowQueryLog(nil))
//	reg := nomnom.NewRegistry(nomnom.WithDriver(stats))
//	...
//	fmt.Println(stats.QueryStats().Get(sql.Statement{Model: "Book", Op: "select"}))
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Query runs a query and records it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, args, time.Since(start), err)
	return err
}

// Exec runs a statement and records it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, args, time.Since(start), err)
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, duration time.Duration, err error) {
	d.mu.RLock()
	threshold, hook := d.slowThreshold, d.slowHook
	d.mu.RUnlock()
	label, _ := StatementFrom(ctx)
	slow := duration > threshold
	d.stats.Observe(label, duration, err, slow)
	if slow && hook != nil {
		argv, _ := args.([]any)
		hook(ctx, label, query, argv, duration)
	}
}

// Tx starts a transaction whose statements are also recorded.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, driver: d}, nil
}

type statsTx struct {
	dialect.Tx
	driver *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.record(ctx, query, args, time.Since(start), err)
	return err
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.record(ctx, query, args, time.Since(start), err)
	return err
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
)
