package nomnom

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/nomnom/internal/builder"
)

// Lazy is a value computed when the statement using it runs. Lazy values
// in filters and data payloads are resolved concurrently before the
// statement compiles; a resolution error aborts the statement.
type Lazy interface {
	Resolve(ctx context.Context) (any, error)
}

// LazyFunc adapts a function to Lazy.
type LazyFunc func(ctx context.Context) (any, error)

// Resolve calls f(ctx).
func (f LazyFunc) Resolve(ctx context.Context) (any, error) { return f(ctx) }

// Defer returns a Lazy calling fn once per statement using it.
func Defer(fn func(ctx context.Context) (any, error)) Lazy {
	return LazyFunc(fn)
}

// subqueryer is implemented by query sets used as filter values.
type subqueryer interface {
	subquery(ctx context.Context) (any, error)
}

// slot is a map entry holding a lazy value.
type slot struct {
	m   map[string]any
	key string
}

// resolveMaps replaces the lazy values of ms in place. Lazy values are
// resolved concurrently; query sets are then prepared as sub-queries.
func resolveMaps(ctx context.Context, ms []map[string]any) error {
	var slots []slot
	for _, m := range ms {
		for k, v := range m {
			switch v.(type) {
			case Lazy, subqueryer:
				slots = append(slots, slot{m: m, key: k})
			}
		}
	}
	if len(slots) == 0 {
		return nil
	}
	values := make([]any, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range slots {
		lazy, ok := s.m[s.key].(Lazy)
		if !ok {
			values[i] = s.m[s.key]
			continue
		}
		g.Go(func() error {
			v, err := lazy.Resolve(gctx)
			values[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, s := range slots {
		v := values[i]
		if sq, ok := v.(subqueryer); ok {
			var err error
			if v, err = sq.subquery(ctx); err != nil {
				return err
			}
		}
		s.m[s.key] = v
	}
	return nil
}

// resolveClauses returns a copy of cs with its lazy values resolved.
func resolveClauses(ctx context.Context, cs []builder.Clause) ([]builder.Clause, error) {
	out := make([]builder.Clause, len(cs))
	var terms []map[string]any
	for i, c := range cs {
		out[i] = c
		out[i].Terms = make([]map[string]any, len(c.Terms))
		for j, t := range c.Terms {
			out[i].Terms[j] = maps.Clone(t)
			terms = append(terms, out[i].Terms[j])
		}
	}
	if err := resolveMaps(ctx, terms); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveData returns copies of rows with their lazy values resolved.
func resolveData(ctx context.Context, rows []Data) ([]map[string]any, error) {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(map[string]any(r))
		if out[i] == nil {
			out[i] = make(map[string]any)
		}
	}
	if err := resolveMaps(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}
