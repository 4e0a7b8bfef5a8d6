package nomnom

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/nomnom/internal/builder"
	"github.com/syssam/nomnom/internal/entity"
)

// NoLimit leaves the upper bound of Slice open.
const NoLimit = -1

// A QuerySet is an immutable query over the rows of one entity. Every
// chain method returns a new QuerySet linked to its receiver; the receiver
// is never changed, so a QuerySet may be shared and consumed any number of
// times. Nothing runs until a terminal method is called.
type QuerySet[T any] struct {
	dao    *DAO[T]
	parent *QuerySet[T]
	node   node
}

// node holds the one attribute a chain link adds.
type node struct {
	clause      *builder.Clause
	order       []string
	slice       *bounds
	distinct    []string
	group       []string
	annotations Annotations
	values      *projection
	err         error
}

type bounds struct {
	start int
	end   int // NoLimit for an open upper bound.
}

// projection is the column list of Values and ValuesList.
type projection struct {
	names []string
	list  bool
}

func (qs *QuerySet[T]) chain(n node) *QuerySet[T] {
	return &QuerySet[T]{dao: qs.dao, parent: qs, node: n}
}

// Filter returns a query set narrowed to rows matching p.
func (qs *QuerySet[T]) Filter(p Predicate) *QuerySet[T] {
	if p == nil {
		return qs
	}
	c := p.clause(false)
	return qs.chain(node{clause: &c})
}

// Exclude returns a query set narrowed to rows not matching p.
func (qs *QuerySet[T]) Exclude(p Predicate) *QuerySet[T] {
	if p == nil {
		return qs
	}
	c := p.clause(true)
	return qs.chain(node{clause: &c})
}

// None returns a query set matching no row. It still compiles to a
// statement, so it composes like any other query set.
func (qs *QuerySet[T]) None() *QuerySet[T] {
	return qs.Filter(Filter{qs.dao.entity.PrimaryKey + ":in": []any{}})
}

// Order returns a query set sorted by cols. A leading "-" sorts a column
// descending. The order given nearest the terminal wins.
func (qs *QuerySet[T]) Order(cols ...string) *QuerySet[T] {
	return qs.chain(node{order: slices.Clone(cols)})
}

// Slice returns the rows [start, end) of the query set, relative to any
// slice already applied. end may be NoLimit.
func (qs *QuerySet[T]) Slice(start, end int) *QuerySet[T] {
	if start < 0 || end != NoLimit && end < start {
		return qs.chain(node{err: fmt.Errorf("nomnom: invalid slice [%d, %d)", start, end)})
	}
	return qs.chain(node{slice: &bounds{start: start, end: end}})
}

// Distinct returns a query set keeping the first row of every distinct
// combination of cols (DISTINCT ON).
func (qs *QuerySet[T]) Distinct(cols ...string) *QuerySet[T] {
	return qs.chain(node{distinct: slices.Clone(cols)})
}

// Group returns a query set grouped by cols. Grouped queries project the
// grouped columns and the annotations; grouping by the primary key also
// projects the entity.
func (qs *QuerySet[T]) Group(cols ...string) *QuerySet[T] {
	if cols == nil {
		cols = []string{}
	}
	return qs.chain(node{group: slices.Clone(cols)})
}

// Annotate returns a query set projecting the named expressions next to
// the entity columns. Read them with Annotated.
//
//	qs.Group("id").Annotate(nomnom.Annotations{
//		"books": func(ref func(string) string, _ func(any) string) string {
//			return "COUNT(" + ref("books.id") + ")"
//		},
//	})
func (qs *QuerySet[T]) Annotate(a Annotations) *QuerySet[T] {
	return qs.chain(node{annotations: maps.Clone(a)})
}

// Values returns a query set projecting cols, read as maps with Maps.
// Dotted column paths nest: "author.name" is read as
// {"author": {"name": v}}. With no cols, every column of the entity is
// projected.
func (qs *QuerySet[T]) Values(cols ...string) *QuerySet[T] {
	return qs.chain(node{values: &projection{names: slices.Clone(cols)}})
}

// ValuesList is like Values, but rows are read as lists with List.
func (qs *QuerySet[T]) ValuesList(cols ...string) *QuerySet[T] {
	return qs.chain(node{values: &projection{names: slices.Clone(cols), list: true}})
}

// Scope applies the scope registered under name with WithScope.
func (qs *QuerySet[T]) Scope(name string, args ...any) *QuerySet[T] {
	fn, ok := qs.dao.scopes[name]
	if !ok {
		return qs.chain(node{err: fmt.Errorf("nomnom: %s has no scope %q", qs.dao.entity.Name, name)})
	}
	return fn(qs, args...)
}

// state is a flattened query set.
type state struct {
	query  builder.Query
	values *projection
}

// flatten walks the chain from the root. Filters, slices, distinct and
// grouping columns accumulate; annotations merge; the order and the
// projection nearest the leaf win.
func (qs *QuerySet[T]) flatten() (*state, error) {
	var chain []*QuerySet[T]
	for cur := qs; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	slices.Reverse(chain)
	s := &state{}
	span := bounds{end: NoLimit}
	for _, cur := range chain {
		n := cur.node
		if n.err != nil {
			return nil, n.err
		}
		if n.clause != nil {
			s.query.Clauses = append(s.query.Clauses, *n.clause)
		}
		if n.order != nil {
			s.query.Order = n.order
		}
		if n.slice != nil {
			span = span.compose(*n.slice)
		}
		s.query.Distinct = append(s.query.Distinct, n.distinct...)
		if n.group != nil {
			if s.query.Group == nil {
				s.query.Group = []string{}
			}
			for _, g := range n.group {
				if !slices.Contains(s.query.Group, g) {
					s.query.Group = append(s.query.Group, g)
				}
			}
		}
		if n.annotations != nil {
			if s.query.Annotations == nil {
				s.query.Annotations = make(map[string]builder.Expr)
			}
			for name, fn := range n.annotations {
				s.query.Annotations[name] = fn
			}
		}
		if n.values != nil {
			s.values = n.values
		}
	}
	s.query.Offset = span.start
	if span.end != NoLimit {
		limit := span.end - span.start
		s.query.Limit = &limit
	}
	if s.values != nil {
		s.query.Only = s.names(qs.dao.entity)
	}
	return s, nil
}

// compose applies next relative to b: [b0+n0, min(b0+n1, b1)].
func (b bounds) compose(next bounds) bounds {
	out := bounds{start: b.start + next.start, end: b.end}
	if next.end != NoLimit {
		end := b.start + next.end
		if b.end == NoLimit || end < b.end {
			out.end = end
		}
	}
	if out.end != NoLimit && out.end < out.start {
		out.end = out.start
	}
	return out
}

// names returns the projected names: the given columns, or every column
// of e followed by the annotations.
func (s *state) names(e *entity.Entity) []string {
	if s.values == nil {
		return nil
	}
	if len(s.values.names) > 0 {
		return s.values.names
	}
	var names []string
	for _, c := range e.Scalars() {
		names = append(names, c.Name())
	}
	return append(names, s.query.AnnotationNames()...)
}

// subquery is a resolved query set compiled in place by in and notIn.
type subquery struct {
	entity *entity.Entity
	state  *state
}

// CompileSubquery implements builder.Subquery. The primary key is
// projected when the query set has no projection.
func (s *subquery) CompileSubquery(p *builder.Params) (string, error) {
	q := s.state.query
	if q.Only == nil {
		q.Only = []string{s.entity.PrimaryKey}
	}
	return builder.New(s.entity, p).Select(&q)
}

// ValidateSubquery reports a projection of more than one column.
func (s *subquery) ValidateSubquery() error {
	if n := len(s.state.query.Only); n > 1 {
		return fmt.Errorf("sub-query on %s must project one column, got %d", s.entity.Name, n)
	}
	return nil
}

// subquery flattens the query set, resolves its lazy values and runs the
// interceptors of its DAO as a select.
func (qs *QuerySet[T]) subquery(ctx context.Context) (any, error) {
	s, err := qs.prepare(ctx)
	if err != nil {
		return nil, err
	}
	op, err := qs.dao.intercept(ctx, OpSelect, s, nil)
	if err != nil {
		return nil, err
	}
	return &subquery{entity: qs.dao.entity, state: op.state}, nil
}

// prepare flattens the query set and resolves the lazy values of its
// filters.
func (qs *QuerySet[T]) prepare(ctx context.Context) (*state, error) {
	if qs.dao.err != nil {
		return nil, qs.dao.err
	}
	s, err := qs.flatten()
	if err != nil {
		return nil, err
	}
	if s.query.Clauses, err = resolveClauses(ctx, s.query.Clauses); err != nil {
		return nil, err
	}
	return s, nil
}

// SQL compiles the SELECT statement of the query set without running it.
// Interceptors of the DAO are applied.
func (qs *QuerySet[T]) SQL(ctx context.Context) (string, []any, error) {
	s, err := qs.prepare(ctx)
	if err != nil {
		return "", nil, err
	}
	op, err := qs.dao.intercept(ctx, OpSelect, s, nil)
	if err != nil {
		return "", nil, err
	}
	b := builder.New(qs.dao.entity, nil)
	sql, err := b.Select(&op.state.query)
	if err != nil {
		return "", nil, qs.dao.compileError(err)
	}
	return sql, b.Params().Args(), nil
}
