package builder

import (
	"slices"
	"strconv"
	"strings"
)

// Query holds the flattened attributes of a query set.
type Query struct {
	Clauses []Clause
	// Order lists column paths or annotation names; a leading "-" sorts
	// descending.
	Order []string
	// Distinct lists the DISTINCT ON paths.
	Distinct []string
	// Group lists the GROUP BY paths. A nil slice means no grouping.
	Group []string
	// Only restricts the projection to the named paths and annotations.
	Only        []string
	Annotations map[string]Expr
	Offset      int
	Limit       *int // nil means no limit.
}

// Grouped reports if the query has a GROUP BY clause.
func (q *Query) Grouped() bool { return q.Group != nil }

// AnnotationNames returns the annotation names in compile order.
func (q *Query) AnnotationNames() []string {
	names := make([]string, 0, len(q.Annotations))
	for name := range q.Annotations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Select compiles q into a SELECT statement. Parameters are bound in the
// order filters, then annotations.
func (b *Builder) Select(q *Query) (string, error) {
	if err := b.prepare(q); err != nil {
		return "", err
	}
	where, err := b.whereClause()
	if err != nil {
		return "", err
	}
	for _, name := range q.AnnotationNames() {
		sql, err := b.expr(q.Annotations[name])
		if err != nil {
			return "", err
		}
		col := b.annotations[name]
		col.expr = sql
		b.selecting = append(b.selecting, col)
	}
	order, err := b.orderClause(q.Order)
	if err != nil {
		return "", err
	}
	parts := []string{
		"SELECT " + b.columnsClause(),
		"FROM " + quote(b.entity.Table) + " " + quote(b.alias),
	}
	parts = append(parts, b.joinClauses()...)
	if where != "" {
		parts = append(parts, where)
	}
	if len(b.grouping) > 0 {
		refs := make([]string, len(b.grouping))
		for i, c := range b.grouping {
			refs[i] = c.sql()
		}
		parts = append(parts, "GROUP BY "+strings.Join(refs, ", "))
	}
	if order != "" {
		parts = append(parts, order)
	}
	parts = append(parts, boundsClause(q))
	return strings.Join(parts, " "), nil
}

// prepare resolves every reference of q and validates all comparisons.
// No parameter is bound.
func (b *Builder) prepare(q *Query) error {
	for _, name := range q.AnnotationNames() {
		b.annotations[name] = &column{name: name, output: b.entity.Table + "." + name}
	}
	for _, c := range q.Clauses {
		if err := b.Where(c); err != nil {
			return err
		}
	}
	for _, name := range q.Distinct {
		col, err := b.reference(name, false, false)
		if err != nil {
			return err
		}
		b.distinct = append(b.distinct, col)
	}
	for _, name := range q.Group {
		col, err := b.reference(name, false, false)
		if err != nil {
			return err
		}
		b.grouping = append(b.grouping, col)
	}
	switch {
	case q.Only != nil:
		b.only = make(map[string]bool, len(q.Only))
		for _, name := range q.Only {
			b.only[name] = true
			if _, ok := b.annotations[name]; ok {
				continue
			}
			if err := b.target(name); err != nil {
				return err
			}
		}
	case q.Grouped():
		// Grouped queries select the grouped columns and annotations, plus
		// the whole root row when grouped by primary key.
		b.only = make(map[string]bool)
		for _, name := range q.Group {
			b.only[name] = true
			if err := b.target(name); err != nil {
				return err
			}
			if name == b.entity.PrimaryKey {
				for _, s := range b.entity.Scalars() {
					b.only[s.Name()] = true
				}
			}
		}
		for name := range b.annotations {
			b.only[name] = true
		}
	}
	return b.validate().Err()
}

func (b *Builder) columnsClause() string {
	var cols []string
	for _, c := range b.selecting {
		if b.only != nil && !b.only[c.name] {
			continue
		}
		cols = append(cols, c.sql()+" AS "+quote(c.output))
	}
	list := strings.Join(cols, ", ")
	if len(b.distinct) == 0 {
		return list
	}
	refs := make([]string, len(b.distinct))
	for i, c := range b.distinct {
		refs[i] = c.sql()
	}
	return "DISTINCT ON (" + strings.Join(refs, ", ") + ") " + list
}

func (b *Builder) orderClause(order []string) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	parts := make([]string, len(order))
	for i, name := range order {
		dir := " ASC"
		if rest, ok := strings.CutPrefix(name, "-"); ok {
			name, dir = rest, " DESC"
		}
		if a, ok := b.annotations[name]; ok {
			parts[i] = quote(a.output) + dir
			continue
		}
		col, err := b.reference(name, false, false)
		if err != nil {
			return "", err
		}
		parts[i] = col.sql() + dir
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func boundsClause(q *Query) string {
	limit := "ALL"
	if q.Limit != nil {
		limit = strconv.Itoa(*q.Limit)
	}
	return "LIMIT " + limit + " OFFSET " + strconv.Itoa(q.Offset)
}

// Count compiles q into a count of its rows. Ungrouped queries project
// only the primary key; when a reverse relation is joined they count
// distinct primary keys, since the join repeats root rows.
func (b *Builder) Count(q *Query) (string, error) {
	inner := *q
	if !q.Grouped() {
		inner.Only = []string{b.entity.PrimaryKey}
		inner.Annotations = nil
		inner.Order = nil
	}
	sql, err := b.Select(&inner)
	if err != nil {
		return "", err
	}
	expr := "COUNT(*)"
	if !q.Grouped() && b.reversed() {
		expr = "COUNT(DISTINCT t0." + quote(b.entity.Table+"."+b.entity.PrimaryKey) + ")"
	}
	return "SELECT " + expr + ` AS "result" FROM (` + sql + ") t0", nil
}

// Aggregate compiles fn over the filtered rows of q into a single value
// named "result". Ordering, bounds and projections of q do not apply.
func (b *Builder) Aggregate(q *Query, fn Expr) (string, error) {
	if err := b.prepare(&Query{Clauses: q.Clauses}); err != nil {
		return "", err
	}
	where, err := b.whereClause()
	if err != nil {
		return "", err
	}
	sql, err := b.expr(fn)
	if err != nil {
		return "", err
	}
	parts := []string{
		"SELECT " + sql + ` AS "result"`,
		"FROM " + quote(b.entity.Table) + " " + quote(b.alias),
	}
	parts = append(parts, b.joinClauses()...)
	if where != "" {
		parts = append(parts, where)
	}
	return strings.Join(parts, " "), nil
}

// joinClauses renders the LEFT JOIN of every join. Nullable relations are
// joined OUTER.
func (b *Builder) joinClauses() []string {
	var out []string
	for _, j := range b.joined() {
		kind := "LEFT JOIN "
		if j.fk.Nullable() {
			kind = "LEFT OUTER JOIN "
		}
		out = append(out, kind+quote(j.target.Table)+" "+quote(j.alias)+" ON ("+j.on()+")")
	}
	return out
}
