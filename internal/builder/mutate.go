package builder

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/syssam/nomnom/internal/entity"
)

// ErrNoChanges is returned by Update when the payload names no writable
// column.
var ErrNoChanges = errors.New("builder: no columns to update")

// Insert compiles rows into one multi-row INSERT statement. The column list
// is the union of the columns present in any row; cells missing from a row
// and empty primary keys are sent as DEFAULT. Every stored scalar is
// returned, aliased "<table>.<name>" for the row mapper.
func (b *Builder) Insert(rows []map[string]any) (string, error) {
	e := b.entity
	var errs entity.FieldErrors
	prepped := make([]map[string]any, len(rows))
	for i, row := range rows {
		prefix := ""
		if len(rows) > 1 {
			prefix = fmt.Sprintf("[%d].", i)
		}
		prepped[i] = b.prepareRow(row, prefix, &errs)
	}
	if err := errs.Err(); err != nil {
		return "", err
	}
	scalars := e.Scalars()
	var cols []*entity.Scalar
	for _, s := range scalars {
		if slices.ContainsFunc(prepped, func(r map[string]any) bool {
			_, ok := r[s.Name()]
			return ok
		}) {
			cols = append(cols, s)
		}
	}
	returning := make([]string, len(scalars))
	for i, s := range scalars {
		returning[i] = quote(s.Column()) + " AS " + quote(e.Table+"."+s.Name())
	}
	var values string
	switch {
	case len(cols) == 0 && len(rows) == 1:
		values = "DEFAULT VALUES"
	default:
		if len(cols) == 0 {
			cols = append(cols, e.PK())
		}
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = quote(c.Column())
		}
		tuples := make([]string, len(prepped))
		for i, row := range prepped {
			cells := make([]string, len(cols))
			for j, c := range cols {
				v, ok := row[c.Name()]
				if !ok || (c.Name() == e.PrimaryKey && isZero(v)) {
					cells[j] = "DEFAULT"
					continue
				}
				cells[j] = b.params.Push(v)
			}
			tuples[i] = "(" + strings.Join(cells, ", ") + ")"
		}
		values = "(" + strings.Join(names, ", ") + ") VALUES " + strings.Join(tuples, ", ")
	}
	return "INSERT INTO " + quote(e.Table) + " " + values + " RETURNING " + strings.Join(returning, ", "), nil
}

// prepareRow validates and encodes one create payload, keyed by scalar
// name. Relations are stored through their key column. Unknown keys and
// reverse relations are ignored. Field defaults fill missing scalars.
func (b *Builder) prepareRow(row map[string]any, prefix string, errs *entity.FieldErrors) map[string]any {
	e := b.entity
	out := make(map[string]any, len(row))
	for _, key := range sortedKeys(row) {
		c, err := e.Column(key)
		if err != nil {
			continue
		}
		name := key
		if fk, ok := c.(*entity.ForeignKey); ok {
			if !fk.Forward() {
				continue
			}
			name = fk.Column()
		}
		if err := c.Validate(row[key]); err != nil {
			errs.Add(prefix+key, err)
			continue
		}
		out[name] = row[key]
	}
	for _, s := range e.Scalars() {
		if _, ok := out[s.Name()]; ok {
			continue
		}
		if v, ok := s.Descriptor().DefaultValue(); ok {
			out[s.Name()] = v
			continue
		}
		if s.Name() != e.PrimaryKey && s.Relation() == nil && !s.Optional() {
			if _, given := row[s.Name()]; !given {
				errs.Add(prefix+s.Name(), entity.ErrRequired)
			}
		}
	}
	for _, fk := range e.Relations() {
		_, byKey := row[fk.Column()]
		_, byObject := row[fk.Name()]
		if !fk.Nullable() && !byKey && !byObject {
			errs.Add(prefix+fk.Name(), entity.ErrRequired)
		}
	}
	for name, v := range out {
		c, _ := e.Column(name)
		enc, err := c.(*entity.Scalar).Encode(v)
		if err != nil {
			errs.Add(prefix+name, err)
			continue
		}
		out[name] = enc
	}
	return out
}

// Update compiles an UPDATE of the rows matched by q. SET parameters are
// bound first. Joins implied by the filters become a FROM list with their
// conditions folded into WHERE. Data and filter validation failures are
// reported together.
func (b *Builder) Update(q *Query, data map[string]any) (string, error) {
	e := b.entity
	var (
		errs entity.FieldErrors
		sets []string
		seen = make(map[string]bool)
	)
	for _, key := range sortedKeys(data) {
		c, err := e.Column(key)
		if err != nil {
			continue
		}
		s, ok := c.(*entity.Scalar)
		if fk, isFK := c.(*entity.ForeignKey); isFK {
			if !fk.Forward() {
				continue
			}
			cs, _ := e.Column(fk.Column())
			s, ok = cs.(*entity.Scalar)
		}
		if !ok || seen[s.Column()] {
			continue
		}
		seen[s.Column()] = true
		if err := c.Validate(data[key]); err != nil {
			errs.Add(key, err)
			continue
		}
		v, err := s.Encode(data[key])
		if err != nil {
			errs.Add(key, err)
			continue
		}
		sets = append(sets, quote(s.Column())+" = "+b.params.Push(v))
	}
	if len(seen) == 0 {
		return "", ErrNoChanges
	}
	from, where, err := b.filterMutation(q, errs)
	if err != nil {
		return "", err
	}
	parts := []string{"UPDATE " + quote(e.Table) + " " + quote(b.alias), "SET " + strings.Join(sets, ", ")}
	if len(from) > 0 {
		parts = append(parts, "FROM "+strings.Join(from, ", "))
	}
	if where != "" {
		parts = append(parts, where)
	}
	return strings.Join(parts, " "), nil
}

// Delete compiles a DELETE of the rows matched by q. Joins become a USING
// list with their conditions folded into WHERE.
func (b *Builder) Delete(q *Query) (string, error) {
	using, where, err := b.filterMutation(q, nil)
	if err != nil {
		return "", err
	}
	parts := []string{"DELETE FROM " + quote(b.entity.Table) + " " + quote(b.alias)}
	if len(using) > 0 {
		parts = append(parts, "USING "+strings.Join(using, ", "))
	}
	if where != "" {
		parts = append(parts, where)
	}
	return strings.Join(parts, " "), nil
}

// filterMutation adds the filters of q, folds join conditions into WHERE
// and renders it. errs carries validation failures found earlier in the
// statement.
func (b *Builder) filterMutation(q *Query, errs entity.FieldErrors) ([]string, string, error) {
	for _, c := range q.Clauses {
		if err := b.Where(c); err != nil {
			return nil, "", err
		}
	}
	errs = append(errs, b.validate()...)
	if err := errs.Err(); err != nil {
		return nil, "", err
	}
	var tables []string
	for _, j := range b.joined() {
		tables = append(tables, quote(j.target.Table)+" "+quote(j.alias))
		b.where.add(fragment(j.on()))
	}
	where, err := b.whereClause()
	return tables, where, err
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
