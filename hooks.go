package nomnom

import (
	"context"
	"strings"

	"github.com/syssam/nomnom/internal/entity"
)

// Interceptor decorates the operations of a DAO. Intercept is called for
// every operation, after lazy values are resolved and before the statement
// compiles, in the order the interceptors were added with DAO.Use.
type Interceptor interface {
	Intercept(ctx context.Context, op *Operation) error
}

// InterceptFunc adapts a function to Interceptor.
type InterceptFunc func(ctx context.Context, op *Operation) error

// Intercept calls f(ctx, op).
func (f InterceptFunc) Intercept(ctx context.Context, op *Operation) error { return f(ctx, op) }

// Installer is implemented by interceptors that check or annotate the
// entity when they are added with DAO.Use.
type Installer interface {
	Install(s Schema) error
}

// Schema describes a registered entity to interceptors.
type Schema struct {
	e *entity.Entity
}

// Model returns the Go type name of the entity.
func (s Schema) Model() string { return s.e.Name }

// Table returns the table of the entity.
func (s Schema) Table() string { return s.e.Table }

// PrimaryKey returns the name of the primary key column.
func (s Schema) PrimaryKey() string { return s.e.PrimaryKey }

// HasScalar reports if name is a stored column that is not a relation.
func (s Schema) HasScalar(name string) bool {
	c, err := s.e.Column(name)
	if err != nil {
		return false
	}
	sc, ok := c.(*entity.Scalar)
	return ok && sc.Relation() == nil
}

// Mark attaches a marker to the entity. Markers are shared by every DAO
// of the entity, decorated or not.
func (s Schema) Mark(key, value string) { s.e.Mark(key, value) }

// Marker returns the marker stored under key.
func (s Schema) Marker(key string) (string, bool) { return s.e.Marker(key) }

// Related returns the schema of the entity reached through the relation
// name.
func (s Schema) Related(name string) (Schema, bool) {
	c, err := s.e.Column(name)
	if err != nil {
		return Schema{}, false
	}
	fk, ok := c.(*entity.ForeignKey)
	if !ok {
		return Schema{}, false
	}
	target, err := fk.Target()
	if err != nil {
		return Schema{}, false
	}
	return Schema{e: target}, true
}

// Operation is a statement about to compile. Interceptors may narrow its
// filters, change its data or turn it into another operation.
type Operation struct {
	Op Op
	// Rows holds the payloads of a create.
	Rows []Data
	// Data holds the payload of an update.
	Data Data

	schema Schema
	state  *state
}

// Schema returns the entity the operation runs on.
func (o *Operation) Schema() Schema { return o.schema }

// Where narrows the rows the operation reads, updates or deletes.
func (o *Operation) Where(p Predicate) {
	o.state.query.Clauses = append(o.state.query.Clauses, p.clause(false))
}

// Paths returns the column paths referenced by the filters of the
// operation, without operators, in filter order.
func (o *Operation) Paths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, c := range o.state.query.Clauses {
		for _, t := range c.Terms {
			for _, key := range sortedKeys(t) {
				path, _, _ := strings.Cut(key, ":")
				if !seen[path] {
					seen[path] = true
					paths = append(paths, path)
				}
			}
		}
	}
	return paths
}

// intercept builds the operation and runs the interceptors of the DAO.
func (d *DAO[T]) intercept(ctx context.Context, op Op, s *state, rows []Data) (*Operation, error) {
	o := &Operation{Op: op, schema: Schema{e: d.entity}, state: s}
	switch op {
	case OpCreate:
		o.Rows = rows
	case OpUpdate:
		if len(rows) > 0 {
			o.Data = rows[0]
		}
	}
	for _, in := range d.inters {
		if err := in.Intercept(ctx, o); err != nil {
			return nil, err
		}
	}
	return o, nil
}
