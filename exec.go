package nomnom

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/syssam/nomnom/dialect/sql"
	"github.com/syssam/nomnom/internal/builder"
	"github.com/syssam/nomnom/internal/entity"
	"github.com/syssam/nomnom/internal/mapper"
)

// Annotated is a row read with its annotations.
type Annotated[T any] struct {
	Object      *T
	Annotations map[string]any
}

// All runs the query set and returns its rows.
func (qs *QuerySet[T]) All(ctx context.Context) ([]*T, error) {
	var objs []*T
	for obj, err := range qs.Iter(ctx) {
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Iter runs the query set and streams its rows. The statement stops when
// the loop breaks; an error ends the sequence.
//
//	for author, err := range authors.All().Order("name").Iter(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(author.Name)
//	}
func (qs *QuerySet[T]) Iter(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		err := qs.read(ctx, OpSelect, func(m *mapper.Mapper, _ *state, row mapper.Row) error {
			res, err := m.Map(row)
			if err != nil {
				return err
			}
			if !yield(res.Object.(*T), nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(nil, err)
		}
	}
}

// Annotated runs the query set and returns its rows with the values of
// the annotations added by Annotate.
func (qs *QuerySet[T]) Annotated(ctx context.Context) ([]Annotated[T], error) {
	var out []Annotated[T]
	err := qs.read(ctx, OpSelect, func(m *mapper.Mapper, _ *state, row mapper.Row) error {
		res, err := m.Map(row)
		if err != nil {
			return err
		}
		out = append(out, Annotated[T]{Object: res.Object.(*T), Annotations: res.Annotations})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Maps runs the query set and returns the columns selected by Values as
// nested maps. Without Values every column of the entity is returned.
func (qs *QuerySet[T]) Maps(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	err := qs.readValues(ctx, func(m *mapper.Mapper, s *state, row mapper.Row) error {
		v, err := m.Values(row, s.query.Only)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List runs the query set and returns the columns selected by ValuesList
// as lists, in projection order.
func (qs *QuerySet[T]) List(ctx context.Context) ([][]any, error) {
	var out [][]any
	err := qs.readValues(ctx, func(m *mapper.Mapper, s *state, row mapper.Row) error {
		v, err := m.List(row, s.query.Only)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the one row of the query set matching p. It reads at most
// two rows: none is a NotFoundError, two a MultipleObjectsReturnedError.
func (qs *QuerySet[T]) Get(ctx context.Context, p Predicate) (*T, error) {
	objs, err := qs.Filter(p).Slice(0, 2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 0:
		return nil, &NotFoundError{Model: qs.dao.entity.Name}
	case 1:
		return objs[0], nil
	default:
		return nil, &MultipleObjectsReturnedError{Model: qs.dao.entity.Name}
	}
}

// GetLater returns a Lazy resolving to the result of Get.
func (qs *QuerySet[T]) GetLater(p Predicate) Lazy {
	return LazyFunc(func(ctx context.Context) (any, error) {
		return qs.Get(ctx, p)
	})
}

// Count returns the number of rows of the query set. Grouped query sets
// count groups.
func (qs *QuerySet[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := qs.read(ctx, OpCount, func(_ *mapper.Mapper, _ *state, row mapper.Row) error {
		if len(row.Values) == 0 {
			return fmt.Errorf("nomnom: count returned no column")
		}
		var err error
		n, err = toInt64(row.Values[0])
		return err
	})
	return n, err
}

// Aggregate computes fn over the filtered rows of the query set and
// returns the value as sent by the driver.
//
//	total, err := books.All().Aggregate(ctx, func(ref func(string) string, _ func(any) string) string {
//		return "SUM(" + ref("pages") + ")"
//	})
func (qs *QuerySet[T]) Aggregate(ctx context.Context, fn Annotation) (any, error) {
	var v any
	err := qs.readWith(ctx, OpAggregate, fn, false, func(_ *mapper.Mapper, _ *state, row mapper.Row) error {
		if len(row.Values) > 0 {
			v = row.Values[0]
		}
		return nil
	})
	return v, err
}

// Create inserts one row and returns it as stored. Filters of the query
// set do not apply.
func (qs *QuerySet[T]) Create(ctx context.Context, data Data) (*T, error) {
	objs, err := qs.CreateMany(ctx, []Data{data})
	if err != nil {
		return nil, err
	}
	if len(objs) != 1 {
		return nil, &MutationError{Model: qs.dao.entity.Name, Op: string(OpCreate), Err: fmt.Errorf("expected 1 returned row, got %d", len(objs))}
	}
	return objs[0], nil
}

// CreateMany inserts rows with one statement and returns them in input
// order. Rows may set different columns; a column missing from a row is
// sent as DEFAULT. No statement runs for an empty batch.
func (qs *QuerySet[T]) CreateMany(ctx context.Context, rows []Data) ([]*T, error) {
	d := qs.dao
	if d.err != nil {
		return nil, d.err
	}
	if len(rows) == 0 {
		return []*T{}, nil
	}
	resolved, err := resolveData(ctx, rows)
	if err != nil {
		return nil, err
	}
	data := make([]Data, len(resolved))
	for i, r := range resolved {
		data[i] = r
	}
	op, err := d.intercept(ctx, OpCreate, &state{}, data)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, len(op.Rows))
	for i, r := range op.Rows {
		payload[i] = r
	}
	b := builder.New(d.entity, nil)
	query, err := b.Insert(payload)
	if err != nil {
		return nil, d.compileError(err)
	}
	objs := make([]*T, 0, len(payload))
	m := d.mapper(nil)
	err = d.query(ctx, OpCreate, query, b.Params().Args(), func(row mapper.Row) error {
		res, err := m.Map(row)
		if err != nil {
			return err
		}
		objs = append(objs, res.Object.(*T))
		return nil
	})
	if err != nil {
		return nil, d.writeError(OpCreate, err)
	}
	return objs, nil
}

// Update sets data on every row of the query set and returns the number of
// rows changed. Data naming no writable column is a
// MissingUpdateDataError.
func (qs *QuerySet[T]) Update(ctx context.Context, data Data) (int64, error) {
	s, err := qs.prepare(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := resolveData(ctx, []Data{data})
	if err != nil {
		return 0, err
	}
	return qs.dao.mutate(ctx, OpUpdate, s, Data(rows[0]))
}

// Delete removes the rows of the query set matching every p and returns
// the number of rows removed.
func (qs *QuerySet[T]) Delete(ctx context.Context, p ...Predicate) (int64, error) {
	for _, pred := range p {
		qs = qs.Filter(pred)
	}
	s, err := qs.prepare(ctx)
	if err != nil {
		return 0, err
	}
	return qs.dao.mutate(ctx, OpDelete, s, nil)
}

// mutate runs an update or delete. Interceptors may turn one into the
// other.
func (d *DAO[T]) mutate(ctx context.Context, kind Op, s *state, data Data) (int64, error) {
	var rows []Data
	if data != nil {
		rows = []Data{data}
	}
	op, err := d.intercept(ctx, kind, s, rows)
	if err != nil {
		return 0, err
	}
	b := builder.New(d.entity, nil)
	var query string
	switch op.Op {
	case OpUpdate:
		query, err = b.Update(&op.state.query, op.Data)
	case OpDelete:
		query, err = b.Delete(&op.state.query)
	default:
		return 0, fmt.Errorf("nomnom: %s cannot run as %s", kind, op.Op)
	}
	if err != nil {
		return 0, d.compileError(err)
	}
	n, err := d.exec(ctx, op.Op, query, b.Params().Args())
	if err != nil {
		return 0, d.writeError(op.Op, err)
	}
	return n, nil
}

// errStop ends a read early without error.
var errStop = errors.New("nomnom: stop")

type rowFunc func(m *mapper.Mapper, s *state, row mapper.Row) error

func (qs *QuerySet[T]) read(ctx context.Context, kind Op, fn rowFunc) error {
	return qs.readWith(ctx, kind, nil, false, fn)
}

// readValues reads the projection of Values, or every column of the
// entity when the query set has none.
func (qs *QuerySet[T]) readValues(ctx context.Context, fn rowFunc) error {
	return qs.readWith(ctx, OpSelect, nil, true, fn)
}

// readWith compiles and runs a read, calling fn for every row.
func (qs *QuerySet[T]) readWith(ctx context.Context, kind Op, agg Annotation, project bool, fn rowFunc) error {
	d := qs.dao
	s, err := qs.prepare(ctx)
	if err != nil {
		return err
	}
	if project && s.values == nil {
		s.values = &projection{}
		s.query.Only = s.names(d.entity)
	}
	op, err := d.intercept(ctx, kind, s, nil)
	if err != nil {
		return err
	}
	q := &op.state.query
	b := builder.New(d.entity, nil)
	var query string
	switch kind {
	case OpCount:
		query, err = b.Count(q)
	case OpAggregate:
		query, err = b.Aggregate(q, agg)
	default:
		query, err = b.Select(q)
	}
	if err != nil {
		return d.compileError(err)
	}
	m := d.mapper(q.AnnotationNames())
	err = d.query(ctx, kind, query, b.Params().Args(), func(row mapper.Row) error {
		return fn(m, op.state, row)
	})
	if err != nil && !errors.Is(err, errStop) {
		return &QueryError{Model: d.entity.Name, Op: string(kind), Err: err}
	}
	return err
}

// query runs a statement returning rows and calls fn for each.
func (d *DAO[T]) query(ctx context.Context, kind Op, query string, args []any, fn func(mapper.Row) error) error {
	conn, err := d.reg.conn(ctx)
	if err != nil {
		return err
	}
	d.reg.emit(ctx, QueryEvent{Model: d.entity.Name, Op: kind, SQL: query, Args: args})
	ctx = sql.WithStatement(ctx, d.entity.Name, string(kind))
	rows := &sql.Rows{}
	if err := conn.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		values, err := rows.ScanValues(len(cols))
		if err != nil {
			return err
		}
		if err := fn(mapper.Row{Columns: cols, Values: values}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// exec runs a statement and returns the number of affected rows.
func (d *DAO[T]) exec(ctx context.Context, kind Op, query string, args []any) (int64, error) {
	conn, err := d.reg.conn(ctx)
	if err != nil {
		return 0, err
	}
	d.reg.emit(ctx, QueryEvent{Model: d.entity.Name, Op: kind, SQL: query, Args: args})
	ctx = sql.WithStatement(ctx, d.entity.Name, string(kind))
	var res sql.Result
	if err := conn.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// compileError converts the validation failures of the builder.
func (d *DAO[T]) compileError(err error) error {
	var errs entity.FieldErrors
	if errors.As(err, &errs) {
		return &ValidationError{Model: d.entity.Name, Errors: errs}
	}
	var fe *entity.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Model: d.entity.Name, Errors: []*FieldError{fe}}
	}
	if errors.Is(err, builder.ErrNoChanges) {
		return &MissingUpdateDataError{Model: d.entity.Name}
	}
	return err
}

// writeError maps unique violations to ConflictError and wraps other
// database errors.
func (d *DAO[T]) writeError(op Op, err error) error {
	if errors.Is(err, ErrNoDriver) {
		return err
	}
	cerr := d.reg.asConflict(d.entity.Name, err)
	if IsConflict(cerr) {
		return cerr
	}
	return &MutationError{Model: d.entity.Name, Op: string(op), Err: err}
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("nomnom: unexpected count type %T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
