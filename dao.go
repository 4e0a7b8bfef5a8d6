package nomnom

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/syssam/nomnom/internal/entity"
	"github.com/syssam/nomnom/internal/mapper"
	"github.com/syssam/nomnom/schema/field"
)

// ScopeFunc is a named query set helper registered with WithScope.
type ScopeFunc[T any] func(qs *QuerySet[T], args ...any) *QuerySet[T]

// Option configures the registration of an entity.
type Option func(*options)

type options struct {
	table  string
	pk     string
	scopes map[string]any
}

// Table sets the table name. Default is the pluralized snake case type
// name: TestFoo is stored in test_foos.
func Table(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

// PrimaryKey sets the primary key column. Default is "id", added as an
// integer column when no field declares it.
func PrimaryKey(name string) Option {
	return func(o *options) {
		o.pk = name
	}
}

// WithScope registers a scope applied with QuerySet.Scope.
//
//	nomnom.WithScope("published", func(qs *nomnom.QuerySet[Book], _ ...any) *nomnom.QuerySet[Book] {
//		return qs.Filter(nomnom.Filter{"published_at:isNull": false})
//	})
func WithScope[T any](name string, fn ScopeFunc[T]) Option {
	return func(o *options) {
		if o.scopes == nil {
			o.scopes = make(map[string]any)
		}
		o.scopes[name] = fn
	}
}

// DAO gives access to the rows of the entity registered for T.
type DAO[T any] struct {
	reg     *Registry
	entity  *entity.Entity
	scopes  map[string]ScopeFunc[T]
	inters  []Interceptor
	mappers *sync.Map // annotation set -> *mapper.Mapper
	err     error
}

// Register binds the struct type T to a table described by fields. Struct
// fields are matched to columns by their `db` tag or snake case name.
// Relations to types registered later are resolved when those register.
//
//	type Author struct {
//		ID   int    `db:"id"`
//		Name string `db:"name"`
//	}
//
//	authors, err := nomnom.Register[Author](reg, []field.Field{
//		field.String("name").NotEmpty(),
//	})
func Register[T any](r *Registry, fields []field.Field, opts ...Option) (*DAO[T], error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	descs := make([]*field.Descriptor, len(fields))
	for i, f := range fields {
		descs[i] = f.Descriptor()
	}
	e, err := entity.New(reflect.TypeFor[T](), descs, o.table, o.pk)
	if err != nil {
		return nil, err
	}
	d := &DAO[T]{
		reg:     r,
		entity:  e,
		scopes:  make(map[string]ScopeFunc[T], len(o.scopes)),
		mappers: &sync.Map{},
	}
	for name, fn := range o.scopes {
		scope, ok := fn.(ScopeFunc[T])
		if !ok {
			return nil, fmt.Errorf("nomnom: scope %q of %s has type %T", name, e.Name, fn)
		}
		d.scopes[name] = scope
	}
	if err := r.entities.Register(e); err != nil {
		return nil, err
	}
	return d, nil
}

// Model returns the Go type name of the entity.
func (d *DAO[T]) Model() string { return d.entity.Name }

// Table returns the table of the entity.
func (d *DAO[T]) Table() string { return d.entity.Table }

// Use returns a copy of the DAO whose operations pass through inters, after
// the interceptors already in use. The receiver is unchanged. An
// interceptor failing to install is reported by every operation of the
// returned DAO.
func (d *DAO[T]) Use(inters ...Interceptor) *DAO[T] {
	c := *d
	c.inters = append(slices.Clip(d.inters), inters...)
	for _, in := range inters {
		if i, ok := in.(Installer); ok && c.err == nil {
			c.err = i.Install(Schema{e: d.entity})
		}
	}
	return &c
}

// All returns a query set of every row.
func (d *DAO[T]) All() *QuerySet[T] {
	return &QuerySet[T]{dao: d}
}

// Filter returns a query set of the rows matching p.
func (d *DAO[T]) Filter(p Predicate) *QuerySet[T] {
	return d.All().Filter(p)
}

// Exclude returns a query set of the rows not matching p.
func (d *DAO[T]) Exclude(p Predicate) *QuerySet[T] {
	return d.All().Exclude(p)
}

// Get returns the one row matching p.
func (d *DAO[T]) Get(ctx context.Context, p Predicate) (*T, error) {
	return d.All().Get(ctx, p)
}

// Create inserts one row and returns it as stored.
func (d *DAO[T]) Create(ctx context.Context, data Data) (*T, error) {
	return d.All().Create(ctx, data)
}

// CreateMany inserts rows with one statement and returns them in order.
func (d *DAO[T]) CreateMany(ctx context.Context, rows []Data) ([]*T, error) {
	return d.All().CreateMany(ctx, rows)
}

// GetOrCreate returns the row matching data, creating it when none does.
// created reports if the row was inserted.
func (d *DAO[T]) GetOrCreate(ctx context.Context, data Data) (obj *T, created bool, err error) {
	rows, err := resolveData(ctx, []Data{data})
	if err != nil {
		return nil, false, err
	}
	resolved := Data(rows[0])
	obj, err = d.Get(ctx, Filter(resolved))
	switch {
	case err == nil:
		return obj, false, nil
	case !IsNotFound(err):
		return nil, false, err
	}
	if obj, err = d.Create(ctx, resolved); err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// SetFor returns the rows whose relation fk references parent. parent may
// be an object of the related entity, its primary key, or a Lazy.
func (d *DAO[T]) SetFor(fk string, parent any) *QuerySet[T] {
	c, err := d.entity.Column(fk)
	if err != nil {
		return d.All().chain(node{err: err})
	}
	if r, ok := c.(*entity.ForeignKey); !ok || !r.Forward() {
		return d.All().chain(node{err: entity.NotJoinable(d.entity.Name, fk)})
	}
	return d.Filter(Filter{fk: parent})
}

// Later returns a Lazy creating data when resolved. It lets a payload
// refer to a row that does not exist yet:
//
//	book, err := books.Create(ctx, nomnom.Data{
//		"title":  "Memoir",
//		"author": authors.Later(nomnom.Data{"name": "Gary"}),
//	})
func (d *DAO[T]) Later(data Data) Lazy {
	return LazyFunc(func(ctx context.Context) (any, error) {
		return d.Create(ctx, data)
	})
}

// mapper returns the shared row mapper of the annotation set.
func (d *DAO[T]) mapper(annotations []string) *mapper.Mapper {
	key := strings.Join(annotations, "\x00")
	if m, ok := d.mappers.Load(key); ok {
		return m.(*mapper.Mapper)
	}
	m, _ := d.mappers.LoadOrStore(key, mapper.New(d.entity, annotations...))
	return m.(*mapper.Mapper)
}
