// Package mixin provides common decorators for nomnom DAOs.
//
// These mixins are OPTIONAL and provided as convenient starting points.
// A mixin is an interceptor added with DAO.Use; the undecorated DAO keeps
// its behavior. Each mixin also lists the fields it manages so they can be
// declared at registration.
//
// Available mixins:
//   - CreateTime: sets created_at on create
//   - UpdateTime: sets updated_at on create and update
//   - Time: combines CreateTime and UpdateTime
//   - SoftDelete: hides rows with deleted_at set and turns deletes into updates
//   - TimeSoftDelete: combines Time and SoftDelete
//   - JSON: encodes structured values of a column as JSON text
//   - UUID, ULID: generate primary keys
//
// Usage:
//
//	import "github.com/syssam/nomnom/contrib/mixin"
//
//	fields := append([]field.Field{
//	    field.String("name"),
//	}, mixin.TimeSoftDelete{}.Fields()...)
//	users, err := nomnom.Register[User](reg, fields)
//	live := users.Use(mixin.TimeSoftDelete{})
package mixin

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/syssam/nomnom"
	"github.com/syssam/nomnom/schema/field"
)

// now is the clock of the timestamp mixins.
var now = time.Now

// softDeleteMarker is the entity marker holding the soft delete column.
// Joined entities carrying it are filtered too.
const softDeleteMarker = "mixin.soft_delete"

// CreateTime sets a time column on create when the payload leaves it
// unset. Default column is created_at.
type CreateTime struct {
	Column string
}

func (m CreateTime) column() string { return or(m.Column, "created_at") }

// Fields of the create time mixin.
func (m CreateTime) Fields() []field.Field {
	return []field.Field{field.Time(m.column()).Optional()}
}

// Install checks the column exists.
func (m CreateTime) Install(s nomnom.Schema) error {
	return scalar(s, m.column())
}

// Intercept implements nomnom.Interceptor.
func (m CreateTime) Intercept(_ context.Context, op *nomnom.Operation) error {
	if op.Op == nomnom.OpCreate {
		ts := now()
		for _, row := range op.Rows {
			fill(row, m.column(), ts)
		}
	}
	return nil
}

// UpdateTime sets a time column on create and update when the payload
// leaves it unset. Default column is updated_at.
type UpdateTime struct {
	Column string
}

func (m UpdateTime) column() string { return or(m.Column, "updated_at") }

// Fields of the update time mixin.
func (m UpdateTime) Fields() []field.Field {
	return []field.Field{field.Time(m.column()).Optional()}
}

// Install checks the column exists.
func (m UpdateTime) Install(s nomnom.Schema) error {
	return scalar(s, m.column())
}

// Intercept implements nomnom.Interceptor.
func (m UpdateTime) Intercept(_ context.Context, op *nomnom.Operation) error {
	ts := now()
	switch op.Op {
	case nomnom.OpCreate:
		for _, row := range op.Rows {
			fill(row, m.column(), ts)
		}
	case nomnom.OpUpdate:
		if op.Data == nil {
			op.Data = nomnom.Data{}
		}
		fill(op.Data, m.column(), ts)
	}
	return nil
}

// Time composes CreateTime and UpdateTime. Default columns are created_at
// and updated_at.
type Time struct {
	Created string
	Updated string
}

func (m Time) parts() []nomnom.Interceptor {
	return []nomnom.Interceptor{CreateTime{Column: m.Created}, UpdateTime{Column: m.Updated}}
}

// Fields of the time mixin.
func (m Time) Fields() []field.Field {
	return append(
		CreateTime{Column: m.Created}.Fields(),
		UpdateTime{Column: m.Updated}.Fields()...,
	)
}

// Install checks the columns exist.
func (m Time) Install(s nomnom.Schema) error { return install(s, m.parts()) }

// Intercept implements nomnom.Interceptor.
func (m Time) Intercept(ctx context.Context, op *nomnom.Operation) error {
	return intercept(ctx, op, m.parts())
}

// SoftDelete keeps deleted rows in place. Reads and updates skip rows with
// the column set, and so do filters through relations to other soft
// deleted entities. Deletes set the column to the current time instead.
// Default column is deleted_at.
type SoftDelete struct {
	Column string
}

func (m SoftDelete) column() string { return or(m.Column, "deleted_at") }

// Fields of the soft delete mixin.
func (m SoftDelete) Fields() []field.Field {
	return []field.Field{field.Time(m.column()).Optional().Nillable()}
}

// Install checks the column exists and marks the entity, so queries of
// other entities joining it skip its deleted rows.
func (m SoftDelete) Install(s nomnom.Schema) error {
	col := m.column()
	if err := scalar(s, col); err != nil {
		return err
	}
	if cur, ok := s.Marker(softDeleteMarker); ok && cur != col {
		return fmt.Errorf("mixin: the column %q of %s is already configured for soft deletions", cur, s.Model())
	}
	s.Mark(softDeleteMarker, col)
	return nil
}

// Intercept implements nomnom.Interceptor.
func (m SoftDelete) Intercept(_ context.Context, op *nomnom.Operation) error {
	if op.Op == nomnom.OpCreate {
		return nil
	}
	col := m.column()
	live := nomnom.Filter{col + ":isNull": true}
	for _, path := range op.Paths() {
		bits := strings.Split(path, ".")
		s := op.Schema()
		for i := range len(bits) - 1 {
			rel, ok := s.Related(bits[i])
			if !ok {
				break
			}
			relCol, ok := rel.Marker(softDeleteMarker)
			if !ok {
				break
			}
			live[strings.Join(bits[:i+1], ".")+"."+relCol+":isNull"] = true
			s = rel
		}
	}
	op.Where(live)
	if op.Op == nomnom.OpDelete {
		op.Op = nomnom.OpUpdate
		op.Data = nomnom.Data{col: now()}
	}
	return nil
}

// TimeSoftDelete composes Time and SoftDelete.
type TimeSoftDelete struct {
	Created string
	Updated string
	Deleted string
}

func (m TimeSoftDelete) parts() []nomnom.Interceptor {
	return []nomnom.Interceptor{
		SoftDelete{Column: m.Deleted},
		Time{Created: m.Created, Updated: m.Updated},
	}
}

// Fields of the time soft delete mixin.
func (m TimeSoftDelete) Fields() []field.Field {
	return append(
		Time{Created: m.Created, Updated: m.Updated}.Fields(),
		SoftDelete{Column: m.Deleted}.Fields()...,
	)
}

// Install checks the columns exist and marks the entity.
func (m TimeSoftDelete) Install(s nomnom.Schema) error { return install(s, m.parts()) }

// Intercept implements nomnom.Interceptor. The soft delete runs first, so
// a delete turned into an update also sets the update time.
func (m TimeSoftDelete) Intercept(ctx context.Context, op *nomnom.Operation) error {
	return intercept(ctx, op, m.parts())
}

// JSON stores structured values of a column as JSON text. Strings and
// byte slices are written as given.
type JSON struct {
	Column string
}

// Fields of the JSON mixin.
func (m JSON) Fields() []field.Field {
	return []field.Field{field.String(m.Column).Optional().Nillable()}
}

// Install checks the column exists.
func (m JSON) Install(s nomnom.Schema) error {
	if m.Column == "" {
		return fmt.Errorf("mixin: JSON of %s needs a column", s.Model())
	}
	return scalar(s, m.Column)
}

// Intercept implements nomnom.Interceptor.
func (m JSON) Intercept(_ context.Context, op *nomnom.Operation) error {
	switch op.Op {
	case nomnom.OpCreate:
		for _, row := range op.Rows {
			if err := m.encode(row); err != nil {
				return err
			}
		}
	case nomnom.OpUpdate:
		return m.encode(op.Data)
	}
	return nil
}

func (m JSON) encode(row nomnom.Data) error {
	v, ok := row[m.Column]
	if !ok {
		return nil
	}
	switch v.(type) {
	case nil, string, []byte:
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mixin: encoding %s: %w", m.Column, err)
	}
	row[m.Column] = string(b)
	return nil
}

// UUID fills a column with a random UUID on create. Default column is id.
type UUID struct {
	Column string
}

func (m UUID) column() string { return or(m.Column, "id") }

// Fields of the UUID mixin.
func (m UUID) Fields() []field.Field {
	return []field.Field{field.UUID(m.column()).Optional()}
}

// Install checks the column exists.
func (m UUID) Install(s nomnom.Schema) error { return scalar(s, m.column()) }

// Intercept implements nomnom.Interceptor.
func (m UUID) Intercept(_ context.Context, op *nomnom.Operation) error {
	if op.Op == nomnom.OpCreate {
		for _, row := range op.Rows {
			if cur, ok := row[m.column()]; !ok || zero(cur) {
				row[m.column()] = uuid.New()
			}
		}
	}
	return nil
}

// ULID fills a column with a monotonic ULID on create. Default column is id.
type ULID struct {
	Column string
}

func (m ULID) column() string { return or(m.Column, "id") }

// Fields of the ULID mixin.
func (m ULID) Fields() []field.Field {
	return []field.Field{field.ULID(m.column()).Optional()}
}

// Install checks the column exists.
func (m ULID) Install(s nomnom.Schema) error { return scalar(s, m.column()) }

// Intercept implements nomnom.Interceptor.
func (m ULID) Intercept(_ context.Context, op *nomnom.Operation) error {
	if op.Op == nomnom.OpCreate {
		for _, row := range op.Rows {
			if cur, ok := row[m.column()]; !ok || zero(cur) {
				row[m.column()] = ulid.Make()
			}
		}
	}
	return nil
}

// or returns s, or def when s is empty.
func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// fill sets row[col] to v when it is missing or zero.
func fill(row nomnom.Data, col string, v any) {
	if cur, ok := row[col]; ok && !zero(cur) {
		return
	}
	row[col] = v
}

func zero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero() || rv.Kind() == reflect.Pointer && rv.Elem().IsZero()
}

// scalar reports an error when col is not a stored column of s.
func scalar(s nomnom.Schema, col string) error {
	if !s.HasScalar(col) {
		return fmt.Errorf("mixin: column %q does not exist on %s or is a relation", col, s.Model())
	}
	return nil
}

func install(s nomnom.Schema, parts []nomnom.Interceptor) error {
	for _, p := range parts {
		if i, ok := p.(nomnom.Installer); ok {
			if err := i.Install(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func intercept(ctx context.Context, op *nomnom.Operation, parts []nomnom.Interceptor) error {
	for _, p := range parts {
		if err := p.Intercept(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ nomnom.Interceptor = CreateTime{}
	_ nomnom.Interceptor = UpdateTime{}
	_ nomnom.Interceptor = Time{}
	_ nomnom.Interceptor = SoftDelete{}
	_ nomnom.Interceptor = TimeSoftDelete{}
	_ nomnom.Interceptor = JSON{}
	_ nomnom.Interceptor = UUID{}
	_ nomnom.Interceptor = ULID{}
	_ nomnom.Installer   = TimeSoftDelete{}
)
