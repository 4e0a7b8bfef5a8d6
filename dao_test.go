package nomnom_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/nomnom"
	"github.com/syssam/nomnom/dialect/sql"
	"github.com/syssam/nomnom/schema/field"
)

type (
	Author struct {
		ID    int     `db:"id"`
		Name  string  `db:"name"`
		Email *string `db:"email"`
	}
	Book struct {
		ID       int     `db:"id"`
		Title    string  `db:"title"`
		Pages    int     `db:"pages"`
		AuthorID int     `db:"author_id"`
		Author   *Author `db:"author"`
	}
)

const (
	authorCols = `"authors"."id" AS "authors.id", "authors"."name" AS "authors.name", "authors"."email" AS "authors.email"`
	bookCols   = `"books"."id" AS "books.id", "books"."title" AS "books.title", "books"."pages" AS "books.pages", "books"."author_id" AS "books.author_id"`
	returning  = `RETURNING "id" AS "authors.id", "name" AS "authors.name", "email" AS "authors.email"`
)

type fixture struct {
	reg     *nomnom.Registry
	mock    sqlmock.Sqlmock
	authors *nomnom.DAO[Author]
	books   *nomnom.DAO[Book]
}

func setup(t *testing.T, opts ...nomnom.RegistryOption) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := nomnom.NewRegistry(append([]nomnom.RegistryOption{
		nomnom.WithDriver(sql.OpenDB("postgres", db)),
	}, opts...)...)
	authors, err := nomnom.Register[Author](reg, []field.Field{
		field.String("name").NotEmpty(),
		field.String("email").Optional().Nillable(),
	}, nomnom.WithScope("named", func(qs *nomnom.QuerySet[Author], args ...any) *nomnom.QuerySet[Author] {
		return qs.Filter(nomnom.Filter{"name": args[0]})
	}))
	require.NoError(t, err)
	books, err := nomnom.Register[Book](reg, []field.Field{
		field.String("title"),
		field.Int("pages").Optional().Min(0),
		field.ForeignKey[Author]("author"),
	})
	require.NoError(t, err)
	return &fixture{reg: reg, mock: mock, authors: authors, books: books}
}

func authorRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"authors.id", "authors.name", "authors.email"})
}

// TestQuerySetSQL tests the statements compiled from query set chains.
func TestQuerySetSQL(t *testing.T) {
	t.Parallel()
	f := setup(t)
	authors := f.authors
	lazy := nomnom.Defer(func(context.Context) (any, error) { return "lazy", nil })
	tests := []struct {
		name string
		qs   *nomnom.QuerySet[Author]
		sql  string
		args []any
	}{
		{
			name: "all",
			qs:   authors.All(),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" LIMIT ALL OFFSET 0`,
		},
		{
			name: "filter_order_slice",
			qs:   authors.Filter(nomnom.Filter{"name": "gary"}).Order("name").Order("-name").Slice(5, 15).Slice(2, 4),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE "authors"."name" = $1 ORDER BY "authors"."name" DESC LIMIT 2 OFFSET 7`,
			args: []any{"gary"},
		},
		{
			name: "open_slice",
			qs:   authors.All().Slice(3, nomnom.NoLimit),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" LIMIT ALL OFFSET 3`,
		},
		{
			name: "exclude",
			qs:   authors.Exclude(nomnom.Filter{"name": "gary"}),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE NOT "authors"."name" = $1 LIMIT ALL OFFSET 0`,
			args: []any{"gary"},
		},
		{
			name: "none",
			qs:   authors.All().None(),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE false LIMIT ALL OFFSET 0`,
		},
		{
			name: "empty_filter",
			qs:   authors.Filter(nomnom.Filter{}),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE 1=1 LIMIT ALL OFFSET 0`,
		},
		{
			name: "empty_any",
			qs:   authors.Filter(nomnom.Any{}),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE 1=1 LIMIT ALL OFFSET 0`,
		},
		{
			name: "any",
			qs:   authors.Filter(nomnom.Any{{"name": "a"}, {"name": "b"}}),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE ("authors"."name" = $1 OR "authors"."name" = $2) LIMIT ALL OFFSET 0`,
			args: []any{"a", "b"},
		},
		{
			name: "null",
			qs:   authors.Filter(nomnom.Filter{"email": nil}),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE "authors"."email" IS NULL LIMIT ALL OFFSET 0`,
		},
		{
			name: "lazy",
			qs:   authors.Filter(nomnom.Filter{"name": lazy}),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE "authors"."name" = $1 LIMIT ALL OFFSET 0`,
			args: []any{"lazy"},
		},
		{
			name: "scope",
			qs:   authors.All().Scope("named", "gary"),
			sql:  `SELECT ` + authorCols + ` FROM "authors" "authors" WHERE "authors"."name" = $1 LIMIT ALL OFFSET 0`,
			args: []any{"gary"},
		},
		{
			name: "values",
			qs:   authors.All().Values("name"),
			sql:  `SELECT "authors"."name" AS "authors.name" FROM "authors" "authors" LIMIT ALL OFFSET 0`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sql, args, err := tt.qs.SQL(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

// TestQuerySetImmutable tests chaining leaves the receiver unchanged.
func TestQuerySetImmutable(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	base := f.authors.Filter(nomnom.Filter{"name": "gary"})
	want, _, err := base.SQL(ctx)
	require.NoError(t, err)

	_ = base.Order("-id").Slice(0, 1).Exclude(nomnom.Filter{"email": nil})
	_ = base.Filter(nomnom.Filter{"id": 1})
	got, _, err := base.SQL(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestQuerySetErrors tests invalid chains fail when compiled.
func TestQuerySetErrors(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.authors.All().Slice(4, 2).SQL(ctx)
	assert.ErrorContains(t, err, "invalid slice")

	_, _, err = f.authors.All().Scope("nope").SQL(ctx)
	assert.ErrorContains(t, err, `has no scope "nope"`)

	_, _, err = f.authors.Filter(nomnom.Filter{"name": nomnom.Defer(func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})}).SQL(ctx)
	assert.EqualError(t, err, "boom")

	_, _, err = f.authors.Filter(nomnom.Filter{"nope": 1}).SQL(ctx)
	assert.Error(t, err)

	_, _, err = f.authors.Filter(nomnom.Filter{"name:gt": 1, "id:in": "x"}).SQL(ctx)
	var verr *nomnom.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"name:gt", "id:in"}, verr.Keys())

	_, _, err = f.books.SetFor("title", 1).SQL(ctx)
	assert.Error(t, err)
	_, _, err = f.books.SetFor("nope", 1).SQL(ctx)
	assert.Error(t, err)
}

// TestSubquery tests query sets used as in values.
func TestSubquery(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	sql, args, err := f.books.Filter(nomnom.Filter{
		"author:in": f.authors.Filter(nomnom.Filter{"name:startsWith": "G"}),
	}).SQL(ctx)
	require.NoError(t, err)
	assert.Equal(t, `SELECT `+bookCols+` FROM "books" "books" WHERE "books"."author_id" IN (SELECT "authors"."id" AS "authors.id" FROM "authors" "authors" WHERE "authors"."name" LIKE $1 LIMIT ALL OFFSET 0) LIMIT ALL OFFSET 0`, sql)
	assert.Equal(t, []any{"G%"}, args)

	_, _, err = f.books.Filter(nomnom.Filter{
		"author:in": f.authors.All().Values("id", "name"),
	}).SQL(ctx)
	assert.True(t, nomnom.IsValidationError(err))

	_, _, err = f.books.Filter(nomnom.Filter{"author": f.authors.All()}).SQL(ctx)
	assert.True(t, nomnom.IsValidationError(err))
}

// TestSubqueryInterceptors tests the interceptors of a sub-query's DAO
// narrow the sub-query.
func TestSubqueryInterceptors(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	var ops []nomnom.Op
	live := f.authors.Use(nomnom.InterceptFunc(func(_ context.Context, op *nomnom.Operation) error {
		ops = append(ops, op.Op)
		op.Where(nomnom.Filter{"email:isNull": true})
		return nil
	}))

	sql, args, err := f.books.Filter(nomnom.Filter{
		"author:in": live.Filter(nomnom.Filter{"name": "gary"}),
	}).SQL(ctx)
	require.NoError(t, err)
	assert.Contains(t, sql, `"books"."author_id" IN (SELECT "authors"."id" AS "authors.id" FROM "authors" "authors" WHERE (`)
	assert.Contains(t, sql, `"authors"."name" = $1`)
	assert.Contains(t, sql, `"authors"."email" IS NULL`)
	assert.Equal(t, []any{"gary"}, args)
	assert.Equal(t, []nomnom.Op{nomnom.OpSelect}, ops)

	denied := f.authors.Use(nomnom.InterceptFunc(func(context.Context, *nomnom.Operation) error {
		return errors.New("denied")
	}))
	_, _, err = f.books.Filter(nomnom.Filter{"author:notIn": denied.All()}).SQL(ctx)
	assert.EqualError(t, err, "denied")
}

// TestSetFor tests the rows of a parent.
func TestSetFor(t *testing.T) {
	t.Parallel()
	f := setup(t)
	sql, args, err := f.books.SetFor("author", &Author{ID: 3}).SQL(context.Background())
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "books"."author_id" = $1`)
	assert.Equal(t, []any{3}, args)
}

// TestGet tests the cardinality errors of Get.
func TestGet(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	query := regexp.QuoteMeta(`SELECT ` + authorCols + ` FROM "authors" "authors" WHERE "authors"."name" = $1 LIMIT 2 OFFSET 0`)

	f.mock.ExpectQuery(query).WithArgs("gary").WillReturnRows(authorRows())
	_, err := f.authors.Get(ctx, nomnom.Filter{"name": "gary"})
	require.Error(t, err)
	assert.True(t, nomnom.IsNotFound(err))
	assert.EqualError(t, err, "Author not found")

	f.mock.ExpectQuery(query).WithArgs("gary").WillReturnRows(authorRows().
		AddRow(int64(1), "gary", nil).
		AddRow(int64(2), "gary", "g@x.org"))
	_, err = f.authors.Get(ctx, nomnom.Filter{"name": "gary"})
	assert.True(t, nomnom.IsMultipleObjects(err))

	f.mock.ExpectQuery(query).WithArgs("gary").WillReturnRows(authorRows().
		AddRow(int64(2), "gary", "g@x.org"))
	a, err := f.authors.Get(ctx, nomnom.Filter{"name": "gary"})
	require.NoError(t, err)
	require.NotNil(t, a.Email)
	assert.Equal(t, Author{ID: 2, Name: "gary", Email: a.Email}, *a)
	assert.Equal(t, "g@x.org", *a.Email)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestReads tests the read terminals.
func TestReads(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) AS "result" FROM (SELECT "authors"."id" AS "authors.id" FROM "authors" "authors" WHERE "authors"."name" = $1 LIMIT ALL OFFSET 0) t0`)).
		WithArgs("gary").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(3)))
	n, err := f.authors.Filter(nomnom.Filter{"name": "gary"}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + authorCols + ` FROM "authors" "authors" ORDER BY "authors"."id" ASC LIMIT ALL OFFSET 0`)).
		WillReturnRows(authorRows().AddRow(int64(1), "a", nil).AddRow(int64(2), "b", nil))
	all, err := f.authors.All().Order("id").All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "b", all[1].Name)

	// Breaking out of Iter stops reading.
	f.mock.ExpectQuery(`SELECT .* FROM "authors"`).
		WillReturnRows(authorRows().AddRow(int64(1), "a", nil).AddRow(int64(2), "b", nil))
	var seen []string
	for a, err := range f.authors.All().Iter(ctx) {
		require.NoError(t, err)
		seen = append(seen, a.Name)
		break
	}
	assert.Equal(t, []string{"a"}, seen)

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT "authors"."name" AS "authors.name" FROM "authors" "authors"`)).
		WillReturnRows(sqlmock.NewRows([]string{"authors.name"}).AddRow("a").AddRow("b"))
	maps, err := f.authors.All().Values("name").Maps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "a"}, {"name": "b"}}, maps)

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT "authors"."id" AS "authors.id", "authors"."name" AS "authors.name" FROM "authors" "authors"`)).
		WillReturnRows(sqlmock.NewRows([]string{"authors.id", "authors.name"}).AddRow(int64(1), "a"))
	list, err := f.authors.All().ValuesList("name", "id").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a", int64(1)}}, list)

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT SUM("books"."pages") AS "result" FROM "books" "books"`)).
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(420)))
	total, err := f.books.All().Aggregate(ctx, func(ref func(string) string, _ func(any) string) string {
		return "SUM(" + ref("pages") + ")"
	})
	require.NoError(t, err)
	assert.Equal(t, int64(420), total)

	f.mock.ExpectQuery(`SELECT .* FROM "authors"`).WillReturnError(errors.New("connection reset"))
	_, err = f.authors.All().All(ctx)
	assert.True(t, nomnom.IsQueryError(err))
	assert.ErrorContains(t, err, "connection reset")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestCreateMany tests batched inserts.
func TestCreateMany(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	// No statement runs for an empty batch.
	objs, err := f.authors.CreateMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, objs)

	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "authors" ("name", "email") VALUES ($1, DEFAULT), ($2, $3) `+returning)).
		WithArgs("a", "b", "b@x.org").
		WillReturnRows(authorRows().AddRow(int64(1), "a", nil).AddRow(int64(2), "b", "b@x.org"))
	objs, err = f.authors.CreateMany(ctx, []nomnom.Data{
		{"name": "a"},
		{"name": "b", "email": "b@x.org"},
	})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, 1, objs[0].ID)
	assert.Nil(t, objs[0].Email)
	assert.Equal(t, "b@x.org", *objs[1].Email)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestCreateValidation tests invalid payloads are reported together and
// never reach the database.
func TestCreateValidation(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	_, err := f.authors.Create(ctx, nomnom.Data{"name": ""})
	var verr *nomnom.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"name"}, verr.Keys())
	assert.Equal(t, "Author", verr.Model)

	_, err = f.books.Create(ctx, nomnom.Data{"pages": -1})
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"author", "pages", "title"}, verr.Keys())

	_, err = f.authors.CreateMany(ctx, []nomnom.Data{{"name": "ok"}, {}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"[1].name"}, verr.Keys())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestCreateLater tests a payload referring to a row created first.
func TestCreateLater(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "authors" ("name") VALUES ($1) ` + returning)).
		WithArgs("Gary").
		WillReturnRows(authorRows().AddRow(int64(9), "Gary", nil))
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "books" ("title", "author_id") VALUES ($1, $2)`)).
		WithArgs("Memoir", int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"books.id", "books.title", "books.pages", "books.author_id"}).
			AddRow(int64(1), "Memoir", nil, int64(9)))
	book, err := f.books.Create(ctx, nomnom.Data{
		"title":  "Memoir",
		"author": f.authors.Later(nomnom.Data{"name": "Gary"}),
	})
	require.NoError(t, err)
	assert.Equal(t, Book{ID: 1, Title: "Memoir", AuthorID: 9}, *book)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestGetOrCreate tests the row is only created when missing.
func TestGetOrCreate(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	get := regexp.QuoteMeta(`WHERE "authors"."name" = $1 LIMIT 2 OFFSET 0`)

	f.mock.ExpectQuery(get).WithArgs("gary").WillReturnRows(authorRows().AddRow(int64(4), "gary", nil))
	a, created, err := f.authors.GetOrCreate(ctx, nomnom.Data{"name": "gary"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 4, a.ID)

	f.mock.ExpectQuery(get).WithArgs("gary").WillReturnRows(authorRows())
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "authors" ("name") VALUES ($1)`)).
		WithArgs("gary").
		WillReturnRows(authorRows().AddRow(int64(5), "gary", nil))
	a, created, err = f.authors.GetOrCreate(ctx, nomnom.Data{"name": "gary"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 5, a.ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestUpdateDelete tests mutations and their joins.
func TestUpdateDelete(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectExec(regexp.QuoteMeta(`UPDATE "authors" "authors" SET "name" = $1 WHERE "authors"."id" = $2`)).
		WithArgs("gary", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := f.authors.Filter(nomnom.Filter{"id": 1}).Update(ctx, nomnom.Data{"name": "gary", "nope": true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.authors.All().Update(ctx, nomnom.Data{"nope": true})
	assert.True(t, nomnom.IsMissingUpdateData(err))

	_, err = f.authors.All().Update(ctx, nomnom.Data{"name": ""})
	assert.True(t, nomnom.IsValidationError(err))

	f.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "books" "books" USING "authors" "authors" WHERE ("authors"."name" = $1 AND "books"."author_id" = "authors"."id")`)).
		WithArgs("gary").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err = f.books.All().Delete(ctx, nomnom.Filter{"author.name": "gary"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	f.mock.ExpectExec(`DELETE FROM "authors"`).WillReturnError(errors.New("deadlock"))
	_, err = f.authors.All().Delete(ctx)
	assert.True(t, nomnom.IsMutationError(err))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestConflict tests unique violations become conflict errors.
func TestConflict(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	f.reg.DescribeConflict("authors_email_key", "an author with this email already exists", "email")

	f.mock.ExpectQuery(`INSERT INTO "authors"`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "authors_email_key", Message: `duplicate key value violates unique constraint "authors_email_key"`})
	_, err := f.authors.Create(ctx, nomnom.Data{"name": "a", "email": "a@x.org"})
	var cerr *nomnom.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "authors_email_key", cerr.Constraint)
	assert.Equal(t, "email", cerr.Kind)
	assert.Equal(t, "Author conflict: an author with this email already exists", cerr.Error())
	assert.ErrorIs(t, err, nomnom.ErrConflict)

	f.mock.ExpectExec(`UPDATE "authors"`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "authors_name_key", Message: `duplicate key value violates unique constraint "authors_name_key"`})
	_, err = f.authors.All().Update(ctx, nomnom.Data{"name": "b"})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "authors_name_key", cerr.Constraint)
	assert.Empty(t, cerr.Kind)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestWithTx tests commit, rollback and nesting of transactions.
func TestWithTx(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`INSERT INTO "authors"`).WillReturnRows(authorRows().AddRow(int64(1), "a", nil))
	f.mock.ExpectCommit()
	err := f.reg.WithTx(ctx, func(ctx context.Context) error {
		_, err := f.authors.Create(ctx, nomnom.Data{"name": "a"})
		require.NoError(t, err)
		nested := f.reg.WithTx(ctx, func(context.Context) error { return nil })
		assert.ErrorIs(t, nested, nomnom.ErrTxStarted)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.reg.WithTx(ctx, func(context.Context) error { return nil }))

	boom := errors.New("boom")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err = f.reg.WithTx(ctx, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback().WillReturnError(errors.New("gone"))
	err = f.reg.WithTx(ctx, func(context.Context) error { return boom })
	var rerr *nomnom.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, boom)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	assert.PanicsWithValue(t, "oops", func() {
		_ = f.reg.WithTx(ctx, func(context.Context) error { panic("oops") })
	})
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestOnQuery tests statement hooks and debug logging.
func TestOnQuery(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := setup(t, nomnom.WithLogger(logger))
	ctx := context.Background()
	var events []nomnom.QueryEvent
	f.reg.OnQuery(func(_ context.Context, ev nomnom.QueryEvent) {
		events = append(events, ev)
	})

	f.mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(0)))
	_, err := f.authors.Filter(nomnom.Filter{"name": "gary"}).Count(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Author", events[0].Model)
	assert.Equal(t, nomnom.OpCount, events[0].Op)
	assert.Equal(t, []any{"gary"}, events[0].Args)
	assert.Contains(t, buf.String(), "compiled statement")
	assert.Contains(t, buf.String(), "entity=Author")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestStatementStats tests statements are counted per entity and operation.
func TestStatementStats(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	stats := sql.NewStatsDriver(sql.OpenDB("postgres", db))
	f := setup(t, nomnom.WithDriver(stats))
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(2)))
	mock.ExpectExec(`UPDATE "authors"`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("boom"))
	_, err = f.authors.All().Count(ctx)
	require.NoError(t, err)
	_, err = f.authors.All().Update(ctx, nomnom.Data{"name": "b"})
	require.NoError(t, err)
	_, err = f.books.All().Count(ctx)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	qs := stats.QueryStats()
	assert.Equal(t, []sql.Statement{
		{Model: "Author", Op: string(nomnom.OpCount)},
		{Model: "Author", Op: string(nomnom.OpUpdate)},
		{Model: "Book", Op: string(nomnom.OpCount)},
	}, qs.Labels())
	assert.EqualValues(t, 1, qs.Get(sql.Statement{Model: "Book", Op: "count"}).Errors)
	assert.EqualValues(t, 3, qs.Total().Count)
}

// TestNoDriver tests operations need a driver or a connection.
func TestNoDriver(t *testing.T) {
	t.Parallel()
	reg := nomnom.NewRegistry()
	authors, err := nomnom.Register[Author](reg, []field.Field{field.String("name")})
	require.NoError(t, err)
	_, err = authors.All().Count(context.Background())
	assert.ErrorIs(t, err, nomnom.ErrNoDriver)
	assert.ErrorIs(t, reg.WithTx(context.Background(), func(context.Context) error { return nil }), nomnom.ErrNoDriver)
}

// TestUse tests interceptors decorate a copy of the DAO.
func TestUse(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()
	var ops []nomnom.Op
	named := f.authors.Use(nomnom.InterceptFunc(func(_ context.Context, op *nomnom.Operation) error {
		ops = append(ops, op.Op)
		op.Where(nomnom.Filter{"name": "gary"})
		return nil
	}))

	sql, args, err := named.All().SQL(ctx)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "authors"."name" = $1`)
	assert.Equal(t, []any{"gary"}, args)
	assert.Equal(t, []nomnom.Op{nomnom.OpSelect}, ops)

	sql, _, err = f.authors.All().SQL(ctx)
	require.NoError(t, err)
	assert.NotContains(t, sql, "WHERE")

	failing := f.authors.Use(nomnom.InterceptFunc(func(context.Context, *nomnom.Operation) error {
		return errors.New("denied")
	}))
	_, err = failing.Create(ctx, nomnom.Data{"name": "a"})
	assert.EqualError(t, err, "denied")
	require.NoError(t, f.mock.ExpectationsWereMet())
}
