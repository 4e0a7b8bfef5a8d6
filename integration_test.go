//go:build integration

package nomnom_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/syssam/nomnom"
	"github.com/syssam/nomnom/dialect/sql"
	"github.com/syssam/nomnom/schema/field"
)

var ddl = []string{
	`CREATE TABLE authors (
		id    serial PRIMARY KEY,
		name  text NOT NULL CONSTRAINT authors_name_key UNIQUE,
		email text
	)`,
	`CREATE TABLE books (
		id        serial PRIMARY KEY,
		title     text NOT NULL,
		pages     integer,
		author_id integer NOT NULL REFERENCES authors (id)
	)`,
}

func startPostgres(t *testing.T) *sql.Driver {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("nomnom"),
		postgres.WithUsername("nomnom"),
		postgres.WithPassword("nomnom"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := sql.DefaultConfig()
	cfg.DSN = dsn
	drv, err := sql.OpenConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	for _, stmt := range ddl {
		require.NoError(t, drv.Exec(ctx, stmt, []any{}, nil))
	}
	return drv
}

// TestPostgres runs the DAO operations against a real server.
func TestPostgres(t *testing.T) {
	drv := startPostgres(t)
	ctx := context.Background()
	reg := nomnom.NewRegistry(nomnom.WithDriver(drv))
	reg.DescribeConflict("authors_name_key", "an author with this name already exists", "name")
	authors, err := nomnom.Register[Author](reg, []field.Field{
		field.String("name").NotEmpty(),
		field.String("email").Optional().Nillable(),
	})
	require.NoError(t, err)
	books, err := nomnom.Register[Book](reg, []field.Field{
		field.String("title"),
		field.Int("pages").Optional().Nillable(),
		field.ForeignKey[Author]("author"),
	})
	require.NoError(t, err)

	created, err := authors.CreateMany(ctx, []nomnom.Data{
		{"name": "Gary"},
		{"name": "Ursula", "email": "ul@example.org"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	gary, ursula := created[0], created[1]
	assert.Nil(t, gary.Email)
	assert.Equal(t, "ul@example.org", *ursula.Email)

	_, err = authors.Create(ctx, nomnom.Data{"name": "Gary"})
	assert.True(t, nomnom.IsConflict(err))

	err = reg.WithTx(ctx, func(ctx context.Context) error {
		_, err := books.CreateMany(ctx, []nomnom.Data{
			{"title": "Memoir", "author": gary, "pages": 120},
			{"title": "Earthsea", "author": ursula.ID},
			{"title": "Lathe", "author_id": ursula.ID, "pages": 180},
		})
		return err
	})
	require.NoError(t, err)

	n, err := books.Filter(nomnom.Filter{"author.name:iStartsWith": "urs"}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	withBooks, err := authors.Filter(nomnom.Filter{"books.pages:gt": 100}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), withBooks)

	book, err := books.Get(ctx, nomnom.Filter{"title": "Earthsea"})
	require.NoError(t, err)
	assert.Equal(t, ursula.ID, book.AuthorID)

	titles, err := books.SetFor("author", ursula).Order("-title").ValuesList("title").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Lathe"}, {"Earthsea"}}, titles)

	// Rolled back writes are not visible.
	err = reg.WithTx(ctx, func(ctx context.Context) error {
		if _, err := books.Filter(nomnom.Filter{"author": gary}).Delete(ctx); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	updated, err := books.Filter(nomnom.Filter{"author.name": "Ursula"}).Update(ctx, nomnom.Data{"pages": 200})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	deleted, err := books.All().Delete(ctx, nomnom.Filter{"author.name": "Gary"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = authors.Get(ctx, nomnom.Filter{"name": "Nobody"})
	assert.True(t, nomnom.IsNotFound(err))
}
