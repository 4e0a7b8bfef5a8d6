package mapper

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/nomnom/internal/entity"
	"github.com/syssam/nomnom/schema/field"
)

type (
	Node struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}
	Ref struct {
		ID     int   `db:"id"`
		NodeID int   `db:"node_id"`
		Val    int   `db:"val"`
		Node   *Node `db:"node"`
	}
	Tree struct {
		ID       int    `db:"id"`
		Name     string `db:"name"`
		ParentID *int   `db:"parent_id"`
		Parent   *Tree  `db:"parent"`
	}
)

func setup(t *testing.T) (nodes, refs, trees *entity.Entity) {
	t.Helper()
	r := entity.NewRegistry()
	mk := func(typ reflect.Type, fields ...field.Field) *entity.Entity {
		descs := make([]*field.Descriptor, len(fields))
		for i, f := range fields {
			descs[i] = f.Descriptor()
		}
		e, err := entity.New(typ, descs, "", "")
		require.NoError(t, err)
		require.NoError(t, r.Register(e))
		return e
	}
	nodes = mk(reflect.TypeFor[Node](), field.String("name"))
	refs = mk(reflect.TypeFor[Ref](), field.ForeignKey[Node]("node"), field.Int("val"))
	trees = mk(reflect.TypeFor[Tree](), field.String("name"), field.ForeignKey[Tree]("parent").Nillable())
	return nodes, refs, trees
}

func intp(i int) *int { return &i }

// TestMap tests building nested objects from prefixed rows.
func TestMap(t *testing.T) {
	t.Parallel()
	nodes, refs, trees := setup(t)
	tests := []struct {
		name   string
		mapper *Mapper
		row    Row
		want   any
	}{
		{
			name:   "root",
			mapper: New(nodes),
			row:    Row{Columns: []string{"nodes.id", "nodes.name"}, Values: []any{int64(1), []byte("a")}},
			want:   &Node{ID: 1, Name: "a"},
		},
		{
			name:   "forward relation",
			mapper: New(refs),
			row: Row{
				Columns: []string{"refs.id", "refs.node_id", "refs.val", "refs.node.id", "refs.node.name"},
				Values:  []any{int64(1), int64(2), int64(3), int64(2), "n"},
			},
			want: &Ref{ID: 1, NodeID: 2, Val: 3, Node: &Node{ID: 2, Name: "n"}},
		},
		{
			name:   "relation not selected",
			mapper: New(refs),
			row:    Row{Columns: []string{"refs.id", "refs.node_id"}, Values: []any{int64(1), int64(2)}},
			want:   &Ref{ID: 1, NodeID: 2},
		},
		{
			name:   "null relation",
			mapper: New(trees),
			row: Row{
				Columns: []string{"trees.id", "trees.name", "trees.parent_id", "trees.parent.id", "trees.parent.name", "trees.parent.parent_id"},
				Values:  []any{int64(1), "root", nil, nil, nil, nil},
			},
			want: &Tree{ID: 1, Name: "root"},
		},
		{
			name:   "deepest first",
			mapper: New(trees),
			row: Row{
				Columns: []string{
					"trees.id", "trees.name", "trees.parent_id",
					"trees.parent.id", "trees.parent.name", "trees.parent.parent_id",
					"trees.parent.parent.id", "trees.parent.parent.name", "trees.parent.parent.parent_id",
				},
				Values: []any{int64(3), "leaf", int64(2), int64(2), "mid", int64(1), int64(1), "root", nil},
			},
			want: &Tree{
				ID: 3, Name: "leaf", ParentID: intp(2),
				Parent: &Tree{
					ID: 2, Name: "mid", ParentID: intp(1),
					Parent: &Tree{ID: 1, Name: "root"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := tt.mapper.Map(tt.row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Object)
			assert.Nil(t, res.Annotations)
		})
	}
}

// TestMapAnnotations tests annotation values are copied verbatim.
func TestMapAnnotations(t *testing.T) {
	t.Parallel()
	nodes, _, _ := setup(t)
	m := New(nodes, "total", "tags")
	res, err := m.Map(Row{
		Columns: []string{"nodes.id", "nodes.name", "nodes.total", "nodes.tags"},
		Values:  []any{int64(1), "a", int64(7), []byte("{x}")},
	})
	require.NoError(t, err)
	assert.Equal(t, &Node{ID: 1, Name: "a"}, res.Object)
	assert.Equal(t, map[string]any{"total": int64(7), "tags": []byte("{x}")}, res.Annotations)
}

// TestMapErrors tests rows the mapper cannot place.
func TestMapErrors(t *testing.T) {
	t.Parallel()
	nodes, refs, _ := setup(t)

	_, err := New(nodes).Map(Row{Columns: []string{"refs.id"}, Values: []any{1}})
	assert.EqualError(t, err, `mapper: unexpected column "refs.id"`)

	_, err = New(nodes).Map(Row{Columns: []string{"nodes.id"}})
	assert.Error(t, err)

	_, err = New(refs).Map(Row{Columns: []string{"refs.val.id"}, Values: []any{1}})
	assert.EqualError(t, err, "`val` is not a join-able column")

	_, err = New(nodes).Map(Row{Columns: []string{"nodes.id"}, Values: []any{"x"}})
	assert.ErrorContains(t, err, "mapper: decode nodes.id")
}

// TestValues tests the map and list projections.
func TestValues(t *testing.T) {
	t.Parallel()
	_, refs, _ := setup(t)
	m := New(refs, "total")
	row := Row{
		Columns: []string{"refs.val", "refs.node.name", "refs.node.id", "refs.total"},
		Values:  []any{[]byte("3"), []byte("n"), int64(2), int64(9)},
	}

	got, err := m.Values(row, []string{"val", "node.name", "node.id", "total"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"val":   int64(3),
		"node":  map[string]any{"name": "n", "id": int64(2)},
		"total": int64(9),
	}, got)

	list, err := m.List(row, []string{"node.name", "val", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []any{"n", int64(3), nil}, list)
}
