// Package mapper turns flat result rows into nested domain objects.
//
// Result columns are named "<table>.<path>", where path is a column name
// optionally prefixed by the relations it was reached through, e.g.
// "refs.node.name". Columns sharing a prefix make up one object; objects are
// built deepest first and attached to their parent under the relation name.
package mapper

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/syssam/nomnom/internal/entity"
)

// Row is one result row: column labels and their values, in order.
type Row struct {
	Columns []string
	Values  []any
}

// Result is a mapped row.
type Result struct {
	// Object is a pointer to the root entity struct.
	Object any
	// Annotations holds the annotation values of the row, by name.
	Annotations map[string]any
}

// Mapper maps rows of one entity and annotation set. It holds no per-row
// state and may be shared.
type Mapper struct {
	entity      *entity.Entity
	prefix      string
	annotations map[string]bool
	paths       sync.Map // relation path -> *entity.Entity
}

// New returns a mapper for rows of e carrying the named annotations.
func New(e *entity.Entity, annotations ...string) *Mapper {
	m := &Mapper{
		entity:      e,
		prefix:      e.Table + ".",
		annotations: make(map[string]bool, len(annotations)),
	}
	for _, name := range annotations {
		m.annotations[name] = true
	}
	m.paths.Store("", e)
	return m
}

type group struct {
	path   string
	entity *entity.Entity
	attrs  map[string]any
	null   bool
}

// Map builds the object of row. A relation whose columns are all NULL is
// left nil.
func (m *Mapper) Map(row Row) (*Result, error) {
	if len(row.Columns) != len(row.Values) {
		return nil, fmt.Errorf("mapper: %d columns for %d values", len(row.Columns), len(row.Values))
	}
	res := &Result{}
	groups := make(map[string]*group)
	for i, label := range row.Columns {
		key, ok := strings.CutPrefix(label, m.prefix)
		if !ok {
			return nil, fmt.Errorf("mapper: unexpected column %q", label)
		}
		if m.annotations[key] {
			if res.Annotations == nil {
				res.Annotations = make(map[string]any, len(m.annotations))
			}
			res.Annotations[key] = row.Values[i]
			continue
		}
		path, name := split(key)
		g, ok := groups[path]
		if !ok {
			e, err := m.resolve(path)
			if err != nil {
				return nil, err
			}
			g = &group{path: path, entity: e, attrs: make(map[string]any), null: true}
			groups[path] = g
		}
		v := row.Values[i]
		if v != nil {
			g.null = false
		}
		// Columns unknown to the entity are passed through undecoded.
		if c, err := g.entity.Column(name); err == nil {
			if s, ok := c.(*entity.Scalar); ok {
				if v, err = s.Decode(v); err != nil {
					return nil, fmt.Errorf("mapper: decode %s: %w", label, err)
				}
			}
		}
		g.attrs[name] = v
	}
	obj, err := build(groups)
	if err != nil {
		return nil, err
	}
	res.Object = obj
	return res, nil
}

// build instantiates the groups deepest first and returns the root object.
func build(groups map[string]*group) (any, error) {
	paths := make([]string, 0, len(groups))
	for p := range groups {
		paths = append(paths, p)
	}
	slices.SortFunc(paths, func(a, b string) int { return depth(b) - depth(a) })
	built := make(map[string]any, len(paths))
	for _, p := range paths {
		g := groups[p]
		if g.null && p != "" {
			built[p] = nil
			continue
		}
		for child, obj := range built {
			parent, rel := split(child)
			if parent == p && child != "" && obj != nil {
				g.attrs[rel] = obj
			}
		}
		obj, err := g.entity.Binding.New(g.attrs)
		if err != nil {
			return nil, fmt.Errorf("mapper: %w", err)
		}
		built[p] = obj
	}
	return built[""], nil
}

// resolve returns the entity reached through the forward relations of path.
func (m *Mapper) resolve(path string) (*entity.Entity, error) {
	if e, ok := m.paths.Load(path); ok {
		return e.(*entity.Entity), nil
	}
	parent, rel := split(path)
	owner, err := m.resolve(parent)
	if err != nil {
		return nil, err
	}
	c, err := owner.Column(rel)
	if err != nil {
		return nil, err
	}
	fk, ok := c.(*entity.ForeignKey)
	if !ok || !fk.Forward() {
		return nil, entity.NotJoinable(owner.Name, rel)
	}
	target, err := fk.Target()
	if err != nil {
		return nil, err
	}
	m.paths.Store(path, target)
	return target, nil
}

// split cuts a dotted key into its relation path and final name.
func split(key string) (string, string) {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

func depth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}
