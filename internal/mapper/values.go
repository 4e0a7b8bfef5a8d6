package mapper

import (
	"fmt"
	"strings"

	"github.com/syssam/nomnom/internal/entity"
)

// Values maps the named columns of row into nested maps keyed by the
// segments of each dotted name: "node.name" becomes {"node": {"name": v}}.
func (m *Mapper) Values(row Row, names []string) (map[string]any, error) {
	vals, err := m.List(row, names)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for i, name := range names {
		bits := strings.Split(name, ".")
		cur := out
		for _, b := range bits[:len(bits)-1] {
			next, ok := cur[b].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[b] = next
			}
			cur = next
		}
		cur[bits[len(bits)-1]] = vals[i]
	}
	return out, nil
}

// List returns the named columns of row in order. Columns and annotations
// missing from the row are nil.
func (m *Mapper) List(row Row, names []string) ([]any, error) {
	if len(row.Columns) != len(row.Values) {
		return nil, fmt.Errorf("mapper: %d columns for %d values", len(row.Columns), len(row.Values))
	}
	index := make(map[string]int, len(row.Columns))
	for i, label := range row.Columns {
		index[label] = i
	}
	out := make([]any, len(names))
	for i, name := range names {
		j, ok := index[m.prefix+name]
		if !ok {
			continue
		}
		v, err := m.decode(name, row.Values[j])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// decode converts v through the codec of the column name, when name is a
// column and not an annotation.
func (m *Mapper) decode(name string, v any) (any, error) {
	if m.annotations[name] {
		return v, nil
	}
	path, col := split(name)
	e, err := m.resolve(path)
	if err != nil {
		return v, nil
	}
	c, err := e.Column(col)
	if err != nil {
		return v, nil
	}
	s, ok := c.(*entity.Scalar)
	if !ok {
		return v, nil
	}
	if v, err = s.Decode(v); err != nil {
		return nil, fmt.Errorf("mapper: decode %s: %w", name, err)
	}
	return v, nil
}
