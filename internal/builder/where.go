package builder

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/nomnom/internal/entity"
)

// Clause is one accumulated filter. A conjunction carries a single term;
// a disjunction (Or) carries one term per alternative. Keys of a term have
// the form "path[:operator]" and compile in sorted order.
type Clause struct {
	Terms  []map[string]any
	Or     bool
	Negate bool
}

type node interface {
	render(p *Params) (string, error)
}

type (
	and struct{ children []node }
	or  struct{ children []node }
	not struct{ child node }
	// fragment is literal SQL, used for join conditions folded into WHERE.
	fragment string
)

func (a *and) add(n node) { a.children = append(a.children, n) }
func (o *or) add(n node)  { o.children = append(o.children, n) }

func (a *and) render(p *Params) (string, error) { return group(a.children, " AND ", p) }
func (o *or) render(p *Params) (string, error)  { return group(o.children, " OR ", p) }

func (n *not) render(p *Params) (string, error) {
	s, err := n.child.render(p)
	if err != nil {
		return "", err
	}
	return "NOT " + s, nil
}

func (f fragment) render(*Params) (string, error) { return string(f), nil }

// group renders an empty group as 1=1 and a single child bare.
func group(children []node, sep string, p *Params) (string, error) {
	if len(children) == 0 {
		return "1=1", nil
	}
	parts := make([]string, len(children))
	for i, c := range children {
		s, err := c.render(p)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

type comparison struct {
	key   string
	col   *column
	op    entity.Op
	value any
}

// Where adds c to the WHERE tree. References are resolved immediately and
// joins they imply contribute their columns to the projection.
func (b *Builder) Where(c Clause) error {
	if !c.Or {
		var term map[string]any
		if len(c.Terms) > 0 {
			term = c.Terms[0]
		}
		return b.all(term, b.where, c.Negate)
	}
	o := &or{}
	if c.Negate {
		b.where.add(&not{o})
	} else {
		b.where.add(o)
	}
	for _, t := range c.Terms {
		a := &and{}
		o.add(a)
		if err := b.all(t, a, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) all(term map[string]any, parent *and, negate bool) error {
	if negate || len(term) == 0 {
		a := &and{}
		if negate {
			parent.add(&not{a})
		} else {
			parent.add(a)
		}
		parent = a
	}
	keys := make([]string, 0, len(term))
	for k := range term {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		name, op, _ := strings.Cut(key, ":")
		if op == "" {
			op = string(entity.OpEq)
		}
		col, err := b.reference(name, true, false)
		if err != nil {
			return err
		}
		c := &comparison{key: key, col: col, op: entity.Op(op), value: term[key]}
		parent.add(c)
		b.comparisons = append(b.comparisons, c)
	}
	return nil
}

// validate runs the query validator of every comparison and reports all
// failures at once.
func (b *Builder) validate() entity.FieldErrors {
	var errs entity.FieldErrors
	for _, c := range b.comparisons {
		errs.Add(c.key, c.validate())
	}
	return errs
}

// errSubquery is reported for a sub-query given to an operator other than
// in or notIn.
var errSubquery = errors.New("sub-queries are only supported by in and notIn")

func (c *comparison) validate() error {
	if sq, ok := c.value.(Subquery); ok {
		if c.op != entity.OpIn && c.op != entity.OpNotIn {
			return errSubquery
		}
		if v, ok := sq.(interface{ ValidateSubquery() error }); ok {
			return v.ValidateSubquery()
		}
		return nil
	}
	if !c.op.Valid() {
		return fmt.Errorf("unknown operator %q", c.op)
	}
	if c.op == entity.OpRaw {
		if _, ok := rawFunc(c.value); !ok {
			return fmt.Errorf("raw expects a func(string, func(any) string) string, got %T", c.value)
		}
		return nil
	}
	return c.col.col.ValidateQuery(c.op, c.value)
}

func rawFunc(v any) (Raw, bool) {
	switch fn := v.(type) {
	case Raw:
		return fn, true
	case func(string, func(any) string) string:
		return fn, true
	}
	return nil, false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (c *comparison) render(p *Params) (string, error) {
	ref := c.col.sql()
	switch c.op {
	case entity.OpRaw:
		fn, _ := rawFunc(c.value)
		return fn(ref, p.Push), nil
	case entity.OpIn, entity.OpNotIn:
		return c.renderIn(ref, p)
	case entity.OpIsNull:
		if isNull, _ := c.value.(bool); isNull {
			return ref + " IS NULL", nil
		}
		return ref + " IS NOT NULL", nil
	case entity.OpContains, entity.OpIContains:
		return like(ref, c.op, "%"+likeEscaper.Replace(str(c.value))+"%", p), nil
	case entity.OpStartsWith, entity.OpIStartsWith:
		return like(ref, c.op, likeEscaper.Replace(str(c.value))+"%", p), nil
	case entity.OpEndsWith, entity.OpIEndsWith:
		return like(ref, c.op, "%"+likeEscaper.Replace(str(c.value)), p), nil
	case entity.OpRegex:
		return ref + " ~ " + p.Push(str(c.value)), nil
	}
	v, err := c.col.col.EncodeQuery(c.value)
	if err != nil {
		return "", &entity.FieldError{Key: c.key, Err: err}
	}
	var op string
	switch c.op {
	case entity.OpEq:
		if v == nil {
			return ref + " IS NULL", nil
		}
		op = "="
	case entity.OpNeq:
		if v == nil {
			return ref + " IS NOT NULL", nil
		}
		op = "!="
	case entity.OpLt:
		op = "<"
	case entity.OpGt:
		op = ">"
	case entity.OpLte:
		op = "<="
	case entity.OpGte:
		op = ">="
	default:
		return "", fmt.Errorf("builder: unknown operator %q", c.op)
	}
	return ref + " " + op + " " + p.Push(v), nil
}

func (c *comparison) renderIn(ref string, p *Params) (string, error) {
	op := " IN "
	if c.op == entity.OpNotIn {
		op = " NOT IN "
	}
	if sq, ok := c.value.(Subquery); ok {
		sql, err := sq.CompileSubquery(p)
		if err != nil {
			return "", err
		}
		return ref + op + "(" + sql + ")", nil
	}
	elems, _ := entity.Elements(c.value)
	if len(elems) == 0 {
		if c.op == entity.OpIn {
			return "false", nil
		}
		return "true", nil
	}
	holders := make([]string, len(elems))
	for i, e := range elems {
		v, err := c.col.col.EncodeQuery(e)
		if err != nil {
			return "", &entity.FieldError{Key: c.key, Err: err}
		}
		holders[i] = p.Push(v)
	}
	return ref + op + "(" + strings.Join(holders, ", ") + ")", nil
}

func like(ref string, op entity.Op, pattern string, p *Params) string {
	switch op {
	case entity.OpIContains, entity.OpIStartsWith, entity.OpIEndsWith:
		return "UPPER(" + ref + ") LIKE UPPER(" + p.Push(pattern) + ")"
	}
	return ref + " LIKE " + p.Push(pattern)
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(*string); ok && s != nil {
		return *s
	}
	return fmt.Sprint(v)
}

// whereClause renders the WHERE tree, or "" when no filter was added.
func (b *Builder) whereClause() (string, error) {
	if len(b.where.children) == 0 {
		return "", nil
	}
	s, err := b.where.render(b.params)
	if err != nil {
		return "", err
	}
	return "WHERE " + s, nil
}
