// Package builder compiles the flattened attributes of a query into one
// Postgres statement and its positional parameters.
//
// A Builder is scratch state for a single statement. It owns the table
// alias registry, the joins keyed by dotted relation path, the projected
// columns and the WHERE tree. Referencing the same relation path any number
// of times yields a single join.
package builder

import (
	"strconv"
	"strings"

	"github.com/syssam/nomnom/internal/entity"
)

// Params is the ordered parameter list of one statement. Sub-queries
// compiled against the same Params continue its numbering.
type Params struct {
	args []any
}

// Push appends v and returns its placeholder.
func (p *Params) Push(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

// Args returns the parameters in placeholder order.
func (p *Params) Args() []any { return p.args }

// Len returns the number of parameters.
func (p *Params) Len() int { return len(p.args) }

type (
	// Raw renders a WHERE fragment for the quoted column reference col.
	// Values passed to push are bound as parameters.
	Raw func(col string, push func(any) string) string

	// Expr renders an ad hoc SQL expression. ref resolves a dotted column
	// path, adding joins as needed; "rel.*" yields every column of the
	// joined table.
	Expr func(ref func(string) string, push func(any) string) string
)

// Subquery is a query compiled in place as the right hand side of an in or
// notIn comparison. A sub-query also implementing ValidateSubquery() error
// is checked with the other comparisons of the statement.
type Subquery interface {
	CompileSubquery(p *Params) (string, error)
}

// Builder is the scratch state of one statement.
type Builder struct {
	entity *entity.Entity
	alias  string
	params *Params

	tables      map[string]int
	joins       map[string]*join
	children    []*join
	selecting   []*column
	selected    map[string]bool
	only        map[string]bool
	where       *and
	comparisons []*comparison
	grouping    []*column
	distinct    []*column
	annotations map[string]*column
	err         error
}

// New returns a builder rooted at e. All root scalar columns are selected.
func New(e *entity.Entity, p *Params) *Builder {
	if p == nil {
		p = &Params{}
	}
	b := &Builder{
		entity:      e,
		params:      p,
		tables:      make(map[string]int),
		joins:       make(map[string]*join),
		selected:    make(map[string]bool),
		where:       &and{},
		annotations: make(map[string]*column),
	}
	b.alias = b.register(e.Table)
	for _, s := range e.Scalars() {
		b.selecting = append(b.selecting, b.scalar(s.Name(), b.alias, s))
		b.selected[s.Name()] = true
	}
	return b
}

// Params returns the parameters bound so far.
func (b *Builder) Params() *Params { return b.params }

// register returns a fresh alias for table: the table name on first use,
// then name_1, name_2 and so on.
func (b *Builder) register(table string) string {
	n, ok := b.tables[table]
	b.tables[table] = n + 1
	if !ok {
		return table
	}
	return table + "_" + strconv.Itoa(n)
}

type join struct {
	path        string
	parent      *join
	fk          *entity.ForeignKey
	target      *entity.Entity
	alias       string
	from        string // alias of the joined-from table.
	remote      string
	children    []*join
	contributed bool
}

// forward reports if every relation on the path is stored on its owner.
func (j *join) forward() bool {
	return j.fk.Forward() && (j.parent == nil || j.parent.forward())
}

// on returns the join condition.
func (j *join) on() string {
	return quote(j.from) + "." + quote(j.fk.Column()) + " = " + quote(j.alias) + "." + quote(j.remote)
}

type column struct {
	name   string // dotted path from the root entity.
	output string
	alias  string
	phys   string
	col    entity.Column
	expr   string // set for annotations.
}

func (c *column) sql() string {
	if c.col == nil {
		return c.expr
	}
	return quote(c.alias) + "." + quote(c.phys)
}

func (b *Builder) scalar(name, alias string, c entity.Column) *column {
	return &column{
		name:   name,
		output: b.entity.Table + "." + name,
		alias:  alias,
		phys:   c.Column(),
		col:    c,
	}
}

// join returns the join for path, creating it and its parents as needed.
// When contribute is set, the target columns of the join and its parents
// are added to the projection.
func (b *Builder) join(path []string, contribute bool) (*join, error) {
	key := strings.Join(path, ".")
	if j, ok := b.joins[key]; ok {
		if contribute {
			b.contribute(j)
		}
		return j, nil
	}
	var (
		parent *join
		owner  = b.entity
		from   = b.alias
	)
	if len(path) > 1 {
		p, err := b.join(path[:len(path)-1], contribute)
		if err != nil {
			return nil, err
		}
		parent, owner, from = p, p.target, p.alias
	}
	name := path[len(path)-1]
	c, err := owner.Column(name)
	if err != nil {
		return nil, err
	}
	fk, ok := c.(*entity.ForeignKey)
	if !ok {
		return nil, entity.NotJoinable(owner.Name, name)
	}
	target, err := fk.Target()
	if err != nil {
		return nil, err
	}
	remote, err := fk.RemoteColumn()
	if err != nil {
		return nil, err
	}
	j := &join{
		path:   key,
		parent: parent,
		fk:     fk,
		target: target,
		alias:  b.register(target.Table),
		from:   from,
		remote: remote,
	}
	if parent != nil {
		parent.children = append(parent.children, j)
	} else {
		b.children = append(b.children, j)
	}
	b.joins[key] = j
	if contribute {
		b.contribute(j)
	}
	return j, nil
}

// contribute projects the scalar columns of a join so the mapper can build
// the related object. Paths through reverse relations multiply rows and
// never map to objects, so they contribute nothing.
func (b *Builder) contribute(j *join) {
	if j.contributed {
		return
	}
	j.contributed = true
	if !j.forward() {
		return
	}
	if j.parent != nil {
		b.contribute(j.parent)
	}
	for _, s := range j.target.Scalars() {
		name := j.path + "." + s.Name()
		if !b.selected[name] {
			b.selected[name] = true
			b.selecting = append(b.selecting, b.scalar(name, j.alias, s))
		}
	}
}

// joined returns every join, parents before children.
func (b *Builder) joined() []*join {
	var out []*join
	var walk func([]*join)
	walk = func(js []*join) {
		for _, j := range js {
			out = append(out, j)
			walk(j.children)
		}
	}
	walk(b.children)
	return out
}

// reversed reports if any join traverses a reverse relation.
func (b *Builder) reversed() bool {
	for _, j := range b.joins {
		if !j.fk.Forward() {
			return true
		}
	}
	return false
}

// reference resolves a dotted column path. All segments but the last must
// be relations. A relation in the last position is compared by the key it
// stores; for reverse relations that is the primary key of the joined
// table. In expressions (expr set) relations always resolve through the
// join to the remote column.
func (b *Builder) reference(name string, contribute, expr bool) (*column, error) {
	segs := strings.Split(name, ".")
	path, last := segs[:len(segs)-1], segs[len(segs)-1]
	owner, alias := b.entity, b.alias
	if len(path) > 0 {
		j, err := b.join(path, contribute)
		if err != nil {
			return nil, err
		}
		owner, alias = j.target, j.alias
	}
	c, err := owner.Column(last)
	if err != nil {
		return nil, err
	}
	col := b.scalar(name, alias, c)
	fk, ok := c.(*entity.ForeignKey)
	if !ok || (fk.Forward() && !expr) {
		return col, nil
	}
	j, err := b.join(segs, contribute)
	if err != nil {
		return nil, err
	}
	col.alias = j.alias
	if expr {
		col.phys = j.remote
	} else {
		col.phys = j.target.PK().Column()
	}
	return col, nil
}

// target adds the column name to the projection.
func (b *Builder) target(name string) error {
	if b.selected[name] {
		return nil
	}
	col, err := b.reference(name, false, false)
	if err != nil {
		return err
	}
	b.selected[name] = true
	b.selecting = append(b.selecting, col)
	return nil
}

// expr renders fn with a ref resolving column paths against the builder.
func (b *Builder) expr(fn Expr) (string, error) {
	var err error
	ref := func(path string) string {
		star := strings.HasSuffix(path, ".*")
		path = strings.TrimSuffix(path, ".*")
		col, rerr := b.reference(path, false, true)
		if rerr != nil {
			if err == nil {
				err = rerr
			}
			return ""
		}
		if star {
			return quote(col.alias) + ".*"
		}
		return col.sql()
	}
	sql := fn(ref, b.params.Push)
	if err != nil {
		return "", err
	}
	return sql, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
