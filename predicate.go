package nomnom

import (
	"maps"

	"github.com/syssam/nomnom/internal/builder"
)

// Predicate selects rows. It is either a Filter or an Any.
type Predicate interface {
	clause(negate bool) builder.Clause
}

// Filter matches rows satisfying every key. Keys have the form
// "path[:operator]", where path is a column name optionally prefixed by
// the relations leading to it ("author.name:iContains"). The operator
// defaults to eq. An empty Filter matches every row.
type Filter map[string]any

func (f Filter) clause(negate bool) builder.Clause {
	return builder.Clause{Terms: []map[string]any{maps.Clone(f)}, Negate: negate}
}

// Any matches rows satisfying at least one of its filters. An empty Any
// matches every row.
type Any []Filter

func (a Any) clause(negate bool) builder.Clause {
	terms := make([]map[string]any, len(a))
	for i, f := range a {
		terms[i] = maps.Clone(f)
	}
	return builder.Clause{Terms: terms, Or: true, Negate: negate}
}

// Data is a create or update payload keyed by column name. Relations are
// set by name with the related object, a map holding its primary key, or
// the key itself; or through their key column ("author_id").
type Data map[string]any

type (
	// Raw is the value of a raw filter. It renders a WHERE fragment for the
	// quoted column col; values passed to push are bound as parameters.
	//
	//	nomnom.Filter{"name:raw": nomnom.Raw(func(col string, push func(any) string) string {
	//		return "lower(" + col + ") = " + push("gary")
	//	})}
	Raw = builder.Raw

	// Annotation renders a SQL expression projected next to the columns of
	// the entity. ref resolves a column path, adding joins as needed, and
	// "rel.*" yields every column of a joined table.
	Annotation = builder.Expr

	// Annotations maps annotation names to their expressions.
	Annotations map[string]Annotation
)

// Op is the kind of statement an operation compiles to.
type Op string

// Operations.
const (
	OpSelect    Op = "select"
	OpCount     Op = "count"
	OpAggregate Op = "aggregate"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
)

// Reads reports if op reads rows without changing them.
func (op Op) Reads() bool {
	return op == OpSelect || op == OpCount || op == OpAggregate
}
