// Package nomnom maps Go structs to Postgres tables.
//
// Entities are registered once at startup with Register, which binds a
// struct type to a table and describes its columns with the schema/field
// package. Relations are declared with field.ForeignKey and may point at
// types registered later:
//
//	reg := nomnom.NewRegistry(nomnom.WithDriver(drv))
//	authors, err := nomnom.Register[Author](reg, []field.Field{
//		field.String("name").NotEmpty(),
//	})
//	books, err := nomnom.Register[Book](reg, []field.Field{
//		field.String("title"),
//		field.ForeignKey[Author]("author"),
//	})
//
// A DAO hands out immutable query sets. Chain methods return new query
// sets and nothing runs until a terminal method is called:
//
//	qs := books.Filter(nomnom.Filter{"author.name:iStartsWith": "gar"}).
//		Exclude(nomnom.Filter{"title": "Memoir"}).
//		Order("-id").
//		Slice(0, 10)
//	list, err := qs.All(ctx)
//	n, err := qs.Count(ctx)
//
// Filter keys are column paths with an optional operator. Relation
// segments are joined once per statement however often they are
// referenced. An Any lists alternatives. Every value is validated before
// the statement is compiled; failures are reported together in a
// ValidationError.
//
// Statements run on the connection carried by the context (see
// NewConnContext and Registry.WithTx), or on the registry driver.
package nomnom
