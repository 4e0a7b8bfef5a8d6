// Package field provides fluent builders for describing the columns of a
// registered entity.
//
// Field names are the logical names used in filters, data payloads and
// struct tags. The storage column defaults to the logical name, and to
// "<name>_id" for foreign keys:
//
//	field.Int("id")
//	field.String("name").Optional().Nillable()
//	field.ForeignKey[Node]("node")            // column node_id
//	field.ForeignKey[Node]("parent").Nillable().StorageKey("parent_node")
//
// # Field Types
//
//	field.Bool("active")
//	field.Int("count")
//	field.Float("ratio")
//	field.String("name")
//	field.Time("created")
//	field.Bytes("payload")
//	field.UUID("token")
//	field.ULID("ref")
//	field.Decimal("price")
//	field.Any("meta")
//
// # Nullability
//
// Optional and Nillable are independent:
//
//	// Optional: may be omitted on create, NOT NULL when present
//	field.String("role").Optional()
//
//	// Nillable: accepts NULL
//	field.String("nickname").Nillable()
//
// # Validation
//
// Every field carries a data validator made of its type check, the
// attached validators and an optional go-playground/validator tag:
//
//	field.String("email").NotEmpty().Tag("email")
//	field.Int("age").Range(0, 150)
//	field.String("slug").Match(regexp.MustCompile(`^[a-z0-9-]+$`))
//
// # Codecs
//
// A Codec transforms values on their way to and from storage. EncodeQuery
// is used for values appearing in WHERE comparisons:
//
//	field.String("secret").Codec(codec.Sealed(key))
package field
