package field_test

import (
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/nomnom/schema/field"
)

type Node struct {
	ID   int
	Name string
}

func TestInt(t *testing.T) {
	fd := field.Int("age").
		Positive().
		Descriptor()
	assert.Equal(t, "age", fd.Name)
	assert.Equal(t, field.TypeInt, fd.Type)
	assert.Len(t, fd.Validators, 1)
	assert.NoError(t, fd.Validate(3))
	assert.Error(t, fd.Validate(0))
	assert.Error(t, fd.Validate("3"))
	assert.ErrorIs(t, fd.Validate(nil), field.ErrNull)

	fd = field.Int("age").
		Default(10).
		Range(10, 20).
		Nillable().
		Descriptor()
	assert.True(t, fd.Nillable)
	assert.Len(t, fd.Validators, 2)
	assert.NoError(t, fd.Validate(nil))
	assert.NoError(t, fd.Validate(int8(15)))
	assert.Error(t, fd.Validate(21))
	v, ok := fd.DefaultValue()
	assert.True(t, ok)
	assert.Equal(t, 10, v)

	fd = field.Int("count").MinLen(1).Descriptor()
	assert.EqualError(t, fd.Err, `field "count": MinLen is not supported by int fields`)
}

func TestString(t *testing.T) {
	fd := field.String("name").
		NotEmpty().
		MaxLen(5).
		Match(regexp.MustCompile(`^[a-z]+$`)).
		Descriptor()
	require.NoError(t, fd.Err)
	assert.NoError(t, fd.Validate("gary"))
	assert.Error(t, fd.Validate(""))
	assert.Error(t, fd.Validate("busey!"))
	assert.Error(t, fd.Validate("abcdef"))
	assert.Error(t, fd.Validate(3))

	name := "jake"
	assert.NoError(t, fd.Validate(&name), "pointers are dereferenced")

	type Label string
	assert.NoError(t, fd.Validate(Label("abc")))

	fd = field.String("email").Tag("email").Descriptor()
	assert.NoError(t, fd.Validate("gary@busey.com"))
	assert.Error(t, fd.Validate("gary busey"))

	fd = field.String("code").Min(3).Descriptor()
	assert.Error(t, fd.Err)
}

func TestFloatAndDecimal(t *testing.T) {
	fd := field.Float("ratio").Max(1).Descriptor()
	assert.NoError(t, fd.Validate(0.5))
	assert.NoError(t, fd.Validate(1))
	assert.Error(t, fd.Validate(1.5))

	fd = field.Decimal("price").Positive().Descriptor()
	assert.NoError(t, fd.Validate("10.25"))
	assert.NoError(t, fd.Validate(decimal.NewFromInt(3)))
	assert.Error(t, fd.Validate("-1"))
	assert.Error(t, fd.Validate("ten"))

	v, err := fd.Encode("10.25")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.25").Equal(v.(decimal.Decimal)))

	v, err = fd.Decode([]byte("3.5"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.5").Equal(v.(decimal.Decimal)))

	assert.NoError(t, fd.Validate(uint8(5)))
	v, err = fd.Encode(uint64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", v.(decimal.Decimal).String())
}

func TestUUIDAndULID(t *testing.T) {
	id := uuid.New()
	fd := field.UUID("token").Descriptor()
	assert.NoError(t, fd.Validate(id))
	assert.NoError(t, fd.Validate(id.String()))
	assert.Error(t, fd.Validate("not-a-uuid"))

	v, err := fd.Encode(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, v)
	v, err = fd.Decode([]byte(id.String()))
	require.NoError(t, err)
	assert.Equal(t, id, v)

	ref := ulid.Make()
	fd = field.ULID("ref").Descriptor()
	assert.NoError(t, fd.Validate(ref))
	assert.NoError(t, fd.Validate(ref.String()))
	assert.Error(t, fd.Validate("nope"))
	v, err = fd.Encode(ref)
	require.NoError(t, err)
	assert.Equal(t, ref.String(), v)
	v, err = fd.Decode(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, v)
}

func TestTimeAndBool(t *testing.T) {
	fd := field.Time("created").Descriptor()
	assert.NoError(t, fd.Validate(time.Now()))
	assert.Error(t, fd.Validate("2024-01-01"))

	fd = field.Bool("active").Descriptor()
	assert.NoError(t, fd.Validate(false))
	assert.Error(t, fd.Validate(0))
	v, err := fd.Decode([]byte("true"))
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestDefaultFunc(t *testing.T) {
	calls := 0
	fd := field.Time("created").DefaultFunc(func() any {
		calls++
		return time.Unix(0, 0)
	}).Descriptor()
	v, ok := fd.DefaultValue()
	assert.True(t, ok)
	assert.Equal(t, time.Unix(0, 0), v)
	assert.Equal(t, 1, calls)

	_, ok = field.Time("updated").Descriptor().DefaultValue()
	assert.False(t, ok)
}

func TestForeignKey(t *testing.T) {
	fd := field.ForeignKey[Node]("node").Descriptor()
	require.NoError(t, fd.Err)
	assert.True(t, fd.IsForeignKey())
	assert.Equal(t, "node_id", fd.Column())
	assert.False(t, fd.Nillable)

	fd = field.ForeignKey[*Node]("parent").Nillable().StorageKey("parent_node").Descriptor()
	assert.Equal(t, "parent_node", fd.Column())
	assert.True(t, fd.Nillable)
	assert.True(t, fd.Optional)
	assert.Equal(t, "Node", fd.Ref.Name())

	fd = field.ForeignKey[int]("bad").Descriptor()
	assert.Error(t, fd.Err)

	assert.Equal(t, "name", field.String("name").Descriptor().Column())
	assert.Equal(t, "full_name", field.String("name").StorageKey("full_name").Descriptor().Column())
}

func TestCodec(t *testing.T) {
	prefix := field.CodecFuncs{
		EncodeFunc: func(v any) (any, error) { return "enc:" + v.(string), nil },
		DecodeFunc: func(v any) (any, error) {
			s := v.(string)
			if len(s) < 4 {
				return nil, errors.New("short")
			}
			return s[4:], nil
		},
	}
	fd := field.String("secret").Codec(prefix).Descriptor()

	v, err := fd.Encode("x")
	require.NoError(t, err)
	assert.Equal(t, "enc:x", v)

	v, err = fd.EncodeQuery("x")
	require.NoError(t, err)
	assert.Equal(t, "enc:x", v, "EncodeQuery falls back to Encode")

	v, err = fd.Decode("enc:y")
	require.NoError(t, err)
	assert.Equal(t, "y", v)

	v, err = fd.Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
