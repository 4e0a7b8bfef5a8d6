package field

// Codec transforms field values between their application and storage
// forms. EncodeQuery is applied to values compared in WHERE clauses and
// must agree with Encode for equality lookups to match.
type Codec interface {
	Encode(any) (any, error)
	Decode(any) (any, error)
	EncodeQuery(any) (any, error)
}

// CodecFuncs adapts plain functions to a Codec. Nil functions are identity.
type CodecFuncs struct {
	EncodeFunc      func(any) (any, error)
	DecodeFunc      func(any) (any, error)
	EncodeQueryFunc func(any) (any, error)
}

// Encode implements Codec.
func (c CodecFuncs) Encode(v any) (any, error) { return call(c.EncodeFunc, v) }

// Decode implements Codec.
func (c CodecFuncs) Decode(v any) (any, error) { return call(c.DecodeFunc, v) }

// EncodeQuery implements Codec. It falls back to EncodeFunc.
func (c CodecFuncs) EncodeQuery(v any) (any, error) {
	if c.EncodeQueryFunc == nil {
		return call(c.EncodeFunc, v)
	}
	return c.EncodeQueryFunc(v)
}

func call(fn func(any) (any, error), v any) (any, error) {
	if fn == nil {
		return v, nil
	}
	return fn(v)
}

var _ Codec = CodecFuncs{}
