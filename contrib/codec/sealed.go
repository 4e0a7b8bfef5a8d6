// Package codec provides field codecs for columns stored in a transformed
// form.
//
//	key := []byte(os.Getenv("SEALED_KEY"))
//	c, err := codec.Sealed(key)
//	if err != nil {
//	    return err
//	}
//	fields := []field.Field{
//	    field.String("ssn").Codec(c),
//	}
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/nomnom/schema/field"
)

// MinKeySize is the minimum length of a sealing key.
const MinKeySize = 32

var (
	// ErrKeySize is returned by Sealed for keys shorter than MinKeySize.
	ErrKeySize = fmt.Errorf("codec: sealing key must be at least %d bytes", MinKeySize)

	// ErrOpen is returned when a stored value cannot be decrypted.
	ErrOpen = errors.New("codec: cannot open sealed value")
)

// SealedCodec encrypts values with AES-256-GCM. Values are serialized
// with msgpack, so any msgpack encodable value may be sealed.
//
// The nonce is derived from the plaintext, making the ciphertext of a
// value stable: equality filters on the column work, and equal values are
// visible as such to a reader of the table.
type SealedCodec struct {
	aead  cipher.AEAD
	nonce []byte // HMAC key of the nonce derivation.
}

// Sealed returns a codec sealing values under key. The encryption and
// nonce keys are derived from key with HKDF.
func Sealed(key []byte) (*SealedCodec, error) {
	if len(key) < MinKeySize {
		return nil, ErrKeySize
	}
	enc, err := hkdf.Key(sha256.New, key, nil, "nomnom sealed encryption", 32)
	if err != nil {
		return nil, err
	}
	nonce, err := hkdf.Key(sha256.New, key, nil, "nomnom sealed nonce", 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(enc)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SealedCodec{aead: aead, nonce: nonce}, nil
}

// Encode implements field.Codec. It returns nonce || ciphertext.
func (c *SealedCodec) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	plain, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding %T: %w", v, err)
	}
	mac := hmac.New(sha256.New, c.nonce)
	mac.Write(plain)
	nonce := mac.Sum(nil)[:c.aead.NonceSize()]
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

// EncodeQuery implements field.Codec. Sealing is deterministic, so it
// equals Encode.
func (c *SealedCodec) EncodeQuery(v any) (any, error) {
	return c.Encode(v)
}

// Decode implements field.Codec.
func (c *SealedCodec) Decode(v any) (any, error) {
	var sealed []byte
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		sealed = v
	case string:
		sealed = []byte(v)
	default:
		return nil, fmt.Errorf("codec: cannot open %T", v)
	}
	n := c.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrOpen
	}
	plain, err := c.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	dec := msgpack.NewDecoder(bytes.NewReader(plain))
	dec.UseLooseInterfaceDecoding(true)
	out, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("codec: decoding sealed value: %w", err)
	}
	return widen(out), nil
}

// widen maps the integers of a decoded value to int64. msgpack stores
// non-negative integers as unsigned, so only values above MaxInt64 stay
// uint64.
func widen(v any) any {
	switch v := v.(type) {
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
	case []any:
		for i := range v {
			v[i] = widen(v[i])
		}
	case map[string]any:
		for k, e := range v {
			v[k] = widen(e)
		}
	case map[any]any:
		for k, e := range v {
			v[k] = widen(e)
		}
	}
	return v
}

var _ field.Codec = (*SealedCodec)(nil)
