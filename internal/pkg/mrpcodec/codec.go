// Package mrpcodec implements the canonical byte encoding used wherever a
// content hash must be stable across processes: JSON without insignificant
// whitespace, object keys sorted recursively and number literals preserved
// exactly as they were first rendered.
package mrpcodec

import (
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/blake3"
)

var (
	canonical = jsoniter.Config{
		EscapeHTML:             false,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()

	// numbers are decoded as json.Number so that re-encoding reproduces the
	// original literal instead of a float64 approximation
	decoder = jsoniter.Config{
		UseNumber: true,
	}.Froze()
)

// Encode returns the canonical encoding of v. Struct fields are routed
// through a generic round trip so their keys end up sorted like map keys.
func Encode(v interface{}) ([]byte, error) {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}

	var generic interface{}
	if err := decoder.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}

	out, err := canonical.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return out, nil
}

// Decode parses canonical (or any JSON) data into v.
func Decode(data []byte, v interface{}) error {
	return decoder.Unmarshal(data, v)
}

// Copy deep-copies src into dst through the canonical encoding. dst must be
// a pointer.
func Copy(src, dst interface{}) error {
	data, err := Encode(src)
	if err != nil {
		return err
	}
	return Decode(data, dst)
}

// Digest returns the lowercase hex BLAKE3-256 digest of Encode(v).
func Digest(v interface{}) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", err
	}
	return DigestBytes(data), nil
}

// DigestBytes hashes raw bytes, e.g. operator source text.
func DigestBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
