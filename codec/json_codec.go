package codec

import (
	"encoding/json"
	"errors"
	"unicode/utf8"
)

var ErrInvalidUTF8 = errors.New("codec: payload is not valid UTF-8")

// JSONCodec uses Go's standard library encoding/json for serialization.
// Decode rejects payloads that are not valid UTF-8 before parsing them.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if !utf8.Valid(data) {
		return ErrInvalidUTF8
	}
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
