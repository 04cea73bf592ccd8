// Package codec turns RPC envelopes into frame payloads and back.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType. JSON is the only payload format on the wire today,
// so every type resolves to it.
func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}
