// Package codec turns envelopes into bytes and back.
//
// The call manager only ever decodes into an untyped tree (map[string]any) and
// validates the fields itself, so a codec has to produce maps keyed by strings
// and numbers the jsonnum package understands.
package codec

import (
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeCBOR CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeCBOR:
		return "cbor"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=CBOR
}

// GetCodec returns the codec for a wire flag. Unknown flags fall back to JSON.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeCBOR {
		return &CBORCodec{}
	}
	return &JSONCodec{}
}

// ByName resolves a codec from its configuration name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return &JSONCodec{}, nil
	case "cbor":
		return &CBORCodec{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}
