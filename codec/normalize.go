package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// gzip member header.
var gzipMagic = []byte{0x1f, 0x8b}

// Normalize coerces whatever a storage driver handed back into the binary
// input Decode expects. Drivers variously return raw bytes, a JSON numeric
// array, a Node-style {"type":"Buffer","data":[...]} object, or base64 text.
func Normalize(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, ErrEmptyPayload
	case []byte:
		if bytes.HasPrefix(t, gzipMagic) {
			return t, nil
		}
		return normalizeJSON(t)
	case json.RawMessage:
		return normalizeJSON(t)
	case string:
		return decodeBase64(t)
	case []int:
		out := make([]byte, len(t))
		for i, n := range t {
			b, err := toByte(float64(n), i)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case []float64:
		return floatsToBytes(t)
	case []any:
		out := make([]byte, len(t))
		for i, e := range t {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("payload element %d is %T, not a number", i, e)
			}
			b, err := toByte(f, i)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case map[string]any:
		inner, ok := t["data"]
		if !ok {
			return nil, fmt.Errorf("payload object has no data field")
		}
		return Normalize(inner)
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

func normalizeJSON(b []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyPayload
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("payload is neither compressed data nor JSON: %w", err)
	}
	return Normalize(v)
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrEmptyPayload
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("payload string is not base64")
}

func floatsToBytes(fs []float64) ([]byte, error) {
	out := make([]byte, len(fs))
	for i, f := range fs {
		b, err := toByte(f, i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func toByte(f float64, i int) (byte, error) {
	if f < 0 || f > math.MaxUint8 || f != math.Trunc(f) {
		return 0, fmt.Errorf("payload element %d (%v) is not a byte", i, f)
	}
	return byte(f), nil
}
