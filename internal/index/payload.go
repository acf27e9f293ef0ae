package index

import (
	"encoding/json"
	"fmt"
	"math"
)

// typedValue keeps the scalar kind next to the value so int64 and float64 survive a round trip.
type typedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

const (
	kindNull   = "null"
	kindString = "s"
	kindBool   = "b"
	kindInt    = "i"
	kindFloat  = "f"
)

// checkPayload rejects values outside the scalar set the index stores.
func checkPayload(p map[string]any) error {
	for k, v := range p {
		if _, err := valueKind(k, v); err != nil {
			return err
		}
	}
	return nil
}

func valueKind(key string, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return kindNull, nil
	case string:
		return kindString, nil
	case bool:
		return kindBool, nil
	case int64:
		return kindInt, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("%w: field %q is not a finite number", ErrInvalidPayload, key)
		}
		return kindFloat, nil
	default:
		return "", fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidPayload, key, v)
	}
}

func encodePayload(p map[string]any) ([]byte, error) {
	out := make(map[string]typedValue, len(p))
	for k, v := range p {
		kind, err := valueKind(k, v)
		if err != nil {
			return nil, err
		}
		tv := typedValue{T: kind}
		if kind != kindNull {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
			}
			tv.V = raw
		}
		out[k] = tv
	}
	return json.Marshal(out)
}

func decodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var raw map[string]typedValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	out := make(map[string]any, len(raw))
	for k, tv := range raw {
		var err error
		switch tv.T {
		case kindNull:
			out[k] = nil
		case kindString:
			var s string
			err = json.Unmarshal(tv.V, &s)
			out[k] = s
		case kindBool:
			var b bool
			err = json.Unmarshal(tv.V, &b)
			out[k] = b
		case kindInt:
			var i int64
			err = json.Unmarshal(tv.V, &i)
			out[k] = i
		case kindFloat:
			var f float64
			err = json.Unmarshal(tv.V, &f)
			out[k] = f
		default:
			err = fmt.Errorf("unknown kind %q", tv.T)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %w", k, err)
		}
	}
	return out, nil
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
