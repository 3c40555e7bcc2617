package facts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func encodeValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fact: %w", err)
	}
	return b, nil
}

// decodeValue decodes a stored fact. Whole numbers come back as int64 so that
// integer comparisons in conditions keep working.
func decodeValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode fact: %w", err)
	}
	return NormalizeNumbers(v), nil
}

// NormalizeNumbers replaces the json.Number values produced by a decoder in
// UseNumber mode with int64 for whole numbers and float64 otherwise. Slices and
// maps are rewritten in place.
func NormalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = NormalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = NormalizeNumbers(x[k])
		}
		return x
	}
	return v
}
