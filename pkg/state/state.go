// Package state holds the JSON-like key/value maps that make up session
// state and the deltas events carry against it.
package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

// State is a session's mutable key/value map. Values are restricted to the
// JSON value kinds: nil, bool, float64, string, []any and map[string]any.
// Integers are accepted on input and normalized to float64. NaN and the
// infinities are rejected.
type State map[string]any

// Clone returns a deep copy of s. A nil State clones to an empty one.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge applies delta to s with top-level last-write-wins semantics and
// returns the result. Neither input is modified. Nested maps are replaced
// wholesale, never merged.
func (s State) Merge(delta State) State {
	out := s.Clone()
	for k, v := range delta {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the keys of s in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Empty reports whether s carries no keys.
func (s State) Empty() bool {
	return len(s) == 0
}

// Normalize validates that every value in s is a JSON value kind and returns
// a copy with integers widened to float64.
func Normalize(s State) (State, error) {
	out := make(State, len(s))
	for k, v := range s {
		if k == "" {
			return nil, fmt.Errorf("state key must not be empty")
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("state key %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// Encode serializes s as a JSON object. A nil State encodes as "{}".
func Encode(s State) ([]byte, error) {
	if s == nil {
		s = State{}
	}
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return b, nil
}

// Decode parses a JSON object into a State. Empty input decodes to an
// empty State.
func Decode(b []byte) (State, error) {
	s := State{}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return s, nil
}

func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return finite(f)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	case State:
		return normalizeValue(map[string]any(t))
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// finite rejects NaN and the infinities, which JSON cannot carry.
func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return f, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case State:
		return map[string]any(t.Clone())
	default:
		return v
	}
}
