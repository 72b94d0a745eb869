package flow

import (
	"encoding/json"
	"fmt"
)

// Get extracts a typed value from a map state field. A state loaded from a
// durable backend comes back as generic JSON shapes (map[string]any,
// []any, float64), so when the direct type assertion fails the value is
// round-tripped through JSON into T.
func Get[T any](state MapState, field string) (T, error) {
	var zero T
	raw, ok := state[field]
	if !ok || raw == nil {
		return zero, nil
	}
	if v, ok := raw.(T); ok {
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return zero, fmt.Errorf("field %s: %w", field, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

// GetOr is Get with a fallback for missing fields and decode failures.
func GetOr[T any](state MapState, field string, fallback T) T {
	raw, ok := state[field]
	if !ok || raw == nil {
		return fallback
	}
	v, err := Get[T](state, field)
	if err != nil {
		return fallback
	}
	return v
}
