package flow

import (
	"fmt"
	"maps"
	"reflect"
)

// Reducer decides how a delta value for one field is combined with the
// accumulated value. current may be nil when the field has never been set.
type Reducer func(current, incoming any) (any, error)

// Schema defines the state structure and merge policy for a graph.
type Schema[S any] interface {
	// Init returns the initial state with default values.
	Init() S

	// Apply merges a step's delta into the current state and returns the
	// new state. It must not mutate current.
	Apply(current S, delta Delta) (S, error)
}

// MapState is the map-backed state shape used with MapSchema.
type MapState = map[string]any

// MapSchema implements Schema for MapState with a closed, declared field
// set. The default merge rule is overwrite; fields registered with
// Accumulator append instead. Deltas naming an undeclared field fail with
// UnknownFieldError.
//
// The engine's reserved fields (FieldAwaitingInput, FieldFeedback) are
// declared automatically.
type MapSchema struct {
	reducers map[string]Reducer
	defaults map[string]any
}

var _ Schema[MapState] = (*MapSchema)(nil)

// NewMapSchema creates an empty schema with the reserved engine fields
// declared.
func NewMapSchema() *MapSchema {
	s := &MapSchema{
		reducers: make(map[string]Reducer),
		defaults: make(map[string]any),
	}
	s.Field(FieldAwaitingInput)
	s.Field(FieldFeedback)
	s.defaults[FieldAwaitingInput] = false
	return s
}

// Field declares an overwrite field.
func (s *MapSchema) Field(name string) *MapSchema {
	s.reducers[name] = OverwriteReducer
	return s
}

// Accumulator declares an append-only field: a delta value for it is
// appended to the existing sequence, never replacing it.
func (s *MapSchema) Accumulator(name string) *MapSchema {
	s.reducers[name] = AppendReducer
	return s
}

// FieldWithReducer declares a field with a custom reducer.
func (s *MapSchema) FieldWithReducer(name string, r Reducer) *MapSchema {
	s.reducers[name] = r
	return s
}

// Default sets the initial value a field starts the session with. The field
// must already be declared.
func (s *MapSchema) Default(name string, value any) *MapSchema {
	if _, ok := s.reducers[name]; !ok {
		panic(fmt.Sprintf("flow: default for undeclared field %q", name))
	}
	s.defaults[name] = value
	return s
}

// Init returns a fresh state populated with the declared defaults.
func (s *MapSchema) Init() MapState {
	state := make(MapState, len(s.defaults))
	maps.Copy(state, s.defaults)
	return state
}

// Apply merges delta into current using the per-field reducers. The result
// is a new map; current is left untouched.
func (s *MapSchema) Apply(current MapState, delta Delta) (MapState, error) {
	result := make(MapState, len(current)+len(delta))
	maps.Copy(result, current)

	for field, incoming := range delta {
		reducer, ok := s.reducers[field]
		if !ok {
			return nil, &UnknownFieldError{Field: field}
		}
		merged, err := reducer(result[field], incoming)
		if err != nil {
			return nil, fmt.Errorf("failed to reduce field %s: %w", field, err)
		}
		result[field] = merged
	}

	return result, nil
}

// OverwriteReducer replaces the current value wholesale.
func OverwriteReducer(current, incoming any) (any, error) {
	return incoming, nil
}

// AppendReducer appends incoming to the current slice. It accepts either a
// slice of the same element type or a single element. A nil current starts
// a new slice.
func AppendReducer(current, incoming any) (any, error) {
	if incoming == nil {
		return current, nil
	}

	if current == nil {
		incomingVal := reflect.ValueOf(incoming)
		if incomingVal.Kind() == reflect.Slice {
			return incoming, nil
		}
		slice := reflect.MakeSlice(reflect.SliceOf(incomingVal.Type()), 0, 1)
		return reflect.Append(slice, incomingVal).Interface(), nil
	}

	currentVal := reflect.ValueOf(current)
	incomingVal := reflect.ValueOf(incoming)

	if currentVal.Kind() != reflect.Slice {
		return nil, fmt.Errorf("current value is %T, not a slice", current)
	}

	if incomingVal.Kind() == reflect.Slice {
		if currentVal.Type().Elem() != incomingVal.Type().Elem() {
			// Element types differ, fall back to []any.
			result := make([]any, 0, currentVal.Len()+incomingVal.Len())
			for i := 0; i < currentVal.Len(); i++ {
				result = append(result, currentVal.Index(i).Interface())
			}
			for i := 0; i < incomingVal.Len(); i++ {
				result = append(result, incomingVal.Index(i).Interface())
			}
			return result, nil
		}
		merged := freshSlice(currentVal, incomingVal.Len())
		return reflect.AppendSlice(merged, incomingVal).Interface(), nil
	}

	if currentVal.Type().Elem() != incomingVal.Type() {
		result := make([]any, 0, currentVal.Len()+1)
		for i := 0; i < currentVal.Len(); i++ {
			result = append(result, currentVal.Index(i).Interface())
		}
		return append(result, incoming), nil
	}
	merged := freshSlice(currentVal, 1)
	return reflect.Append(merged, incomingVal).Interface(), nil
}

// freshSlice copies src into a new slice sized to hold extra more elements.
// Appending to src directly could write into a backing array still shared
// with an earlier state.
func freshSlice(src reflect.Value, extra int) reflect.Value {
	out := reflect.MakeSlice(src.Type(), src.Len(), src.Len()+extra)
	reflect.Copy(out, src)
	return out
}
