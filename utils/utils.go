package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/asaidimu/go-jsondb/core"
)

// Normalize converts an arbitrary Go value into the generic JSON tree the
// store persists: nil, bool, string, json.Number, map[string]any and []any.
//
// The value is marshaled to JSON and decoded again with UseNumber, so struct
// tags such as `json:"name,omitempty"` are honored and numbers keep their
// exact textual form instead of being widened to float64.
//
// Example:
//
//	type Environment struct {
//		ID   string `json:"id"`
//		Name string `json:"name"`
//	}
//	v, err := Normalize(Environment{ID: "e1", Name: "prod"})
//	// v is map[string]any{"id": "e1", "name": "prod"}
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return decode(raw)
	}
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("Normalize: failed to marshal value to JSON: %w", err)
	}
	return decode(jsonBytes)
}

// ParseJSON decodes JSON text into the generic JSON tree, preserving numbers
// as json.Number. Trailing data after the first value is rejected.
func ParseJSON(data []byte) (any, error) {
	return decode(data)
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("document did not terminate as expected")
	}
	return out, nil
}

// ToDocument converts a struct, or a pointer to one, into a core.Document.
//
// The input must be a struct or a non-nil pointer to a struct. Nested structs
// become nested map[string]any values, the same shape the store returns.
func ToDocument[T any](record T) (core.Document, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	out, err := Normalize(record)
	if err != nil {
		return nil, fmt.Errorf("ToDocument: %w", err)
	}
	doc, ok := core.AsDocument(out)
	if !ok {
		return nil, fmt.Errorf("ToDocument: record did not encode to a JSON object")
	}
	return doc, nil
}

// FromDocument converts a document read from the store into a new value of
// the struct type T. It is the inverse of ToDocument.
//
// Example:
//
//	doc, _ := jsondb.GetDocument(ctx, store, "/environments/:e1")
//	env, err := FromDocument[Environment](doc)
func FromDocument[T any](input core.Document) (T, error) {
	var zero T
	if input == nil {
		return zero, fmt.Errorf("FromDocument: input document cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("FromDocument: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("FromDocument: failed to marshal input document to JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("FromDocument: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}
