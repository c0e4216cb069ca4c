package core

import "encoding/json"

// Document is a JSON object as decoded from the store. Nested objects are
// plain map[string]any values and arrays are []any.
type Document map[string]any

// AsDocument converts a decoded JSON value into a Document. It reports false
// when the value is not a JSON object.
func AsDocument(v any) (Document, bool) {
	switch val := v.(type) {
	case Document:
		return val, val != nil
	case map[string]any:
		return Document(val), val != nil
	default:
		return nil, false
	}
}

// Object returns the nested object stored under key.
func (d Document) Object(key string) (Document, bool) {
	if d == nil {
		return nil, false
	}
	return AsDocument(d[key])
}

// Array returns the array stored under key.
func (d Document) Array(key string) ([]any, bool) {
	if d == nil {
		return nil, false
	}
	arr, ok := d[key].([]any)
	return arr, ok
}

// String returns the string stored under key.
func (d Document) String(key string) (string, bool) {
	if d == nil {
		return "", false
	}
	s, ok := d[key].(string)
	return s, ok
}

// Has reports whether key is present, even when it holds null.
func (d Document) Has(key string) bool {
	if d == nil {
		return false
	}
	_, ok := d[key]
	return ok
}

// Set assigns value to key and reports whether the stored value changed.
// Values are compared with ==, so only scalars are meaningful here.
func (d Document) Set(key string, value any) bool {
	if current, ok := d[key]; ok && isScalar(current) && current == value {
		return false
	}
	d[key] = value
	return true
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return true
	default:
		return false
	}
}
