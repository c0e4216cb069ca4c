package jsondb

import "errors"

var (
	// ErrInvalidKey is returned when a path segment cannot be stored.
	ErrInvalidKey = errors.New("invalid key")

	// ErrNotAnObject is returned when a JSON object was expected at a path
	// that holds a scalar or an array.
	ErrNotAnObject = errors.New("value is not a JSON object")

	// ErrNestedTransaction is returned when Transact is called on a store
	// that is already bound to a transaction.
	ErrNestedTransaction = errors.New("cannot start a new transaction from an existing transactional store")
)
