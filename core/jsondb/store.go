// Package jsondb defines the contract of a hierarchical JSON document store
// addressed by slash delimited paths, together with the encoding used to
// keep a JSON tree as one row per leaf.
package jsondb

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-jsondb/core"
)

// Order controls the path ordering of rows returned by Get.
type Order string

const (
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)

// GetOptions narrows a Get to part of the subtree under a path. Key bounds
// apply to the direct children of the requested path.
type GetOptions struct {
	Order Order

	// StartAt includes children whose key sorts at or after the bound.
	StartAt string
	// StartAfter includes children whose key sorts strictly after the bound.
	StartAfter string
	// EndAt includes children whose key sorts at or before the bound, any
	// key that has the bound as a prefix included.
	EndAt string
	// EndBefore includes children whose key sorts strictly before the bound.
	EndBefore string

	// LimitToFirst caps the number of direct children returned. Zero means
	// no limit.
	LimitToFirst int
	// Depth collapses anything nested deeper than Depth levels to true.
	// Zero means unlimited.
	Depth int
}

// IDSet is the result of a property lookup: the bare ids of matching records,
// sorted lexicographically.
type IDSet struct {
	Size   int
	Values []string
}

// Store is the document store contract consumed by migrations.
type Store interface {
	// Get reads the value at path. It returns nil when nothing is stored.
	Get(ctx context.Context, path string, opts *GetOptions) (any, error)

	// Set creates or overwrites the value at path.
	Set(ctx context.Context, path string, value any) error

	// Update replaces each child of path named in values, leaving other
	// children untouched. Keys of values may themselves be sub paths.
	Update(ctx context.Context, path string, values core.Document) error

	// Delete removes path and everything below it. It reports whether
	// anything was removed.
	Delete(ctx context.Context, path string) (bool, error)

	// Exists reports whether anything is stored at or below path.
	Exists(ctx context.Context, path string) (bool, error)

	// Push stores value under a freshly generated key below path and returns
	// the key.
	Push(ctx context.Context, path string, value any) (string, error)

	// CreateKey returns a new unique key.
	CreateKey() string

	// FetchIdsByPropertyValue returns the ids of records in the collection at
	// collectionPath whose property equals value. Ids are returned without
	// the collection path and without the leading ':' of the record key.
	FetchIdsByPropertyValue(ctx context.Context, collectionPath, property, value string) (*IDSet, error)
}

// Transactor is implemented by stores that can run a group of operations
// atomically. The callback receives a Store bound to the transaction; the
// transaction is rolled back when the callback returns an error.
type Transactor interface {
	Transact(ctx context.Context, fn func(tx Store) error) error
}

// Notifier is implemented by stores that publish events to subscribers.
type Notifier interface {
	Notify(event Event)
}

// GetDocument reads the JSON object stored at path. It returns nil without an
// error when nothing, or a null, is stored there.
func GetDocument(ctx context.Context, store Store, path string) (core.Document, error) {
	v, err := store.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	doc, ok := core.AsDocument(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T", ErrNotAnObject, path, v)
	}
	return doc, nil
}

// RecordKey returns the collection key under which a record with id is
// stored.
func RecordKey(id string) string {
	return ":" + id
}

// RecordPath returns the path of the record with id in collectionPath.
func RecordPath(collectionPath, id string) string {
	return Suffix(NormalizePath(collectionPath), "/") + RecordKey(id)
}
