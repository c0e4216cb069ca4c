// Package migration applies versioned transformations to a jsondb store.
//
// A migration step is a function of the store it is given; it holds no
// package level state. Steps are applied in ascending version order by a
// Migrator, which records the last applied version in the store itself.
package migration

import (
	"context"
	"fmt"
	"sort"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"go.uber.org/zap"
)

// RecordFunc mutates a single collection record in place and reports whether
// it changed it.
type RecordFunc func(record core.Document) (bool, error)

// CollectionResult counts the records seen and changed by MigrateCollection.
type CollectionResult struct {
	Migrated  int
	Inspected int
}

// MigrateCollection applies fn to every record of the collection stored at
// path. The collection is written back with a single Update, and only when
// fn reported a change for at least one record. An absent collection is not
// an error: nothing is inspected and nothing is written.
//
// Records are visited in key order. Entries that are not JSON objects are
// counted as inspected and otherwise skipped. An error from fn, or a
// cancelled ctx, aborts the pass before anything is written.
func MigrateCollection(ctx context.Context, store jsondb.Store, logger *zap.Logger, label, path string, fn RecordFunc) (*CollectionResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &CollectionResult{}

	collection, err := jsondb.GetDocument(ctx, store, path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read %s: %w", label, path, err)
	}
	if collection == nil {
		logger.Debug("Collection absent, nothing to migrate", zap.String("type", label), zap.String("path", path))
		return result, nil
	}

	keys := make([]string, 0, len(collection))
	for k := range collection {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		result.Inspected++
		record, ok := core.AsDocument(collection[key])
		if !ok {
			logger.Warn("Skipping non-object collection entry", zap.String("type", label), zap.String("key", key))
			continue
		}
		changed, err := fn(record)
		if err != nil {
			return nil, fmt.Errorf("%s: record %s: %w", label, key, err)
		}
		if changed {
			result.Migrated++
		}
	}

	if result.Migrated > 0 {
		if err := store.Update(ctx, path, collection); err != nil {
			return nil, fmt.Errorf("%s: failed to write %s: %w", label, path, err)
		}
	}

	logger.Info(fmt.Sprintf("%s: migrated %d out of %d", label, result.Migrated, result.Inspected),
		zap.String("path", path))
	return result, nil
}
