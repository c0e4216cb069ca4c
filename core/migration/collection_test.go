package migration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/sqlite"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := sqlite.NewStore(context.Background(), db, zap.NewNop(), nil)
	require.NoError(t, err)
	return store
}

// countingStore counts the writes that reach the wrapped store. It hides any
// optional interfaces of the wrapped store.
type countingStore struct {
	jsondb.Store
	updates int
	sets    int
}

func (s *countingStore) Update(ctx context.Context, path string, values core.Document) error {
	s.updates++
	return s.Store.Update(ctx, path, values)
}

func (s *countingStore) Set(ctx context.Context, path string, value any) error {
	s.sets++
	return s.Store.Set(ctx, path, value)
}

func TestMigrateCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("absent collection is a no-op", func(t *testing.T) {
		store := &countingStore{Store: newTestStore(t)}
		called := false

		result, err := MigrateCollection(ctx, store, nil, "Integration", "/integrations", func(core.Document) (bool, error) {
			called = true
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, &CollectionResult{Migrated: 0, Inspected: 0}, result)
		assert.False(t, called)
		assert.Zero(t, store.updates)
		assert.Zero(t, store.sets)
	})

	t.Run("no write back without changes", func(t *testing.T) {
		inner := newTestStore(t)
		require.NoError(t, inner.Set(ctx, "/integrations", map[string]any{
			":i1": map[string]any{"id": "i1"},
			":i2": map[string]any{"id": "i2"},
		}))
		store := &countingStore{Store: inner}

		result, err := MigrateCollection(ctx, store, nil, "Integration", "/integrations", func(core.Document) (bool, error) {
			return false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, &CollectionResult{Migrated: 0, Inspected: 2}, result)
		assert.Zero(t, store.updates)
	})

	t.Run("writes back once when records change", func(t *testing.T) {
		inner := newTestStore(t)
		require.NoError(t, inner.Set(ctx, "/integrations", map[string]any{
			":i1": map[string]any{"id": "i1", "name": "old"},
			":i2": map[string]any{"id": "i2", "name": "keep"},
			":i3": map[string]any{"id": "i3", "name": "old"},
		}))
		store := &countingStore{Store: inner}

		result, err := MigrateCollection(ctx, store, zap.NewNop(), "Integration", "/integrations", func(record core.Document) (bool, error) {
			if name, _ := record.String("name"); name == "old" {
				return record.Set("name", "new"), nil
			}
			return false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, &CollectionResult{Migrated: 2, Inspected: 3}, result)
		assert.Equal(t, 1, store.updates)

		v, err := inner.Get(ctx, "/integrations", nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			":i1": map[string]any{"id": "i1", "name": "new"},
			":i2": map[string]any{"id": "i2", "name": "keep"},
			":i3": map[string]any{"id": "i3", "name": "new"},
		}, v)
	})

	t.Run("non-object entries are inspected but skipped", func(t *testing.T) {
		inner := newTestStore(t)
		require.NoError(t, inner.Set(ctx, "/things", map[string]any{
			":a": map[string]any{"id": "a"},
			":b": "scalar",
		}))
		var seen []string

		result, err := MigrateCollection(ctx, inner, nil, "Thing", "/things", func(record core.Document) (bool, error) {
			id, _ := record.String("id")
			seen = append(seen, id)
			return false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Inspected)
		assert.Equal(t, []string{"a"}, seen)
	})

	t.Run("errors abort without writing", func(t *testing.T) {
		inner := newTestStore(t)
		require.NoError(t, inner.Set(ctx, "/things", map[string]any{
			":a": map[string]any{"id": "a"},
			":b": map[string]any{"id": "b"},
		}))
		store := &countingStore{Store: inner}
		boom := errors.New("boom")

		_, err := MigrateCollection(ctx, store, nil, "Thing", "/things", func(record core.Document) (bool, error) {
			if id, _ := record.String("id"); id == "b" {
				return false, boom
			}
			record["touched"] = true
			return true, nil
		})
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, store.updates)
	})

	t.Run("cancellation stops before the next record", func(t *testing.T) {
		inner := newTestStore(t)
		require.NoError(t, inner.Set(ctx, "/things", map[string]any{
			":a": map[string]any{"id": "a"},
			":b": map[string]any{"id": "b"},
			":c": map[string]any{"id": "c"},
		}))
		store := &countingStore{Store: inner}
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		calls := 0
		_, err := MigrateCollection(cctx, store, nil, "Thing", "/things", func(record core.Document) (bool, error) {
			calls++
			cancel()
			record["touched"] = true
			return true, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
		assert.Zero(t, store.updates)

		doc, err := jsondb.GetDocument(ctx, inner, "/things/:a")
		require.NoError(t, err)
		assert.Equal(t, core.Document{"id": "a"}, doc)
	})

	t.Run("collection path holding a scalar", func(t *testing.T) {
		inner := newTestStore(t)
		require.NoError(t, inner.Set(ctx, "/things", "nope"))

		_, err := MigrateCollection(ctx, inner, nil, "Thing", "/things", func(core.Document) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, jsondb.ErrNotAnObject)
	})
}
