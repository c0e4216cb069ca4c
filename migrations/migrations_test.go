package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/core/migration"
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

	options := sqlite.DefaultStoreOptions()
	options.Indexes = []jsondb.Index{{Path: EnvironmentsPath, Field: "name"}}
	store, err := sqlite.NewStore(context.Background(), db, zap.NewNop(), options)
	require.NoError(t, err)
	return store
}

// updateCounter counts collection write backs.
type updateCounter struct {
	jsondb.Store
	updates map[string]int
}

func (s *updateCounter) Update(ctx context.Context, path string, values core.Document) error {
	if s.updates == nil {
		s.updates = map[string]int{}
	}
	s.updates[path]++
	return s.Store.Update(ctx, path, values)
}

func getDocument(t *testing.T, store jsondb.Store, path string) core.Document {
	t.Helper()
	doc, err := jsondb.GetDocument(context.Background(), store, path)
	require.NoError(t, err)
	return doc
}

func TestAll(t *testing.T) {
	steps := All()
	require.Len(t, steps, 2)
	assert.Equal(t, 32, steps[0].Version)
	assert.Equal(t, 43, steps[1].Version)
	for _, s := range steps {
		assert.NotNil(t, s.Up)
		assert.NotEmpty(t, s.Description)
	}
}

func TestMigrator_AllSteps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Set(ctx, "/integrations/:i1", map[string]any{
		"id":                      "i1",
		"continuousDeliveryState": map[string]any{"prod": map[string]any{"name": "prod", "tag": "v1"}},
		"steps":                   []any{map[string]any{"connection": map[string]any{"connector": apiProviderConnector()}}},
	}))
	require.NoError(t, store.Set(ctx, "/connectors/:api-provider", apiProviderConnector()))

	m, err := migration.NewMigrator(store, nil, All())
	require.NoError(t, err)
	version, err := m.Migrate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 43, version)

	envs := getDocument(t, store, EnvironmentsPath)
	require.Len(t, envs, 1)

	action := firstAction(t, getDocument(t, store, "/connectors/:api-provider"))
	assertCanonical(t, action)

	integration := getDocument(t, store, "/integrations/:i1")
	steps, _ := integration.Array("steps")
	step, _ := core.AsDocument(steps[0])
	connection, _ := step.Object("connection")
	connector, _ := connection.Object("connector")
	assertCanonical(t, firstAction(t, connector))

	version, err = m.Migrate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 43, version)
}
