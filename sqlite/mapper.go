// Package sqlite provides the DDL for the jsondb table. Every JSON leaf is
// one row keyed by its full path, so the table layout never changes with the
// shape of the stored documents.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core/jsondb"
	"go.uber.org/zap"
)

// baseTableName is the name of the backing table before any prefix.
const baseTableName = "jsondb"

// StoreOptions provides configuration for the store.
type StoreOptions struct {
	// IfNotExists adds IF NOT EXISTS clause to CREATE TABLE statements.
	IfNotExists bool

	// DropIfExists drops the table before creating it.
	DropIfExists bool

	// CreateIndexes creates the secondary index over the idx column used by
	// indexed property lookups.
	CreateIndexes bool

	// TablePrefix adds a prefix to the table and index names.
	TablePrefix string

	// Indexes declares the collection fields whose values are indexed.
	Indexes []jsondb.Index
}

// DefaultStoreOptions returns a set of sensible default options for the
// SQLite store.
func DefaultStoreOptions() *StoreOptions {
	return &StoreOptions{
		IfNotExists:   true, // Prevent errors if the table already exists.
		CreateIndexes: true,
	}
}

// quoteIdentifier safely quotes an identifier, such as a table or index name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// tableName returns the quoted table name with the configured prefix.
func (s *Store) tableName() string {
	return quoteIdentifier(s.options.TablePrefix + baseTableName)
}

// CreateTableSQL generates the DDL statements for the jsondb table and, when
// enabled, its index.
func (s *Store) CreateTableSQL() []string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if s.options.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(s.tableName())
	sb.WriteString(" (path TEXT PRIMARY KEY, value TEXT, ovalue TEXT, idx TEXT)")

	statements := []string{sb.String()}
	if s.options.CreateIndexes {
		indexName := quoteIdentifier(s.options.TablePrefix + baseTableName + "_idx")
		statements = append(statements, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (idx, value) WHERE idx IS NOT NULL",
			indexName, s.tableName(),
		))
	}
	return statements
}

// CreateTables creates the backing table. When DropIfExists is set any
// existing table is dropped first.
func (s *Store) CreateTables(ctx context.Context) error {
	if s.options.DropIfExists {
		if err := s.DropTables(ctx); err != nil {
			return err
		}
	}
	for _, stmt := range s.CreateTableSQL() {
		s.logger.Debug("Executing DDL", zap.String("sql", stmt))
		if _, err := s.runner().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return nil
}

// DropTables drops the backing table if it exists.
func (s *Store) DropTables(ctx context.Context) error {
	stmt := "DROP TABLE IF EXISTS " + s.tableName()
	if _, err := s.runner().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}
