// Package sqlite provides a concrete implementation of the jsondb.Store
// interface on top of SQLite. It works with both the mattn/go-sqlite3 and the
// modernc.org/sqlite drivers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dbRunner is an interface that abstracts the common methods of *sql.DB and *sql.Tx,
// allowing for the same code to be used for both transactional and non-transactional
// database operations.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store is the SQLite backed jsondb.Store. A Store returned by Transact is
// bound to that transaction; its change events are held back until commit.
type Store struct {
	db      *sql.DB
	tx      *sql.Tx
	logger  *zap.Logger
	options *StoreOptions
	indexes jsondb.IndexSet

	bus           *events.TypedEventBus[jsondb.Event]
	subscriptions map[string]*jsondb.SubscriptionInfo
	subMu         sync.RWMutex

	parent  *Store
	pending []jsondb.Event
}

// Ensure Store implements the jsondb interfaces.
var (
	_ jsondb.Store      = (*Store)(nil)
	_ jsondb.Transactor = (*Store)(nil)
	_ jsondb.Notifier   = (*Store)(nil)
)

// NewStore creates a Store over db and creates the backing table.
func NewStore(ctx context.Context, db *sql.DB, logger *zap.Logger, options *StoreOptions) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultStoreOptions()
	}

	bus, err := events.NewTypedEventBus[jsondb.Event](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	s := &Store{
		db:            db,
		logger:        logger,
		options:       options,
		indexes:       jsondb.NewIndexSet(options.Indexes),
		bus:           bus,
		subscriptions: make(map[string]*jsondb.SubscriptionInfo),
	}
	if err := s.CreateTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// runner returns the transaction when bound to one, the pool otherwise.
func (s *Store) runner() dbRunner {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// root returns the store that owns the event bus.
func (s *Store) root() *Store {
	if s.parent != nil {
		return s.parent
	}
	return s
}

// withTransaction runs fn in the bound transaction, or in a fresh one that is
// committed when fn succeeds.
func (s *Store) withTransaction(ctx context.Context, fn func(r dbRunner) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateKey returns a new time ordered unique key.
func (s *Store) CreateKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Get reads the value stored at path.
func (s *Store) Get(ctx context.Context, path string, opts *jsondb.GetOptions) (any, error) {
	baseDBPath, err := jsondb.ToDBPath(path)
	if err != nil {
		return nil, err
	}

	sqlQuery, params, err := s.SelectSQL(baseDBPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	s.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))

	rows, err := s.runner().QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		s.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()

	var records []jsondb.Row
	for rows.Next() {
		var r jsondb.Row
		var value, ovalue sql.NullString
		if err := rows.Scan(&r.Path, &value, &ovalue); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Value = value.String
		r.OValue = ovalue.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}

	value, _, err := jsondb.Assemble(baseDBPath, records, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble %s: %w", path, err)
	}
	return value, nil
}

// GetJSON returns the JSON encoding of the value at path, or nil when nothing
// is stored there.
func (s *Store) GetJSON(ctx context.Context, path string, opts *jsondb.GetOptions) ([]byte, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil || !exists {
		return nil, err
	}
	value, err := s.Get(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// Set creates or overwrites the value at path.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	normalized, err := utils.Normalize(value)
	if err != nil {
		return err
	}
	baseDBPath, err := jsondb.ToDBPath(path)
	if err != nil {
		return err
	}
	records, err := s.flatten(baseDBPath, normalized)
	if err != nil {
		return err
	}

	err = s.withTransaction(ctx, func(r dbRunner) error {
		if _, err := s.deleteRecords(ctx, r, baseDBPath); err != nil {
			return err
		}
		return s.insertRecords(ctx, r, records)
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	s.Notify(jsondb.NewPathEvent(jsondb.PathUpdated, path))
	return nil
}

// Update replaces each child of path named in values.
func (s *Store) Update(ctx context.Context, path string, values core.Document) error {
	normalized, err := utils.Normalize(values)
	if err != nil {
		return err
	}
	children, ok := normalized.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: update did not contain a json object", jsondb.ErrNotAnObject)
	}

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type childWrite struct {
		path       string
		baseDBPath string
		records    []jsondb.Record
	}
	writes := make([]childWrite, 0, len(keys))
	for _, k := range keys {
		childPath := jsondb.Suffix(path, "/") + k
		baseDBPath, err := jsondb.ToDBPath(childPath)
		if err != nil {
			return err
		}
		records, err := s.flatten(baseDBPath, children[k])
		if err != nil {
			return err
		}
		writes = append(writes, childWrite{path: childPath, baseDBPath: baseDBPath, records: records})
	}

	err = s.withTransaction(ctx, func(r dbRunner) error {
		for _, w := range writes {
			if _, err := s.deleteRecords(ctx, r, w.baseDBPath); err != nil {
				return err
			}
			if err := s.insertRecords(ctx, r, w.records); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	for _, w := range writes {
		s.Notify(jsondb.NewPathEvent(jsondb.PathUpdated, w.path))
	}
	return nil
}

// Delete removes path and everything below it.
func (s *Store) Delete(ctx context.Context, path string) (bool, error) {
	baseDBPath, err := jsondb.ToDBPath(path)
	if err != nil {
		return false, err
	}
	var affected int64
	err = s.withTransaction(ctx, func(r dbRunner) error {
		n, err := s.deleteRecords(ctx, r, baseDBPath)
		affected = n
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if affected > 0 {
		s.Notify(jsondb.NewPathEvent(jsondb.PathDeleted, path))
	}
	return affected > 0, nil
}

// Exists reports whether anything is stored at or below path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	baseDBPath, err := jsondb.ToDBPath(path)
	if err != nil {
		return false, err
	}
	sqlQuery, params := s.CountSQL(baseDBPath)
	s.logger.Debug("Executing SQL COUNT", zap.String("sql", sqlQuery), zap.Any("params", params))

	var count int64
	if err := s.runner().QueryRowContext(ctx, sqlQuery, params...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count rows: %w", err)
	}
	return count > 0, nil
}

// Push stores value under a new key below path and returns the key.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key := s.CreateKey()
	if err := s.Set(ctx, jsondb.Suffix(jsondb.Prefix(path, "/"), "/")+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// FetchIdsByPropertyValue returns the ids of the records in collectionPath
// whose property equals value. Declared indexes are used when available;
// other lookups scan the collection.
func (s *Store) FetchIdsByPropertyValue(ctx context.Context, collectionPath, property, value string) (*jsondb.IDSet, error) {
	if _, err := jsondb.ValidateKey(property); err != nil {
		return nil, err
	}
	collectionDBPath, err := jsondb.ToDBPath(collectionPath)
	if err != nil {
		return nil, err
	}
	storedValue := string(jsondb.StringValuePrefix) + value

	idx := jsondb.Index{Path: collectionPath, Field: property}.Key()
	var sqlQuery string
	var params []any
	if s.indexes.Contains(idx) {
		sqlQuery = s.IndexedLookupSQL()
		params = []any{idx, storedValue}
	} else {
		s.logger.Warn("fetchIdsByPropertyValue not optimized, no index defined",
			zap.String("collectionPath", jsondb.NormalizePath(collectionPath)),
			zap.String("property", property))
		sqlQuery, params = s.ScanLookupSQL(collectionDBPath)
		params = append(params, storedValue)
	}
	s.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))

	rows, err := s.runner().QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		s.logger.Error("Failed to execute lookup query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute lookup query: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	suffix := "/" + property + "/"
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if !strings.HasPrefix(p, collectionDBPath) || !strings.HasSuffix(p, suffix) {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(p, collectionDBPath), suffix)
		if key == "" || strings.Contains(key, "/") {
			continue
		}
		seen[strings.TrimPrefix(key, ":")] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &jsondb.IDSet{Size: len(ids), Values: ids}, nil
}

// Transact runs fn against a Store bound to a new transaction. The
// transaction is rolled back if fn returns an error and committed otherwise.
// Change events raised inside fn are published after a successful commit.
func (s *Store) Transact(ctx context.Context, fn func(tx jsondb.Store) error) error {
	if s.tx != nil {
		return jsondb.ErrNestedTransaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.logger.Debug("Transaction initiated, returning new transactional store")

	txStore := &Store{
		db:      s.db,
		tx:      tx,
		logger:  s.logger,
		options: s.options,
		indexes: s.indexes,
		parent:  s,
	}

	if err := fn(txStore); err != nil {
		s.logger.Debug("Rolling back transaction", zap.Error(err))
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	s.logger.Debug("Committing transaction")
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, event := range txStore.pending {
		s.Notify(event)
	}
	return nil
}

// Notify publishes event to subscribers, or holds it until commit when the
// store is bound to a transaction.
func (s *Store) Notify(event jsondb.Event) {
	if s.tx != nil {
		s.pending = append(s.pending, event)
		return
	}
	if s.bus != nil {
		s.bus.Emit(string(event.Type), event)
	}
}

// RegisterSubscription registers a callback for an event type and returns an
// id that can be used to unregister it.
func (s *Store) RegisterSubscription(options jsondb.SubscriptionOptions) string {
	r := s.root()
	r.subMu.Lock()
	defer r.subMu.Unlock()

	unsubscribe := r.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()
	r.subscriptions[id] = &jsondb.SubscriptionInfo{
		Id:          id,
		Event:       options.Event,
		Label:       options.Label,
		Description: options.Description,
		Unsubscribe: unsubscribe,
	}
	return id
}

// UnregisterSubscription removes a subscription by its id.
func (s *Store) UnregisterSubscription(id string) {
	r := s.root()
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if info, ok := r.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(r.subscriptions, id)
	}
}

// Subscriptions returns the active subscriptions.
func (s *Store) Subscriptions() []jsondb.SubscriptionInfo {
	r := s.root()
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	subs := make([]jsondb.SubscriptionInfo, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

func (s *Store) flatten(baseDBPath string, value any) ([]jsondb.Record, error) {
	var records []jsondb.Record
	err := jsondb.Flatten(s.indexes, baseDBPath, value, func(r jsondb.Record) {
		records = append(records, r)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) deleteRecords(ctx context.Context, r dbRunner, baseDBPath string) (int64, error) {
	sqlQuery, params := s.DeleteSQL(baseDBPath)
	s.logger.Debug("Executing SQL DELETE", zap.String("sql", sqlQuery), zap.Any("params", params))

	result, err := r.ExecContext(ctx, sqlQuery, params...)
	if err != nil {
		s.logger.Error("Failed to execute DELETE query", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, fmt.Errorf("failed to execute DELETE query: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) insertRecords(ctx context.Context, r dbRunner, records []jsondb.Record) error {
	if len(records) == 0 {
		return nil
	}
	sqlQuery := s.InsertSQL()
	s.logger.Debug("Executing SQL INSERT", zap.String("sql", sqlQuery), zap.Int("rows", len(records)))

	stmt, err := r.PrepareContext(ctx, sqlQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare INSERT: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Path, rec.Value, nullable(rec.OValue), nullable(rec.Index)); err != nil {
			s.logger.Error("Failed to execute INSERT", zap.Error(err), zap.String("path", rec.Path))
			return fmt.Errorf("failed to insert %s: %w", rec.Path, err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
