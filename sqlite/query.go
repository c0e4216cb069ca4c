package sqlite

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core/jsondb"
)

// SelectSQL generates the query for the rows under baseDBPath, honoring the
// key bounds and ordering in opts.
func (s *Store) SelectSQL(baseDBPath string, opts *jsondb.GetOptions) (string, []any, error) {
	var o jsondb.GetOptions
	if opts != nil {
		o = *opts
	}
	order := o.Order
	if order == "" {
		order = jsondb.OrderAsc
	}
	if order != jsondb.OrderAsc && order != jsondb.OrderDesc {
		return "", nil, fmt.Errorf("unknown order %q", order)
	}
	desc := order == jsondb.OrderDesc

	low, high := jsondb.PrefixRange(baseDBPath)
	var sb strings.Builder
	sb.WriteString("SELECT path, value, ovalue FROM ")
	sb.WriteString(s.tableName())
	sb.WriteString(" WHERE path >= ? AND path < ?")
	params := []any{low, high}

	bound := func(key string, ascOp string, ascIncrement bool, descOp string, descIncrement bool) error {
		if key == "" {
			return nil
		}
		if _, err := jsondb.ValidateKey(key); err != nil {
			return err
		}
		op, increment := ascOp, ascIncrement
		if desc {
			op, increment = descOp, descIncrement
		}
		if increment {
			key = jsondb.IncrementKey(key)
		}
		sb.WriteString(" AND path " + op + " ?")
		params = append(params, baseDBPath+key)
		return nil
	}

	if err := bound(o.StartAfter, ">=", true, "<=", false); err != nil {
		return "", nil, err
	}
	if err := bound(o.StartAt, ">=", false, "<", true); err != nil {
		return "", nil, err
	}
	if err := bound(o.EndAt, "<", true, ">", false); err != nil {
		return "", nil, err
	}
	if err := bound(o.EndBefore, "<", false, ">=", true); err != nil {
		return "", nil, err
	}

	sb.WriteString(" ORDER BY path ")
	sb.WriteString(string(order))
	return sb.String(), params, nil
}

// DeleteSQL generates the statement removing everything under baseDBPath and
// any scalar stored at one of its parents.
func (s *Store) DeleteSQL(baseDBPath string) (string, []any) {
	var expressions []string
	var params []any
	for _, p := range jsondb.ParentPaths(baseDBPath) {
		expressions = append(expressions, "path = ?")
		params = append(params, p)
	}
	low, high := jsondb.PrefixRange(baseDBPath)
	expressions = append(expressions, "(path >= ? AND path < ?)")
	params = append(params, low, high)

	return "DELETE FROM " + s.tableName() + " WHERE " + strings.Join(expressions, " OR "), params
}

// CountSQL generates the query counting the rows under baseDBPath.
func (s *Store) CountSQL(baseDBPath string) (string, []any) {
	low, high := jsondb.PrefixRange(baseDBPath)
	return "SELECT COUNT(*) FROM " + s.tableName() + " WHERE path >= ? AND path < ?", []any{low, high}
}

// InsertSQL returns the statement inserting a single row.
func (s *Store) InsertSQL() string {
	return "INSERT INTO " + s.tableName() + " (path, value, ovalue, idx) VALUES (?, ?, ?, ?)"
}

// IndexedLookupSQL returns the query resolving a property value through the
// idx column.
func (s *Store) IndexedLookupSQL() string {
	return "SELECT path FROM " + s.tableName() + " WHERE idx = ? AND value = ?"
}

// ScanLookupSQL generates the query resolving a property value without an
// index. Callers must still check that each returned path is a direct
// property of a collection record.
func (s *Store) ScanLookupSQL(collectionDBPath string) (string, []any) {
	low, high := jsondb.PrefixRange(collectionDBPath)
	return "SELECT path FROM " + s.tableName() + " WHERE path >= ? AND path < ? AND value = ?", []any{low, high}
}
