package jsondb

import (
	"encoding/json"
	"sort"
	"strconv"
	"testing"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, indexes IndexSet, dbPath string, value any) []Record {
	t.Helper()
	var records []Record
	require.NoError(t, Flatten(indexes, dbPath, value, func(r Record) {
		records = append(records, r)
	}))
	return records
}

func TestFlatten(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		value := map[string]any{
			"s": "text",
			"t": true,
			"f": false,
			"n": nil,
			"i": json.Number("42"),
		}
		records := collect(t, nil, "/doc/", value)
		require.Len(t, records, 5)

		byPath := map[string]Record{}
		for _, r := range records {
			byPath[r.Path] = r
		}
		assert.Equal(t, "`text", byPath["/doc/s/"].Value)
		assert.Equal(t, string(TrueValuePrefix), byPath["/doc/t/"].Value)
		assert.Equal(t, string(FalseValuePrefix), byPath["/doc/f/"].Value)
		assert.Equal(t, string(NullValuePrefix), byPath["/doc/n/"].Value)
		assert.Equal(t, "[[242", byPath["/doc/i/"].Value)
		assert.Equal(t, "42", byPath["/doc/i/"].OValue)
	})

	t.Run("arrays use sortable index segments", func(t *testing.T) {
		records := collect(t, nil, "/list/", []any{"a", "b"})
		require.Len(t, records, 2)
		assert.Equal(t, "/list/[0/", records[0].Path)
		assert.Equal(t, "/list/[1/", records[1].Path)
	})

	t.Run("empty containers produce no rows", func(t *testing.T) {
		assert.Empty(t, collect(t, nil, "/x/", map[string]any{}))
		assert.Empty(t, collect(t, nil, "/x/", []any{}))
	})

	t.Run("go numeric types", func(t *testing.T) {
		records := collect(t, nil, "/x/", core.Document{"a": 1, "b": int64(2), "c": 1.5})
		require.Len(t, records, 3)
		assert.Equal(t, "1", records[0].OValue)
		assert.Equal(t, "2", records[1].OValue)
		assert.Equal(t, "1.5", records[2].OValue)
	})

	t.Run("declared index fields carry the index key", func(t *testing.T) {
		indexes := NewIndexSet([]Index{{Path: "/environments", Field: "name"}})
		records := collect(t, indexes, "/environments/:e1/", map[string]any{"id": "e1", "name": "prod"})
		require.Len(t, records, 2)
		assert.Equal(t, "", records[0].Index)
		assert.Equal(t, "/environments/#name", records[1].Index)
	})

	t.Run("rejects invalid object keys", func(t *testing.T) {
		err := Flatten(nil, "/x/", map[string]any{"a.b": 1}, func(Record) {})
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		err := Flatten(nil, "/x/", struct{}{}, func(Record) {})
		assert.Error(t, err)
	})
}

func TestDecodeValue(t *testing.T) {
	testCases := []struct {
		name     string
		value    string
		ovalue   string
		expected any
	}{
		{"null", string(NullValuePrefix), "null", nil},
		{"false", string(FalseValuePrefix), "false", false},
		{"true", string(TrueValuePrefix), "true", true},
		{"string", "`hello", "", "hello"},
		{"empty string", "`", "", ""},
		{"number", "[[212", "12", json.Number("12")},
		{"negative number", "-6", "-3", json.Number("-3")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeValue(tc.value, tc.ovalue)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}

	t.Run("unknown prefix", func(t *testing.T) {
		_, err := DecodeValue("?", "")
		assert.Error(t, err)
	})
}

func TestToLexSortableString(t *testing.T) {
	t.Run("known encodings", func(t *testing.T) {
		assert.Equal(t, "[0", ToLexSortableString("0"))
		assert.Equal(t, "[9", ToLexSortableString("9"))
		assert.Equal(t, "[[210", ToLexSortableString("10"))
		assert.Equal(t, "[[3100", ToLexSortableString("100"))
	})

	t.Run("orders like numbers", func(t *testing.T) {
		numbers := []string{"-100", "-10", "-2.5", "-1", "0", "0.5", "1", "2", "9", "10", "11", "99", "100", "1000", "12345"}
		encoded := make([]string, len(numbers))
		for i, n := range numbers {
			encoded[i] = ToLexSortableString(n)
		}
		sorted := append([]string(nil), encoded...)
		sort.Strings(sorted)
		assert.Equal(t, encoded, sorted)
	})
}

func TestFromLexSortableStringToInt(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 42, 99, 100, 1234, 1000000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			got, err := FromLexSortableStringToInt(ArrayIndexSegment(n))
			require.NoError(t, err)
			assert.Equal(t, n, got)
		})
	}
}

func TestIndexKey(t *testing.T) {
	assert.Equal(t, "/environments/#name", Index{Path: "environments/", Field: "name"}.Key())

	set := NewIndexSet([]Index{{Path: "/environments", Field: "name"}})
	assert.True(t, set.Contains("/environments/#name"))
	assert.Equal(t, "/environments/#name", set.fieldFor("/environments/:e1/name/"))
	assert.Equal(t, "", set.fieldFor("/environments/:e1/id/"))
	assert.Equal(t, "", set.fieldFor("/environments/:e1/nested/name/"))
}
