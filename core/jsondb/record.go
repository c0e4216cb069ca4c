package jsondb

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
)

// Every JSON leaf is stored as one row. The first byte of the stored value
// identifies its type so rows sort sensibly by value.
const (
	NullValuePrefix      byte = 0x00
	FalseValuePrefix     byte = 0x01
	TrueValuePrefix      byte = 0x02
	NumberValuePrefix    byte = '['
	NegNumberValuePrefix byte = '-'
	StringValuePrefix    byte = '`'
	ArrayValuePrefix          = NumberValuePrefix
)

var indexExtractor = regexp.MustCompile(`^(.+)/[^/]+/([^/]+)/$`)

// Record is a single stored leaf of a JSON tree.
type Record struct {
	// Path is the db path of the leaf, with leading and trailing slash.
	Path string
	// Value is the type prefixed, sortable encoding of the leaf.
	Value string
	// OValue holds the original text of numbers and booleans. Empty otherwise.
	OValue string
	// Index is the index key for this leaf when it is a declared index field.
	Index string
}

// Index declares that the named field of every record in the collection at
// Path should be indexed for FetchIdsByPropertyValue lookups.
type Index struct {
	Path  string `json:"path" yaml:"path"`
	Field string `json:"field" yaml:"field"`
}

// Key returns the index key stored in the idx column.
func (i Index) Key() string {
	return NormalizePath(i.Path) + "/#" + i.Field
}

// IndexSet is the set of declared index keys.
type IndexSet map[string]struct{}

// NewIndexSet builds an IndexSet from index declarations.
func NewIndexSet(indexes []Index) IndexSet {
	set := make(IndexSet, len(indexes))
	for _, idx := range indexes {
		set[idx.Key()] = struct{}{}
	}
	return set
}

// Contains reports whether key is a declared index.
func (s IndexSet) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

func (s IndexSet) fieldFor(dbPath string) string {
	if len(s) == 0 {
		return ""
	}
	m := indexExtractor.FindStringSubmatch(dbPath)
	if m == nil {
		return ""
	}
	key := m[1] + "/#" + m[2]
	if !s.Contains(key) {
		return ""
	}
	return key
}

// Flatten converts a normalized JSON value into the records that store it
// under dbPath. Empty objects and arrays produce no records.
func Flatten(indexes IndexSet, dbPath string, value any, emit func(Record)) error {
	switch v := value.(type) {
	case nil:
		emit(Record{Path: dbPath, Value: string(NullValuePrefix), OValue: "null", Index: indexes.fieldFor(dbPath)})
	case bool:
		if v {
			emit(Record{Path: dbPath, Value: string(TrueValuePrefix), OValue: "true", Index: indexes.fieldFor(dbPath)})
		} else {
			emit(Record{Path: dbPath, Value: string(FalseValuePrefix), OValue: "false", Index: indexes.fieldFor(dbPath)})
		}
	case string:
		emit(Record{Path: dbPath, Value: string(StringValuePrefix) + v, Index: indexes.fieldFor(dbPath)})
	case json.Number:
		emit(Record{Path: dbPath, Value: ToLexSortableString(v.String()), OValue: v.String(), Index: indexes.fieldFor(dbPath)})
	case float64:
		return Flatten(indexes, dbPath, json.Number(strconv.FormatFloat(v, 'f', -1, 64)), emit)
	case int:
		return Flatten(indexes, dbPath, json.Number(strconv.Itoa(v)), emit)
	case int64:
		return Flatten(indexes, dbPath, json.Number(strconv.FormatInt(v, 10)), emit)
	case core.Document:
		return flattenObject(indexes, dbPath, v, emit)
	case map[string]any:
		return flattenObject(indexes, dbPath, v, emit)
	case []any:
		if len(v) > MaxArrayIndex+1 {
			return fmt.Errorf("%w: array of %d items at %s exceeds the largest index %d", ErrInvalidKey, len(v), dbPath, MaxArrayIndex)
		}
		for i, item := range v {
			if err := Flatten(indexes, dbPath+ArrayIndexSegment(i)+"/", item, emit); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported value type %T at %s", value, dbPath)
	}
	return nil
}

func flattenObject(indexes IndexSet, dbPath string, obj map[string]any, emit func(Record)) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := ValidateKey(k); err != nil {
			return err
		}
		if err := Flatten(indexes, dbPath+k+"/", obj[k], emit); err != nil {
			return err
		}
	}
	return nil
}

// DecodeValue turns a stored value back into its JSON value.
func DecodeValue(value, ovalue string) (any, error) {
	if value == "" {
		return nil, fmt.Errorf("empty stored value")
	}
	switch value[0] {
	case NullValuePrefix:
		return nil, nil
	case FalseValuePrefix:
		return false, nil
	case TrueValuePrefix:
		return true, nil
	case StringValuePrefix:
		return value[1:], nil
	case NumberValuePrefix, NegNumberValuePrefix:
		if ovalue == "" {
			return nil, fmt.Errorf("number without original value: %q", value)
		}
		return json.Number(ovalue), nil
	default:
		return nil, fmt.Errorf("unknown value prefix %q", value[0])
	}
}

// ArrayIndexSegment encodes an array index as a path segment that sorts in
// numeric order.
func ArrayIndexSegment(idx int) string {
	return ToLexSortableString(strconv.Itoa(idx))
}

// IsArrayIndexSegment reports whether a path segment addresses an array slot.
func IsArrayIndexSegment(segment string) bool {
	return segment != "" && segment[0] == ArrayValuePrefix
}

// ToLexSortableString encodes a decimal number so that byte-wise ordering of
// the encoded strings matches numeric ordering. The length of the integer
// part is prefixed recursively, one marker per level.
func ToLexSortableString(value string) string {
	seq := value
	prefix := NumberValuePrefix
	if strings.HasPrefix(seq, "-") {
		prefix = NegNumberValuePrefix
		seq = seq[1:]
	}

	suffix := ""
	hasSuffix := false
	if dot := strings.IndexByte(seq, '.'); dot >= 0 {
		suffix = seq[dot+1:]
		seq = seq[:dot]
		hasSuffix = true
	}

	seqs := []string{seq}
	for len(seq) > 1 {
		seq = strconv.Itoa(len(seq))
		seqs = append(seqs, seq)
	}

	var b strings.Builder
	for range seqs {
		b.WriteByte(prefix)
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		b.WriteString(seqs[i])
	}
	if hasSuffix {
		b.WriteString(suffix)
		if prefix == NegNumberValuePrefix {
			b.WriteByte(NumberValuePrefix)
		} else {
			b.WriteByte(NegNumberValuePrefix)
		}
	}

	rc := b.String()
	if prefix == NegNumberValuePrefix {
		chars := []byte(rc)
		for i, c := range chars {
			if '0' <= c && c <= '9' {
				chars[i] = '9' - (c - '0')
			}
		}
		rc = string(chars)
	}
	return rc
}

// FromLexSortableStringToInt decodes an array index segment.
func FromLexSortableStringToInt(value string) (int, error) {
	remaining := strings.TrimLeft(value, string(NumberValuePrefix))
	rc := 1
	for remaining != "" {
		if rc > len(remaining) || rc < 1 {
			return 0, fmt.Errorf("malformed sortable number %q", value)
		}
		x := remaining[:rc]
		remaining = remaining[rc:]
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("malformed sortable number %q: %w", value, err)
		}
		rc = n
	}
	return rc, nil
}
