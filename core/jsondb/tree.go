package jsondb

import (
	"fmt"
	"sort"
	"strings"
)

// Row is a stored leaf as read back from the backing table.
type Row struct {
	Path   string
	Value  string
	OValue string
}

// Assemble rebuilds the JSON value stored under baseDBPath from its rows.
// Rows must be sorted by path in the order requested by opts. The second
// return value is false when there were no rows at all.
func Assemble(baseDBPath string, rows []Row, opts *GetOptions) (any, bool, error) {
	if len(rows) == 0 {
		return nil, false, nil
	}

	var o GetOptions
	if opts != nil {
		o = *opts
	}

	root := map[string]any{}
	var scalar any
	scalarSet := false

	entries := 0
	currentRoot := ""
	for _, row := range rows {
		rel := TrimSuffix(strings.TrimPrefix(row.Path, baseDBPath), "/")
		if rel == "" {
			v, err := DecodeValue(row.Value, row.OValue)
			if err != nil {
				return nil, false, fmt.Errorf("decoding %s: %w", row.Path, err)
			}
			scalar = v
			scalarSet = true
			continue
		}
		parts := strings.Split(rel, "/")

		if o.LimitToFirst > 0 {
			if entries == 0 || parts[0] != currentRoot {
				entries++
				currentRoot = parts[0]
			}
			if entries > o.LimitToFirst {
				break
			}
		}

		var value any
		if o.Depth > 0 && len(parts) > o.Depth {
			// Deeper subtrees are reported as present but not expanded.
			parts = parts[:o.Depth]
			value = true
		} else {
			v, err := DecodeValue(row.Value, row.OValue)
			if err != nil {
				return nil, false, fmt.Errorf("decoding %s: %w", row.Path, err)
			}
			value = v
		}
		insert(root, parts, value)
	}

	if scalarSet && len(root) == 0 {
		return scalar, true, nil
	}
	out, err := finalize(root)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func insert(node map[string]any, parts []string, value any) {
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[p] = child
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, isMap := node[last].(map[string]any); isMap && value == true {
		return
	}
	node[last] = value
}

// finalize turns maps keyed purely by array index segments into slices,
// filling gaps with nulls.
func finalize(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	isArray := len(m) > 0
	for k, child := range m {
		if !IsArrayIndexSegment(k) {
			isArray = false
		}
		out, err := finalize(child)
		if err != nil {
			return nil, err
		}
		m[k] = out
	}
	if !isArray {
		return m, nil
	}

	type slot struct {
		idx   int
		value any
	}
	slots := make([]slot, 0, len(m))
	for k, child := range m {
		idx, err := FromLexSortableStringToInt(k)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot{idx: idx, value: child})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].idx < slots[j].idx })
	if last := slots[len(slots)-1].idx; last > MaxArrayIndex {
		return nil, fmt.Errorf("%w: array index out of range: %d", ErrInvalidKey, last)
	}
	arr := make([]any, slots[len(slots)-1].idx+1)
	for _, s := range slots {
		arr[s.idx] = s.value
	}
	return arr, nil
}
