package jsondb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxKeyLength is the longest key accepted in a path segment.
	MaxKeyLength = 768
	// MaxArrayIndex is the largest array index a path or stored array may use.
	MaxArrayIndex = 1<<20 - 1
)

var integerPattern = regexp.MustCompile(`^\d+$`)

// ValidateKey checks that a single path segment can be stored. Keys cannot
// contain '.', '%', '$', '#', '[', ']', '/' or ASCII control characters.
func ValidateKey(key string) (string, error) {
	for _, r := range key {
		switch r {
		case '.', '%', '$', '#', '[', ']', '/', 127:
			return "", fmt.Errorf("%w: cannot contain ., %%, $, #, [, ], /, or ASCII control characters 0-31 or 127. Key: %s", ErrInvalidKey, key)
		}
		if 0 < r && r < 32 {
			return "", fmt.Errorf("%w: cannot contain ., %%, $, #, [, ], /, or ASCII control characters 0-31 or 127. Key: %s", ErrInvalidKey, key)
		}
	}
	if len(key) > MaxKeyLength {
		return "", fmt.Errorf("%w: key cannot be longer than %d characters. Key: %s", ErrInvalidKey, MaxKeyLength, key)
	}
	return key, nil
}

// ToDBPath normalizes a user supplied path into the form used as a row key:
// a leading and trailing slash, no empty segments, and integer segments
// rewritten as array index segments.
func ToDBPath(path string) (string, error) {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if _, err := ValidateKey(part); err != nil {
			return "", err
		}
		if integerPattern.MatchString(part) {
			idx, err := strconv.ParseInt(part, 10, 32)
			if err != nil || idx > MaxArrayIndex {
				return "", fmt.Errorf("%w: array index out of range: %s", ErrInvalidKey, part)
			}
			part = ArrayIndexSegment(int(idx))
		}
		out = append(out, part)
	}
	return Suffix(Prefix(strings.Join(out, "/"), "/"), "/"), nil
}

// NormalizePath returns path with a single leading slash and no trailing
// slash. It is the form carried by change events.
func NormalizePath(path string) string {
	return Prefix(TrimSuffix(path, "/"), "/")
}

// ParentPaths returns every ancestor of a db path, shortest first, each with a
// trailing slash. The root itself is not included.
func ParentPaths(dbPath string) []string {
	current := TrimSuffix(dbPath, "/")
	var parents []string
	for {
		idx := strings.LastIndex(current, "/")
		if idx <= 0 {
			break
		}
		current = current[:idx]
		parents = append([]string{current + "/"}, parents...)
	}
	return parents
}

// Prefix ensures value starts with prefix.
func Prefix(value, prefix string) string {
	if strings.HasPrefix(value, prefix) {
		return value
	}
	return prefix + value
}

// Suffix ensures value ends with suffix.
func Suffix(value, suffix string) string {
	if strings.HasSuffix(value, suffix) {
		return value
	}
	return value + suffix
}

// TrimSuffix removes a single trailing suffix if present.
func TrimSuffix(value, suffix string) string {
	return strings.TrimSuffix(value, suffix)
}

// upperBound returns the smallest string greater than every string that has
// dbPath as a prefix. dbPath always ends in '/', and '0' follows '/' directly.
func upperBound(dbPath string) string {
	return IncrementKey(dbPath)
}

// IncrementKey bumps the last character of value by one.
func IncrementKey(value string) string {
	if value == "" {
		return value
	}
	b := []byte(value)
	b[len(b)-1]++
	return string(b)
}

// PrefixRange returns the half open [low, high) range of row keys that lie
// under dbPath, dbPath included.
func PrefixRange(dbPath string) (string, string) {
	return dbPath, upperBound(dbPath)
}
