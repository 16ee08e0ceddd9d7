// internal/rules/fieldpath.go
package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Field path resolution for usage events.
 *
 * A path is dotted text ("dimensions.amount", "items.0.sku", "items.*.sku").
 * Numeric segments index arrays, "*" matches any element or key with ANY
 * semantics (first match wins, object keys in sorted order). Paths longer
 * than types.MaxPathDepth are rejected before traversal.
 */

// PathSegment is one step of a parsed path.
type PathSegment struct {
	Key      string
	Index    int
	IsIndex  bool
	Wildcard bool
}

// ParsePath splits a dotted path into segments.
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, types.ErrFieldNotFound
	}
	parts := strings.Split(path, ".")
	if len(parts) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	segs := make([]PathSegment, len(parts))
	for i, p := range parts {
		switch {
		case p == "*":
			segs[i] = PathSegment{Wildcard: true}
		case isIndex(p):
			n, _ := strconv.Atoi(p)
			segs[i] = PathSegment{Key: p, Index: n, IsIndex: true}
		default:
			segs[i] = PathSegment{Key: p}
		}
	}
	return segs, nil
}

func isIndex(s string) bool {
	if s == "" || len(s) > 9 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Lookup resolves path in a decoded JSON document.
// Returns types.ErrFieldNotFound if any step is missing.
func Lookup(path []PathSegment, doc any) (any, error) {
	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return lookup(path, doc)
}

func lookup(path []PathSegment, current any) (any, error) {
	if len(path) == 0 {
		return current, nil
	}
	seg, rest := path[0], path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if val, err := lookup(rest, v[k]); err == nil {
					return val, nil
				}
			}
			return nil, types.ErrFieldNotFound
		}
		// numeric segments are also valid object keys
		val, ok := v[seg.Key]
		if !ok {
			return nil, types.ErrFieldNotFound
		}
		return lookup(rest, val)

	case []any:
		if seg.Wildcard {
			for _, elem := range v {
				if val, err := lookup(rest, elem); err == nil {
					return val, nil
				}
			}
			return nil, types.ErrFieldNotFound
		}
		if !seg.IsIndex || seg.Index >= len(v) {
			return nil, types.ErrFieldNotFound
		}
		return lookup(rest, v[seg.Index])

	default:
		return nil, types.ErrFieldNotFound
	}
}
