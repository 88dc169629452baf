package binding

import (
	"strconv"
	"strings"
)

// segment is one token of a parsed dot path: either a field access or a
// list index. Paths are parsed once and evaluated against a generic value
// tree, so a malformed path can only ever resolve to absent.
type segment struct {
	field   string
	index   int
	isIndex bool
}

// parsePath tokenizes a dot path such as "step_0.result.files.0.path".
// Returns ok=false for malformed paths (empty string, empty segment).
func parsePath(path string) ([]segment, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, false
		}
		if idx, err := strconv.Atoi(part); err == nil && idx >= 0 {
			segs = append(segs, segment{index: idx, isIndex: true})
			continue
		}
		segs = append(segs, segment{field: part})
	}
	return segs, true
}

// lookup walks a value tree of nested maps, lists, and scalars. Any missing
// segment, out-of-range index, or type mismatch yields absent (ok=false);
// there are no partial values and no panics.
func lookup(root interface{}, segs []segment) (interface{}, bool) {
	current := root
	for _, seg := range segs {
		switch node := current.(type) {
		case map[string]interface{}:
			if seg.isIndex {
				// Numeric map keys are allowed in loosely-typed results
				v, ok := node[strconv.Itoa(seg.index)]
				if !ok {
					return nil, false
				}
				current = v
				continue
			}
			v, ok := node[seg.field]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			if !seg.isIndex || seg.index >= len(node) {
				return nil, false
			}
			current = node[seg.index]
		default:
			return nil, false
		}
	}
	return current, true
}

// resolvePath parses and evaluates a dot path in one call
func resolvePath(root interface{}, path string) (interface{}, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	return lookup(root, segs)
}
