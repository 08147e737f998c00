package validation

import (
	"strconv"
	"strings"
)

// resolve walks a dot-addressed path through nested maps and lists. A
// missing intermediate container means "value absent", never a structural
// error. Numeric segments index into lists.
func resolve(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// absent reports whether a resolved value should be treated as missing for
// requiredness purposes: not found, nil, blank string, or empty container.
func absent(v any, found bool) bool {
	if !found || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
