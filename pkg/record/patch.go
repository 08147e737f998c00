package record

// MergePatch applies an RFC 7386 JSON merge patch to a payload and returns
// the patched copy. nil values in the patch delete keys; nested maps merge
// recursively; arrays and scalars replace wholesale. The target is never
// mutated, so a failed compare-and-swap leaves nothing to roll back.
func MergePatch(target map[string]any, patch map[string]any) map[string]any {
	out := clonePayload(target)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			if tm, ok := out[k].(map[string]any); ok {
				out[k] = MergePatch(tm, pm)
				continue
			}
			out[k] = MergePatch(nil, pm)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// LeafCount returns the number of scalar leaves in a payload value. Used
// together with Depth to bound evaluation cost before validation runs.
func LeafCount(v any) int {
	switch t := v.(type) {
	case map[string]any:
		n := 0
		for _, e := range t {
			n += LeafCount(e)
		}
		return n
	case []any:
		n := 0
		for _, e := range t {
			n += LeafCount(e)
		}
		return n
	default:
		return 1
	}
}

// Depth returns the nesting depth of a payload value. Used to bound
// evaluation cost before validation runs.
func Depth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, e := range t {
			if d := Depth(e); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, e := range t {
			if d := Depth(e); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}
