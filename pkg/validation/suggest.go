package validation

import (
	"sort"
	"strings"

	"github.com/firelinehq/incidentd/pkg/rulepack"
)

// maxSuggestions caps the suggestedFix list on enumerated-value issues.
const maxSuggestions = 3

// suggest returns corrections for a value rejected by a value set: a
// case-insensitive exact match wins outright, otherwise the closest allowed
// values by edit distance, ties broken lexically so output is stable.
func suggest(vs *rulepack.ValueSet, got string) []string {
	if m, ok := vs.FoldMatch(got); ok {
		return []string{m}
	}

	type scored struct {
		value string
		dist  int
	}
	candidates := make([]scored, 0, len(vs.Values))
	lower := strings.ToLower(got)
	for _, v := range vs.Values {
		candidates = append(candidates, scored{value: v, dist: editDistance(lower, strings.ToLower(v))})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].value < candidates[j].value
	})

	n := maxSuggestions
	if len(candidates) < n {
		n = len(candidates)
	}
	out := make([]string, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.value)
	}
	return out
}

// editDistance computes Levenshtein distance with a two-row table. Value
// set entries are short codes, so the quadratic cost is bounded in
// practice.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
