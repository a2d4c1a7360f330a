package match

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the minimum token-set score (0-100) a candidate must
// reach before FuzzyFind accepts it.
const DefaultThreshold = 85

// ratio scores the edit-distance similarity of two strings on a 0-100
// scale: 100 for equal strings, 0 when every position differs.
func ratio(a, b string) int {
	if a == b {
		return 100
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(float64(100*(longest-dist))/float64(longest) + 0.5)
}

// tokenSet splits s on whitespace into a deduplicated token set.
func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

func sortedJoin(set map[string]struct{}) string {
	toks := make([]string, 0, len(set))
	for tok := range set {
		toks = append(toks, tok)
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// TokenSetRatio scores the similarity of a and b on a 0-100 scale using
// order-insensitive token-set comparison: the shared tokens of both strings
// are factored out and the score is the best edit-distance ratio among the
// intersection and the two intersection+remainder constructions. Word
// reordering ("Smith John" vs "John Smith") scores 100; partial overlap
// degrades gracefully instead of collapsing to zero.
func TokenSetRatio(a, b string) int {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := make(map[string]struct{})
	diffA := make(map[string]struct{})
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter[tok] = struct{}{}
		} else {
			diffA[tok] = struct{}{}
		}
	}
	diffB := make(map[string]struct{})
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			diffB[tok] = struct{}{}
		}
	}

	base := sortedJoin(inter)
	combA := strings.TrimSpace(base + " " + sortedJoin(diffA))
	combB := strings.TrimSpace(base + " " + sortedJoin(diffB))

	best := ratio(combA, combB)
	if base != "" {
		if s := ratio(base, combA); s > best {
			best = s
		}
		if s := ratio(base, combB); s > best {
			best = s
		}
	}
	return best
}

// FuzzyFind resolves raw against a candidate map keyed by Normalize-d names
// and returns the best-scoring value when its score reaches threshold.
// The boolean result makes "no match" an ordinary outcome, not an error.
//
// Ties at the top score resolve to the lexicographically smaller candidate
// key, so resolution is deterministic regardless of map iteration order.
// Empty raw input or an empty candidate map never scores and reports no
// match. A threshold <= 0 falls back to DefaultThreshold.
func FuzzyFind[V any](raw string, candidates map[string]V, threshold int) (V, bool) {
	var zero V
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if raw == "" || len(candidates) == 0 {
		return zero, false
	}

	query := Normalize(raw)
	if query == "" {
		return zero, false
	}

	bestScore := -1
	bestKey := ""
	for key := range candidates {
		score := TokenSetRatio(query, key)
		if score > bestScore || (score == bestScore && key < bestKey) {
			bestScore = score
			bestKey = key
		}
	}
	if bestScore < threshold {
		return zero, false
	}
	return candidates[bestKey], true
}
