package playbook

import (
	"strings"
)

// DefaultDedupThreshold is the Jaccard similarity above which two rule
// contents are considered the same rule.
const DefaultDedupThreshold = 0.65

// JaccardSimilarity computes set similarity over whitespace-tokenized,
// lowercased content. Empty inputs have zero similarity.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether content is a fuzzy duplicate of any existing
// rule at the given threshold.
func IsDuplicate(content string, rules []Rule, threshold float64) bool {
	for i := range rules {
		if JaccardSimilarity(content, rules[i].Content) >= threshold {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}
