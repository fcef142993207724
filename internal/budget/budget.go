package budget

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// EstimateTokensFromChars converts a character count into an estimated token
// count using a conservative heuristic (~4 chars per token). The result is
// always at least 1 when chars > 0.
func EstimateTokensFromChars(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	// Keep conservative to avoid overruns. Use ceiling for safety.
	return int(math.Ceil(float64(charCount) / 4.0))
}

// EstimateTokens returns the estimated token count of a string.
func EstimateTokens(s string) int {
	return EstimateTokensFromChars(len(s))
}

// EstimatePromptTokens estimates the total tokens for a prompt composed of a
// system message, a user message, and zero or more context sections.
func EstimatePromptTokens(system string, user string, sections []string) int {
	total := EstimateTokens(system) + EstimateTokens(user)
	for _, s := range sections {
		total += EstimateTokens(s)
	}
	return total
}

var turkishLower = cases.Lower(language.Turkish)

// NormalizeTurkish lowercases text with Turkish casing rules (dotted and
// dotless i), applies NFKC normalization, and collapses runs of whitespace
// into single spaces. All lexicon and fingerprint comparisons in the brain
// go through this so that "İPTAL" and "iptal" compare equal.
func NormalizeTurkish(s string) string {
	s = norm.NFKC.String(s)
	s = turkishLower.String(s)
	return strings.Join(strings.Fields(s), " ")
}
