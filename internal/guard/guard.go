// Package guard implements the no-new-facts check: a finalizer candidate
// must not introduce numeric or temporal facts absent from its source
// context (user input, planner decision, dialog summary, tool results).
package guard

import (
	"sort"
)

// ViolationType names the category of an ungrounded fact.
type ViolationType string

const (
	NewNumber   ViolationType = "NEW_NUMBER"
	NewTime     ViolationType = "NEW_TIME"
	NewDate     ViolationType = "NEW_DATE"
	NewCurrency ViolationType = "NEW_CURRENCY"
	NewPercent  ViolationType = "NEW_PERCENT"
)

// Violation is one candidate token with no counterpart in the source union.
type Violation struct {
	Type  ViolationType `json:"type"`
	Value string        `json:"value"`
}

// Result aggregates violations for one candidate reply.
type Result struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
}

// Guard validates candidate replies against source texts. MaxViolations is
// the number of violations tolerated before failing (default 0).
type Guard struct {
	MaxViolations int
}

// Validate unions the facts of all source texts, extracts the candidate's
// facts, and reports every candidate token missing from the union. Turkish
// number words in the candidate count as their digit equivalents, so "beş
// kişi" passes when any source contains "5".
func (g *Guard) Validate(userInput, plannerDecision, dialogSummary, toolResults, candidate string) Result {
	sources := newFacts()
	for _, src := range []string{userInput, plannerDecision, dialogSummary, toolResults} {
		if src != "" {
			sources.merge(ExtractFacts(src))
		}
	}
	cand := ExtractFacts(candidate)

	var violations []Violation
	violations = appendMissing(violations, NewNumber, cand.Numbers, sources.Numbers)
	violations = appendMissing(violations, NewTime, cand.Times, sources.Times)
	violations = appendMissing(violations, NewDate, cand.Dates, sources.Dates)
	violations = appendMissing(violations, NewCurrency, cand.Currencies, sources.Currencies)
	violations = appendMissing(violations, NewPercent, cand.Percents, sources.Percents)

	return Result{
		Passed:     len(violations) <= g.MaxViolations,
		Violations: violations,
	}
}

func appendMissing(out []Violation, vt ViolationType, candidate, sources map[string]struct{}) []Violation {
	missing := make([]string, 0, len(candidate))
	for tok := range candidate {
		if _, ok := sources[tok]; !ok {
			missing = append(missing, tok)
		}
	}
	sort.Strings(missing)
	for _, tok := range missing {
		out = append(out, Violation{Type: vt, Value: tok})
	}
	return out
}

// StrictClause is prepended to the finalizer system prompt on retry after a
// guard failure.
const StrictClause = "Yalnızca TOOL_RESULTS içindeki bilgilerle cevap ver. " +
	"Kaynaklarda olmayan sayı, saat, tarih veya tutar uydurmak kesinlikle yasak. " +
	"Emin değilsen 'bilmiyorum' demeyi tercih et."
