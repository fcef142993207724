// Package compose assembles the enhanced system context handed to the
// router: dialog summary, user profile, personality, recent turns, tool
// results, and anaphora references, all under a token budget.
package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/budget"
	"github.com/bantz-ai/bantz/internal/memory"
	"github.com/bantz-ai/bantz/internal/profile"
	"github.com/bantz-ai/bantz/internal/tools"
)

// Tracer observes context assembly for debugging. All methods are optional
// hooks; a nil tracer is silently skipped.
type Tracer interface {
	BeginTurn(userInput string)
	RecordInjection(section string, chars int)
	RecordTrim(section string, beforeChars, afterChars int)
}

// Turn is one user/assistant exchange for the RECENT_CONVERSATION section.
type Turn struct {
	User      string
	Assistant string
}

// Input is everything one Build needs. State stays with the caller; the
// builder only reads.
type Input struct {
	UserInput       string
	DialogSummary   string
	History         []Turn
	ToolResults     []tools.ToolResult
	ReferenceTable  map[int]string
	PlannerDecision string
	IsSmalltalk     bool
	Tracer          Tracer
}

// Result is the composed context plus the (possibly PII-filtered) dialog
// summary actually injected.
type Result struct {
	EnhancedSummary string
	DialogSummary   string
}

// Section caps and trim targets, in characters.
const (
	DefaultTokenBudget = 3500

	dialogSummaryCap   = 2000
	profileCap         = 600
	longTermCap        = 500
	personalityCap     = 800
	recentTurnsCap     = 800
	toolResultsCap     = 2000
	referenceTableCap  = 400
	plannerDecisionCap = 600

	toolResultsTrim     = 600
	dialogSummaryTrim   = 800
	plannerDecisionTrim = 300
	personalityTrim     = 400
	userInputTrim       = 300

	maxLongTermBullets = 5
)

// Builder composes contexts. Profile and personality are loaded once at
// startup; the PII-redacted dialog summary and rendered personality are
// memoized by content hash since both are recomputed every turn otherwise.
type Builder struct {
	Profile     profile.Profile
	Personality string
	TokenBudget int
	PIIFilter   bool
	NowFn       func() time.Time
	Log         zerolog.Logger

	mu              sync.Mutex
	piiCacheKey     string
	piiCacheValue   string
	personaCacheKey string
	personaRendered string
}

// NewBuilder creates a builder with the default token budget.
func NewBuilder(p profile.Profile, personality string, piiFilter bool, log zerolog.Logger) *Builder {
	return &Builder{
		Profile:     p,
		Personality: personality,
		TokenBudget: DefaultTokenBudget,
		PIIFilter:   piiFilter,
		NowFn:       time.Now,
		Log:         log.With().Str("stage", "compose").Logger(),
	}
}

type section struct {
	name string
	text string
}

// Build composes the enhanced context. Sections are separated by a blank
// line and omitted when empty; when the result exceeds the token budget the
// trim ladder shaves sections in a fixed order, least critical first.
func (b *Builder) Build(in Input) Result {
	if in.Tracer != nil {
		in.Tracer.BeginTurn(in.UserInput)
	}

	dialogSummary := b.filteredDialogSummary(in.DialogSummary)

	sections := []section{
		{"session_context", b.sessionContext()},
		{"dialog_summary", capText(dialogSummary, dialogSummaryCap)},
		{"user_profile", b.profileSection(in.IsSmalltalk)},
		{"long_term_memory", b.longTermSection(in.IsSmalltalk)},
		{"personality", capText(b.renderedPersonality(), personalityCap)},
		{"recent_conversation", capText(recentSection(in.History), recentTurnsCap)},
		{"planner_decision", plannerSection(in.PlannerDecision)},
		{"last_tool_results", capText(toolResultsSection(in.ToolResults), toolResultsCap)},
		{"reference_table", capText(referenceSection(in.ReferenceTable), referenceTableCap)},
		{"user_input", userInputSection(in.UserInput)},
	}

	sections = b.fitBudget(sections, in.Tracer)

	var parts []string
	for _, s := range sections {
		if s.text != "" {
			parts = append(parts, s.text)
		}
	}
	enhanced := strings.Join(parts, "\n\n")
	if in.Tracer != nil {
		in.Tracer.RecordInjection("enhanced_summary", len([]rune(enhanced)))
	}
	return Result{EnhancedSummary: enhanced, DialogSummary: dialogSummary}
}

// filteredDialogSummary applies PII masking once per distinct summary.
func (b *Builder) filteredDialogSummary(raw string) string {
	if !b.PIIFilter || raw == "" {
		return raw
	}
	key := contentHash(raw)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.piiCacheKey == key {
		return b.piiCacheValue
	}
	masked := memory.MaskPII(raw)
	b.piiCacheKey, b.piiCacheValue = key, masked
	return masked
}

func (b *Builder) renderedPersonality() string {
	key := contentHash(b.Personality + "|" + b.Profile.Name)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.personaCacheKey == key {
		return b.personaRendered
	}
	rendered := ""
	if b.Personality != "" {
		rendered = "PERSONALITY:\n" + profile.RenderPersonality(b.Personality, b.Profile.Name)
	}
	b.personaCacheKey, b.personaRendered = key, rendered
	return rendered
}

func (b *Builder) sessionContext() string {
	now := b.NowFn()
	return fmt.Sprintf("SESSION_CONTEXT:\nTarih: %s\nSaat: %s",
		now.Format("2006-01-02 Monday"), now.Format("15:04"))
}

func (b *Builder) profileSection(isSmalltalk bool) string {
	if isSmalltalk {
		return ""
	}
	var lines []string
	if b.Profile.Name != "" {
		lines = append(lines, "İsim: "+b.Profile.Name)
	}
	for _, f := range b.Profile.Facts {
		lines = append(lines, "- "+f)
	}
	for _, p := range b.Profile.Preferences {
		lines = append(lines, "- tercih: "+p)
	}
	if len(lines) == 0 {
		return ""
	}
	return capText("USER_PROFILE:\n"+strings.Join(lines, "\n"), profileCap)
}

func (b *Builder) longTermSection(isSmalltalk bool) string {
	if isSmalltalk || len(b.Profile.LongTerm) == 0 {
		return ""
	}
	bullets := b.Profile.LongTerm
	if len(bullets) > maxLongTermBullets {
		bullets = bullets[:maxLongTermBullets]
	}
	var lines []string
	for _, s := range bullets {
		lines = append(lines, "- "+s)
	}
	return capText("LONG_TERM_MEMORY:\n"+strings.Join(lines, "\n"), longTermCap)
}

func recentSection(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > 2 {
		history = history[len(history)-2:]
	}
	return "RECENT_CONVERSATION:\n" + renderTurns(history)
}

func renderTurns(turns []Turn) string {
	var lines []string
	for _, t := range turns {
		lines = append(lines, "U: "+t.User)
		lines = append(lines, "A: "+t.Assistant)
	}
	return strings.Join(lines, "\n")
}

func plannerSection(decision string) string {
	if decision == "" {
		return ""
	}
	return capText("PLANNER_DECISION:\n"+decision, plannerDecisionCap)
}

func toolResultsSection(results []tools.ToolResult) string {
	if len(results) == 0 {
		return ""
	}
	var lines []string
	for _, r := range results {
		status := "ok"
		// Previews are bounded by the section cap, not the short per-result
		// cap, so the ladder's tool-results trim still has something to cut.
		body := tools.SummarizeResult(r.Result, toolResultsCap)
		if r.Status != "ok" {
			status = "fail"
			body = r.Error
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", r.ToolName, status, body))
	}
	return "LAST_TOOL_RESULTS:\n" + strings.Join(lines, "\n")
}

func referenceSection(refs map[int]string) string {
	if len(refs) == 0 {
		return ""
	}
	nums := make([]int, 0, len(refs))
	for n := range refs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var lines []string
	for _, n := range nums {
		lines = append(lines, fmt.Sprintf("#%d: %s", n, refs[n]))
	}
	return "REFERENCE_TABLE:\n" + strings.Join(lines, "\n")
}

func userInputSection(input string) string {
	if input == "" {
		return ""
	}
	return "KULLANICI:\n" + input
}

// fitBudget applies the trim ladder until the joined sections fit the token
// budget. Date/time context goes last; the user input is the last resort.
func (b *Builder) fitBudget(sections []section, tracer Tracer) []section {
	budgetTokens := b.TokenBudget
	if budgetTokens <= 0 {
		budgetTokens = DefaultTokenBudget
	}

	steps := []func([]section) []section{
		func(s []section) []section { return trimSection(s, "last_tool_results", toolResultsTrim, tracer) },
		func(s []section) []section { return dropSection(s, "reference_table", tracer) },
		func(s []section) []section { return trimSection(s, "dialog_summary", dialogSummaryTrim, tracer) },
		func(s []section) []section { return trimSection(s, "planner_decision", plannerDecisionTrim, tracer) },
		func(s []section) []section { return trimSection(s, "personality", personalityTrim, tracer) },
		func(s []section) []section { return dropSection(s, "personality", tracer) },
		func(s []section) []section { return dropSection(s, "long_term_memory", tracer) },
		func(s []section) []section { return dropSection(s, "user_profile", tracer) },
		func(s []section) []section { return dropSection(s, "recent_conversation", tracer) },
		func(s []section) []section { return dropSection(s, "dialog_summary", tracer) },
		func(s []section) []section { return dropSection(s, "last_tool_results", tracer) },
		func(s []section) []section { return dropSection(s, "planner_decision", tracer) },
		func(s []section) []section { return dropSection(s, "session_context", tracer) },
		func(s []section) []section { return trimSection(s, "user_input", userInputTrim, tracer) },
	}
	for _, step := range steps {
		if sectionsTokens(sections) <= budgetTokens {
			return sections
		}
		sections = step(sections)
	}
	if over := sectionsTokens(sections); over > budgetTokens {
		b.Log.Warn().Int("tokens", over).Int("budget", budgetTokens).Msg("context still over budget after trim ladder")
	}
	return sections
}

func sectionsTokens(sections []section) int {
	total := 0
	for _, s := range sections {
		if s.text != "" {
			total += len(s.text) + 2
		}
	}
	return budget.EstimateTokensFromChars(total)
}

func trimSection(sections []section, name string, maxChars int, tracer Tracer) []section {
	for i, s := range sections {
		if s.name != name || s.text == "" {
			continue
		}
		before := len([]rune(s.text))
		if before <= maxChars {
			return sections
		}
		sections[i].text = tools.Truncate(s.text, maxChars)
		if tracer != nil {
			tracer.RecordTrim(name, before, len([]rune(sections[i].text)))
		}
		return sections
	}
	return sections
}

func dropSection(sections []section, name string, tracer Tracer) []section {
	for i, s := range sections {
		if s.name != name || s.text == "" {
			continue
		}
		if tracer != nil {
			tracer.RecordTrim(name, len([]rune(s.text)), 0)
		}
		sections[i].text = ""
		return sections
	}
	return sections
}

func capText(s string, maxChars int) string {
	if s == "" {
		return ""
	}
	return tools.Truncate(s, maxChars)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
