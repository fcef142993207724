package gate

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/budget"
)

// Mode selects how the gate treats the quality tier.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

// Outcome is the gate's verdict for one turn.
type Outcome string

const (
	UseFast    Outcome = "USE_FAST"
	UseQuality Outcome = "USE_QUALITY"
	// Blocked is only reported under force patterns and always mode; auto
	// mode degrades to fast instead, preserving availability.
	Blocked Outcome = "BLOCKED"
)

// Decision carries the verdict, its reason, and the computed score.
type Decision struct {
	Outcome Outcome
	Reason  string
	Score   float64
	Factors budget.TextScores
}

// Default thresholds and weights.
const (
	DefaultQualityThreshold = 2.5
	DefaultFastMaxThreshold = 1.5
	DefaultMinComplexity    = 4.0
	DefaultMinWriting       = 4.0

	weightComplexity = 0.35
	weightWriting    = 0.45
	weightRisk       = 0.20
)

// Policy evaluates the decision ladder. Construct via NewPolicy so the
// defaults and limiter are in place.
type Policy struct {
	Mode             Mode
	QualityThreshold float64
	FastMaxThreshold float64
	MinComplexity    float64
	MinWriting       float64
	// BypassPatterns and ForcePatterns are normalized substrings matched
	// against the normalized utterance.
	BypassPatterns []string
	ForcePatterns  []string
	Limiter        *Limiter
	Log            zerolog.Logger
}

// NewPolicy builds a policy with spec'd defaults and the given limiter.
func NewPolicy(mode Mode, limiter *Limiter, log zerolog.Logger) *Policy {
	if mode == "" {
		mode = ModeAuto
	}
	if limiter == nil {
		limiter = NewLimiter(0, 0)
	}
	return &Policy{
		Mode:             mode,
		QualityThreshold: DefaultQualityThreshold,
		FastMaxThreshold: DefaultFastMaxThreshold,
		MinComplexity:    DefaultMinComplexity,
		MinWriting:       DefaultMinWriting,
		Limiter:          limiter,
		Log:              log.With().Str("stage", "gate").Logger(),
	}
}

// SetPatterns installs bypass and force patterns from comma-separated lists.
func (p *Policy) SetPatterns(bypassCSV, forceCSV string) {
	p.BypassPatterns = splitPatterns(bypassCSV)
	p.ForcePatterns = splitPatterns(forceCSV)
}

func splitPatterns(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = budget.NormalizeTurkish(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Decide evaluates the ladder in order; the first matching rule wins.
func (p *Policy) Decide(text string, toolPlan []string, requiresConfirmation bool) Decision {
	factors := budget.ScoreText(text, toolPlan, requiresConfirmation)
	total := weightComplexity*factors.Complexity + weightWriting*factors.Writing + weightRisk*factors.Risk
	d := Decision{Score: total, Factors: factors}
	normalized := budget.NormalizeTurkish(text)

	switch {
	case matchAny(normalized, p.BypassPatterns):
		d.Outcome, d.Reason = UseFast, "bypass_pattern_match"
	case matchAny(normalized, p.ForcePatterns):
		if p.Limiter.Acquire() {
			d.Outcome, d.Reason = UseQuality, "forced_quality"
		} else {
			d.Outcome, d.Reason = Blocked, "blocked"
		}
	case p.Mode == ModeNever:
		d.Outcome, d.Reason = UseFast, "mode_never"
	case p.Mode == ModeAlways:
		if p.Limiter.Acquire() {
			d.Outcome, d.Reason = UseQuality, "mode_always"
		} else {
			d.Outcome, d.Reason = Blocked, "blocked"
		}
	case total <= p.FastMaxThreshold:
		d.Outcome, d.Reason = UseFast, "below_fast_threshold"
	case total >= p.QualityThreshold:
		d.Outcome, d.Reason = p.acquireOrFast("score_above_quality_threshold")
	case factors.Complexity >= p.MinComplexity || factors.Writing >= p.MinWriting:
		d.Outcome, d.Reason = p.acquireOrFast("component_threshold_exceeded")
	default:
		d.Outcome, d.Reason = UseFast, "default_fast"
	}

	p.Log.Debug().
		Str("outcome", string(d.Outcome)).
		Str("reason", d.Reason).
		Float64("score", total).
		Msg("gate decision")
	return d
}

// acquireOrFast is the auto-mode degradation: a full window never blocks the
// turn, it just keeps it on the fast tier.
func (p *Policy) acquireOrFast(reason string) (Outcome, string) {
	if p.Limiter.Acquire() {
		return UseQuality, reason
	}
	return UseFast, "quality_rate_limited_fallback"
}

func matchAny(normalized string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.Contains(normalized, pat) {
			return true
		}
	}
	return false
}
