// Package hybrid composes the fast router with the optional quality
// finalizer: gate decides whether the finalizer runs, the grounding guard
// checks its reply, and every failure degrades to the router's own reply.
package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/codec"
	"github.com/bantz-ai/bantz/internal/gate"
	"github.com/bantz-ai/bantz/internal/guard"
	"github.com/bantz-ai/bantz/internal/llm"
	"github.com/bantz-ai/bantz/internal/obs"
	"github.com/bantz-ai/bantz/internal/router"
	"github.com/bantz-ai/bantz/internal/tools"
)

// finalizerSystemPrompt fixes the reply style. The strict grounding clause
// is prepended when tool results are present or after a guard violation.
const finalizerSystemPrompt = `Sen Bantz adlı kişisel asistansın. Kullanıcıya her zaman "efendim" diye hitap edersin. Kısa, net ve yalnızca Türkçe cevap verirsin. Verilen bağlamdaki bilgilerin dışına çıkmazsın; emin olmadığında "bilmiyorum efendim" dersin.`

const (
	defaultFinalizerDeadline = 2 * time.Second
	defaultFinalizerTemp     = 0.4
	finalizerMaxTokens       = 512
	toolResultsMaxChars      = 2000
)

// Orchestrator is the two-phase plan/finalize API consumed by the brain.
type Orchestrator struct {
	Router    *router.Router
	Finalizer *llm.Provider
	Gate      *gate.Policy
	Guard     *guard.Guard
	Metrics   *obs.MetricsLog
	Log       zerolog.Logger

	// GuardEnabled toggles the no-new-facts check on finalized replies.
	GuardEnabled bool
	// FallbackToRouter absorbs finalizer errors into the router reply
	// instead of propagating them. Default behavior for the daemon.
	FallbackToRouter bool
	// FinalizerDeadline and FinalizerTemperature override the defaults.
	FinalizerDeadline    time.Duration
	FinalizerTemperature float32
}

// NewOrchestrator wires the hybrid with defaults.
func NewOrchestrator(r *router.Router, finalizer *llm.Provider, g *gate.Policy, gd *guard.Guard, metrics *obs.MetricsLog, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Router:               r,
		Finalizer:            finalizer,
		Gate:                 g,
		Guard:                gd,
		Metrics:              metrics,
		Log:                  log.With().Str("stage", "hybrid").Logger(),
		GuardEnabled:         true,
		FallbackToRouter:     true,
		FinalizerDeadline:    defaultFinalizerDeadline,
		FinalizerTemperature: defaultFinalizerTemp,
	}
}

// Plan delegates to the router.
func (o *Orchestrator) Plan(ctx context.Context, userInput, enhancedContext string) codec.Output {
	return o.Router.Route(ctx, userInput, enhancedContext)
}

// Finalize rewrites the plan's reply through the quality tier when the gate
// allows it and the finalizer is reachable. The returned value is a new
// Output; plan is never mutated.
func (o *Orchestrator) Finalize(ctx context.Context, plan codec.Output, userInput, dialogSummary string, toolResults []tools.ToolResult) (codec.Output, error) {
	if o.Finalizer == nil || !o.Finalizer.IsAvailable(ctx) {
		o.Log.Debug().Msg("finalizer unavailable; keeping router reply")
		return annotate(plan, "router_fallback"), nil
	}

	decision := o.Gate.Decide(userInput, plan.ToolPlan, plan.RequiresConfirmation)
	switch decision.Outcome {
	case gate.UseFast:
		return annotate(plan, "fast"), nil
	case gate.Blocked:
		o.Log.Info().Str("reason", decision.Reason).Msg("quality tier blocked by rate limit")
		return annotate(plan, "blocked"), nil
	}

	out, err := o.finalizeQuality(ctx, plan, userInput, dialogSummary, toolResults, decision.Reason)
	if err != nil {
		o.Gate.Limiter.Release()
		if o.FallbackToRouter {
			o.Log.Warn().Err(err).Msg("finalizer failed; falling back to router reply")
			return annotate(plan, "router_fallback"), nil
		}
		return codec.Output{}, err
	}
	return out, nil
}

func (o *Orchestrator) finalizeQuality(ctx context.Context, plan codec.Output, userInput, dialogSummary string, toolResults []tools.ToolResult, reason string) (codec.Output, error) {
	digest := DigestToolResults(toolResults, toolResultsMaxChars)
	planJSON, _ := json.Marshal(plan)

	system := finalizerSystemPrompt
	if digest != "" {
		system = guard.StrictClause + "\n\n" + system
	}
	userMsg := buildFinalizerUser(userInput, dialogSummary, string(planJSON), digest)

	temp := o.FinalizerTemperature
	if temp <= 0 {
		temp = defaultFinalizerTemp
	}

	candidate, err := o.call(ctx, system, userMsg, temp, reason)
	if err != nil {
		return codec.Output{}, err
	}

	if o.GuardEnabled && len(toolResults) > 0 {
		res := o.Guard.Validate(userInput, string(planJSON), dialogSummary, digest, candidate)
		if !res.Passed {
			o.Log.Warn().Int("violations", len(res.Violations)).Msg("grounding guard violation; retrying strict")
			// The first attempt already carries the clause when tool results
			// exist; never stack it twice.
			strictSystem := system
			if !strings.HasPrefix(strictSystem, guard.StrictClause) {
				strictSystem = guard.StrictClause + "\n\n" + strictSystem
			}
			retryTemp := temp - 0.2
			if retryTemp < 0 {
				retryTemp = 0
			}
			retry, retryErr := o.call(ctx, strictSystem, userMsg, retryTemp, reason+"_strict_retry")
			if retryErr != nil {
				return annotate(plan, "guard_fallback"), nil
			}
			if res2 := o.Guard.Validate(userInput, string(planJSON), dialogSummary, digest, retry); !res2.Passed {
				o.Log.Warn().Int("violations", len(res2.Violations)).Msg("guard still failing; using router reply")
				return annotate(plan, "guard_fallback"), nil
			}
			candidate = retry
		}
	}

	out := plan
	out.AssistantReply = strings.TrimSpace(candidate)
	return annotate(out, "quality"), nil
}

func (o *Orchestrator) call(ctx context.Context, system, user string, temp float32, reason string) (string, error) {
	deadline := o.FinalizerDeadline
	if deadline <= 0 {
		deadline = defaultFinalizerDeadline
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	reply, err := o.Finalizer.ChatDetailed(callCtx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}, temp, finalizerMaxTokens)
	latency := time.Since(start).Milliseconds()

	if o.Metrics != nil {
		m := obs.Metric{
			Backend:          o.Finalizer.Backend,
			Model:            o.Finalizer.Model,
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.TotalTokens,
			LatencyMS:        latency,
			Success:          err == nil,
			Tier:             "quality",
			Reason:           reason,
		}
		if err != nil {
			m.ErrorType = "provider"
		}
		if recErr := o.Metrics.Record(m); recErr != nil {
			o.Log.Warn().Err(recErr).Msg("metrics row not written")
		}
	}
	if err != nil {
		return "", fmt.Errorf("finalizer call: %w", err)
	}
	return reply.Content, nil
}

func buildFinalizerUser(userInput, dialogSummary, planJSON, toolDigest string) string {
	var sb strings.Builder
	if dialogSummary != "" {
		sb.WriteString(dialogSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("PLANNER_DECISION:\n")
	sb.WriteString(planJSON)
	sb.WriteString("\n\n")
	if toolDigest != "" {
		sb.WriteString("TOOL_RESULTS:\n")
		sb.WriteString(toolDigest)
		sb.WriteString("\n\n")
	}
	sb.WriteString("KULLANICI:\n")
	sb.WriteString(userInput)
	sb.WriteString("\n\nKullanıcıya verilecek nihai cevabı yaz. Yalnızca cevabın kendisini yaz.")
	return sb.String()
}

// DigestToolResults renders tool results into a bounded plain-text digest
// for the finalizer prompt and the guard's source set.
func DigestToolResults(results []tools.ToolResult, maxChars int) string {
	if len(results) == 0 {
		return ""
	}
	var lines []string
	for _, r := range results {
		status := "ok"
		body := tools.SummarizeResult(r.Result, 500)
		if r.Status != "ok" {
			status = "fail"
			body = r.Error
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", r.ToolName, status, body))
	}
	return tools.Truncate(strings.Join(lines, "\n"), maxChars)
}

// annotate returns a copy of out with the finalizer type recorded in the
// debug payload.
func annotate(out codec.Output, finalizerType string) codec.Output {
	raw := make(map[string]any, len(out.RawOutput)+1)
	for k, v := range out.RawOutput {
		raw[k] = v
	}
	raw["finalizer_type"] = finalizerType
	out.RawOutput = raw
	return out
}
