package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/obs"
	"github.com/bantz-ai/bantz/internal/risk"
)

// Step is one validated tool invocation request.
type Step struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	// LLMRequestedConfirmation carries the planner's requires_confirmation
	// flag; destructive tools require confirmation regardless.
	LLMRequestedConfirmation bool `json:"llm_requested_confirmation,omitempty"`
}

// ExecutionResult is the executor's verdict on one step.
type ExecutionResult struct {
	OK                   bool           `json:"ok"`
	Data                 map[string]any `json:"data,omitempty"`
	Error                string         `json:"error,omitempty"`
	AwaitingConfirmation bool           `json:"awaiting_confirmation"`
	ConfirmationPrompt   string         `json:"confirmation_prompt,omitempty"`
	RiskLevel            risk.Level     `json:"risk_level"`
	Duplicate            bool           `json:"duplicate,omitempty"`
	RetryCount           int            `json:"retry_count,omitempty"`
	ElapsedMS            int64          `json:"elapsed_ms"`
}

// ToolResult is the per-turn record handed to the finalizer and kept on
// session state. Exactly one of Result / Error is populated.
type ToolResult struct {
	ToolName  string     `json:"tool_name"`
	Status    string     `json:"status"` // ok | error | skipped | awaiting_confirmation
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	ElapsedMS int64      `json:"elapsed_ms"`
	Confirmed bool       `json:"confirmed"`
	RiskLevel risk.Level `json:"risk_level"`
}

const resultSummaryMax = 500

// Executor dispatches steps with the confirmation firewall in front of the
// handler and the observability spine behind it.
type Executor struct {
	Registry *Registry
	Risks    *risk.Registry
	Bus      *obs.Bus
	Log      zerolog.Logger

	mu        sync.Mutex
	approvals map[string]struct{}
}

// NewExecutor wires an executor over a registry, risk table, and bus.
func NewExecutor(registry *Registry, risks *risk.Registry, bus *obs.Bus, log zerolog.Logger) *Executor {
	return &Executor{
		Registry:  registry,
		Risks:     risks,
		Bus:       bus,
		Log:       log.With().Str("stage", "tools").Logger(),
		approvals: make(map[string]struct{}),
	}
}

// ParamsFingerprint identifies a (tool, params) pair for approval matching
// and idempotency. When the tool declares FingerprintParams, only those keys
// participate; canonical JSON keeps the hash stable across map ordering.
func (e *Executor) ParamsFingerprint(step Step) string {
	params := step.Params
	if def, ok := e.Registry.Get(step.Action); ok && len(def.FingerprintParams) > 0 {
		subset := make(map[string]any, len(def.FingerprintParams))
		for _, k := range def.FingerprintParams {
			if v, ok := step.Params[k]; ok {
				subset[k] = v
			}
		}
		params = subset
	}
	b, err := json.Marshal(params)
	if err != nil {
		b = []byte("{}")
	}
	sum := sha256.Sum256(append([]byte(step.Action+"|"), b...))
	return hex.EncodeToString(sum[:])[:16]
}

// ConfirmAction records a one-shot approval for the step's (tool, params)
// pair. The next Execute of a matching step consumes it.
func (e *Executor) ConfirmAction(step Step) {
	key := step.Action + "|" + e.ParamsFingerprint(step)
	e.mu.Lock()
	e.approvals[key] = struct{}{}
	e.mu.Unlock()
}

func (e *Executor) consumeApproval(step Step) bool {
	key := step.Action + "|" + e.ParamsFingerprint(step)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.approvals[key]; ok {
		delete(e.approvals, key)
		return true
	}
	// A bare tool-name approval covers any params of that tool. Used when
	// the confirming turn cannot reproduce the original params.
	if _, ok := e.approvals[step.Action]; ok {
		delete(e.approvals, step.Action)
		return true
	}
	return false
}

// ConfirmTool records a one-shot approval matching any params of the tool.
func (e *Executor) ConfirmTool(name string) {
	e.mu.Lock()
	e.approvals[name] = struct{}{}
	e.mu.Unlock()
}

// Execute runs one step through the firewall and the handler. run may be nil
// when no observability span is open. skipConfirmation bypasses the firewall
// for already-confirmed re-dispatch.
func (e *Executor) Execute(ctx context.Context, run *obs.Run, step Step, runner Handler, skipConfirmation bool) ExecutionResult {
	level := e.Risks.Get(step.Action)
	required := e.Risks.RequiresConfirmation(step.Action, step.LLMRequestedConfirmation)
	confirmed := false
	if required && !skipConfirmation {
		confirmed = e.consumeApproval(step)
		if !confirmed {
			prompt := e.Risks.ConfirmationPrompt(step.Action, step.Params)
			res := ExecutionResult{
				AwaitingConfirmation: true,
				ConfirmationPrompt:   prompt,
				RiskLevel:            level,
			}
			e.endSpan(ctx, e.startSpan(run, step), "awaiting_confirmation", nil, prompt, "", 0, "pending")
			return res
		}
	} else if required {
		confirmed = true
	}

	// The span opens before the handler so its elapsed time covers the call.
	span := e.startSpan(run, step)
	start := time.Now()
	data, err := runner(ctx, step.Action, step.Params)
	elapsed := time.Since(start).Milliseconds()

	res := ExecutionResult{RiskLevel: level, ElapsedMS: elapsed}
	if err != nil {
		res.Error = err.Error()
		e.Log.Warn().Str("tool", step.Action).Err(err).Int64("elapsed_ms", elapsed).Msg("tool failed")
		e.publish(run, "tool.failed", map[string]any{
			"tool": step.Action, "error": res.Error, "elapsed_ms": elapsed,
		})
		e.endSpan(ctx, span, "error", nil, "", res.Error, 0, confirmation(confirmed))
		return res
	}

	res.OK = true
	res.Data = data
	if dup, ok := data["duplicate"].(bool); ok && dup {
		res.Duplicate = true
	}
	switch rc := data["retry_count"].(type) {
	case int:
		res.RetryCount = rc
	case float64:
		res.RetryCount = int(rc)
	}
	summary := SummarizeResult(data, resultSummaryMax)
	e.Log.Debug().Str("tool", step.Action).Int64("elapsed_ms", elapsed).Bool("duplicate", res.Duplicate).Msg("tool executed")
	e.publish(run, "tool.executed", map[string]any{
		"tool": step.Action, "elapsed_ms": elapsed, "duplicate": res.Duplicate,
	})
	e.endSpan(ctx, span, "success", data, summary, "", res.RetryCount, confirmation(confirmed))
	return res
}

func confirmation(confirmed bool) string {
	if confirmed {
		return "granted"
	}
	return ""
}

func (e *Executor) publish(run *obs.Run, eventType string, data map[string]any) {
	if e.Bus == nil {
		return
	}
	correlationID := ""
	if run != nil {
		correlationID = run.ID
	}
	e.Bus.Publish(eventType, data, "executor", correlationID)
}

func (e *Executor) startSpan(run *obs.Run, step Step) *obs.ToolSpan {
	if run == nil {
		return nil
	}
	return run.StartTool(step.Action, step.Params)
}

func (e *Executor) endSpan(ctx context.Context, span *obs.ToolSpan, status string, result any, summary, errMsg string, retryCount int, confirmation string) {
	if span == nil {
		return
	}
	if err := span.End(ctx, status, result, summary, errMsg, retryCount, confirmation); err != nil {
		e.Log.Warn().Err(err).Str("tool", span.Name).Msg("tool call row not recorded")
	}
}

// ToToolResult converts an execution result to the state-facing record.
func ToToolResult(step Step, res ExecutionResult) ToolResult {
	tr := ToolResult{
		ToolName:  step.Action,
		ElapsedMS: res.ElapsedMS,
		RiskLevel: res.RiskLevel,
	}
	switch {
	case res.AwaitingConfirmation:
		tr.Status = "awaiting_confirmation"
	case res.OK:
		tr.Status = "ok"
		tr.Result = res.Data
		tr.Confirmed = true
	default:
		tr.Status = "error"
		tr.Error = res.Error
	}
	return tr
}
