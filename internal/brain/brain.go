// Package brain is the turn runtime: process one user utterance through
// context assembly, routing, the confirmation firewall, tool dispatch, and
// finalization, persisting the trail as it goes.
package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/codec"
	"github.com/bantz-ai/bantz/internal/compose"
	"github.com/bantz-ai/bantz/internal/hybrid"
	"github.com/bantz-ai/bantz/internal/memory"
	"github.com/bantz-ai/bantz/internal/obs"
	"github.com/bantz-ai/bantz/internal/risk"
	"github.com/bantz-ai/bantz/internal/tools"
)

// PendingAction is a firewalled tool call waiting for the user's decision.
// Completed holds the results of plan steps that ran before the firewall
// stopped the turn, so a confirmed re-dispatch finalizes over all of them.
type PendingAction struct {
	Tool        string
	Slots       map[string]any
	Prompt      string
	RiskLevel   risk.Level
	Fingerprint string
	Completed   []tools.ToolResult
}

// State is the per-session mutable context. Turns within a session are
// serialized, so no internal locking; sessions never share a State.
type State struct {
	SessionID            string
	PendingConfirmations []PendingAction
	ConfirmedTool        string
	LastToolResults      []tools.ToolResult
	ReferenceTable       map[int]string
	History              []compose.Turn
	Trace                map[string]any
}

// NewState creates session state bound to a session id.
func NewState(sessionID string) *State {
	return &State{SessionID: sessionID, Trace: map[string]any{}}
}

const maxHistoryTurns = 4

// Brain wires every stage of the turn pipeline.
type Brain struct {
	Memory   *memory.Manager
	Compose  *compose.Builder
	Hybrid   *hybrid.Orchestrator
	Executor *tools.Executor
	Registry *tools.Registry
	Tracker  *obs.RunTracker
	Bus      *obs.Bus
	Log      zerolog.Logger
}

// New assembles a brain.
func New(mem *memory.Manager, builder *compose.Builder, orch *hybrid.Orchestrator, exec *tools.Executor, reg *tools.Registry, tracker *obs.RunTracker, bus *obs.Bus, log zerolog.Logger) *Brain {
	return &Brain{
		Memory:   mem,
		Compose:  builder,
		Hybrid:   orch,
		Executor: exec,
		Registry: reg,
		Tracker:  tracker,
		Bus:      bus,
		Log:      log.With().Str("stage", "brain").Logger(),
	}
}

// ProcessTurn runs one full turn and returns the decision plus the updated
// state. The state value passed in is mutated and returned.
func (b *Brain) ProcessTurn(ctx context.Context, userInput string, state *State) (codec.Output, *State) {
	run := b.startRun(ctx, state, userInput)

	// Pending confirmation resolves before any routing.
	if len(state.PendingConfirmations) > 0 {
		if out, handled := b.resolvePending(ctx, run, userInput, state); handled {
			return out, state
		}
	}

	composed := b.Compose.Build(compose.Input{
		UserInput:      userInput,
		DialogSummary:  b.Memory.PromptBlock(),
		History:        state.History,
		ToolResults:    state.LastToolResults,
		ReferenceTable: state.ReferenceTable,
	})

	plan := b.Hybrid.Plan(ctx, userInput, composed.EnhancedSummary)
	return b.executeAndFinalize(ctx, run, plan, userInput, composed.DialogSummary, state, false, nil), state
}

// resolvePending classifies the utterance against the pending confirmation
// and always handles it: affirmative re-dispatches the stored plan through
// executeAndFinalize, negative cancels, anything else re-prompts.
func (b *Brain) resolvePending(ctx context.Context, run *obs.Run, userInput string, state *State) (codec.Output, bool) {
	pending := state.PendingConfirmations[0]
	switch risk.Classify(userInput) {
	case risk.Affirmative:
		state.PendingConfirmations = state.PendingConfirmations[1:]
		state.ConfirmedTool = pending.Tool
		step := tools.Step{Action: pending.Tool, Params: pending.Slots}
		b.Executor.ConfirmAction(step)
		plan := codec.Output{
			Route:          routeForTool(pending.Tool),
			CalendarIntent: "none",
			Slots:          pending.Slots,
			Confidence:     1.0,
			ToolPlan:       []string{pending.Tool},
			AssistantReply: "Tamamdır efendim, hemen yapıyorum.",
		}
		out := b.executeAndFinalize(ctx, run, plan, userInput, b.Memory.PromptBlock(), state, true, pending.Completed)
		return out, true
	case risk.Negative:
		state.PendingConfirmations = nil
		state.ConfirmedTool = ""
		out := codec.Output{
			Route:          "cancelled",
			CalendarIntent: "none",
			Confidence:     1.0,
			AssistantReply: "Anlaşıldı efendim, işlemi iptal ettim.",
		}
		b.recordTurn(ctx, userInput, "onay reddedildi: "+pending.Tool, nil)
		b.endRun(ctx, run, "success", out, 0, "")
		return out, true
	default:
		out := codec.Output{
			Route:                routeForTool(pending.Tool),
			CalendarIntent:       "none",
			Confidence:           1.0,
			RequiresConfirmation: true,
			ConfirmationPrompt:   pending.Prompt,
			AssistantReply:       pending.Prompt,
		}
		b.recordTurn(ctx, userInput, "onay bekleniyor: "+pending.Tool, []string{pending.Prompt})
		b.endRun(ctx, run, "partial", out, 0, "")
		return out, true
	}
}

// executeAndFinalize is steps 5-9 of a turn: tool loop, finalization,
// summary persistence, run close, state update. prior carries results from
// steps that ran before a confirmation stop on an earlier turn.
func (b *Brain) executeAndFinalize(ctx context.Context, run *obs.Run, plan codec.Output, userInput, dialogSummary string, state *State, confirmed bool, prior []tools.ToolResult) codec.Output {
	runner := b.Registry.Runner()
	results := prior

	for _, name := range plan.ToolPlan {
		step := tools.Step{
			Action:                   name,
			Params:                   plan.Slots,
			LLMRequestedConfirmation: plan.RequiresConfirmation,
		}
		res := b.Executor.Execute(ctx, run, step, runner, confirmed)
		if res.AwaitingConfirmation {
			state.PendingConfirmations = append(state.PendingConfirmations, PendingAction{
				Tool:        name,
				Slots:       plan.Slots,
				Prompt:      res.ConfirmationPrompt,
				RiskLevel:   res.RiskLevel,
				Fingerprint: b.Executor.ParamsFingerprint(step),
				Completed:   results,
			})
			out := plan
			out.RequiresConfirmation = true
			out.ConfirmationPrompt = res.ConfirmationPrompt
			out.AssistantReply = res.ConfirmationPrompt
			b.recordTurn(ctx, userInput, "onay bekleniyor: "+name, []string{res.ConfirmationPrompt})
			b.endRun(ctx, run, "partial", out, 0, "")
			return out
		}
		results = append(results, tools.ToToolResult(step, res))
	}

	final, err := b.Hybrid.Finalize(ctx, plan, userInput, dialogSummary, results)
	if err != nil {
		// Only reachable when fallback is disabled; surface the apology.
		b.Log.Error().Err(err).Msg("finalize failed")
		final = codec.Fallback("Üzgünüm efendim, cevabı hazırlarken bir sorun oluştu.")
	}

	state.ConfirmedTool = ""
	state.LastToolResults = results
	state.ReferenceTable = compose.ExtractReferences(results)
	state.History = append(state.History, compose.Turn{User: userInput, Assistant: final.AssistantReply})
	if len(state.History) > maxHistoryTurns {
		state.History = state.History[len(state.History)-maxHistoryTurns:]
	}

	status := runStatus(results, err)
	b.recordTurn(ctx, userInput, actionTaken(final, results), nil)
	b.endRun(ctx, run, status, final, 0, errString(err))
	return final
}

func (b *Brain) startRun(ctx context.Context, state *State, userInput string) *obs.Run {
	if b.Tracker == nil {
		return nil
	}
	run, err := b.Tracker.StartRun(ctx, state.SessionID, userInput)
	if err != nil {
		b.Log.Warn().Err(err).Msg("run span not opened")
		return nil
	}
	if b.Bus != nil {
		b.Bus.Publish("run.started", map[string]any{"session_id": state.SessionID}, "brain", run.ID)
	}
	return run
}

func (b *Brain) endRun(ctx context.Context, run *obs.Run, status string, out codec.Output, totalTokens int, errMsg string) {
	if run == nil {
		return
	}
	if err := run.End(ctx, status, out.Route, out.AssistantReply, "", totalTokens, errMsg); err != nil {
		b.Log.Warn().Err(err).Msg("run span not closed")
	}
	if b.Bus != nil {
		b.Bus.Publish("run.finished", map[string]any{"status": status, "route": out.Route}, "brain", run.ID)
	}
}

// recordTurn persists the compact summary; persistence failures never abort
// the turn.
func (b *Brain) recordTurn(ctx context.Context, userInput, action string, pendingItems []string) {
	if b.Memory != nil {
		b.Memory.AddTurn(ctx, userInput, action, pendingItems)
	}
}

func runStatus(results []tools.ToolResult, finalizeErr error) string {
	if finalizeErr != nil {
		return "error"
	}
	failed := 0
	for _, r := range results {
		if r.Status == "error" {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "success"
	case failed < len(results):
		return "partial"
	default:
		return "error"
	}
}

func actionTaken(out codec.Output, results []tools.ToolResult) string {
	parts := []string{"route=" + out.Route}
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s:%s", r.ToolName, r.Status))
	}
	return strings.Join(parts, ", ")
}

func routeForTool(tool string) string {
	switch {
	case strings.HasPrefix(tool, "calendar."):
		return "calendar"
	case strings.HasPrefix(tool, "gmail."):
		return "gmail"
	case strings.HasPrefix(tool, "system."):
		return "system"
	default:
		return "unknown"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
