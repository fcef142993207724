// Package codec turns free-form LLM text into a validated orchestrator
// decision, or a structured failure. Parsing is deterministic whenever the
// model output contains any syntactically valid JSON object, possibly
// wrapped in prose and code fences; an optional LLM-based repair pass covers
// the remainder.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Routes and calendar intents accepted after repair.
var (
	ValidRoutes  = []string{"calendar", "gmail", "smalltalk", "system", "unknown"}
	ValidIntents = []string{"create", "modify", "cancel", "query", "none"}
)

// Output is the structured decision shared by the router and finalizer
// tiers. Values are never mutated after validation; a finalized variant is a
// new value.
type Output struct {
	Route                string         `json:"route"`
	CalendarIntent       string         `json:"calendar_intent"`
	Slots                map[string]any `json:"slots"`
	Confidence           float64        `json:"confidence"`
	ToolPlan             []string       `json:"tool_plan"`
	AssistantReply       string         `json:"assistant_reply"`
	AskUser              bool           `json:"ask_user"`
	Question             string         `json:"question"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	ConfirmationPrompt   string         `json:"confirmation_prompt"`
	MemoryUpdate         map[string]any `json:"memory_update"`
	ReasoningSummary     []string       `json:"reasoning_summary"`
	RawOutput            map[string]any `json:"raw_output,omitempty"`
}

// Sentinel extraction errors. Callers branch on these to decide between the
// deterministic repair path and the unknown-route fallback.
var (
	ErrEmptyOutput    = errors.New("empty output")
	ErrNoJSONObject   = errors.New("no json object")
	ErrUnbalancedJSON = errors.New("unbalanced json")
	ErrJSONDecode     = errors.New("json decode error")
)

// SchemaError reports strict-schema validation failures.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "schema error: " + strings.Join(e.Problems, "; ")
}

// ExtractFirstJSONObject isolates and decodes the first balanced JSON object
// in text. Fenced code blocks are stripped first, then a depth counter scans
// from the first '{', tracking string literals with escape awareness.
func ExtractFirstJSONObject(text string) (map[string]any, error) {
	text = stripCodeFences(strings.TrimSpace(text))
	if text == "" {
		return nil, ErrEmptyOutput
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, ErrNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	end := -1
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil, ErrUnbalancedJSON
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONDecode, err)
	}
	return out, nil
}

// stripCodeFences removes Markdown fence lines (``` and ```json) so the
// scanner sees only the payload.
func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ValidateAndRepair runs extract → validate, retrying validation once after
// deterministic repair. The returned flags name every repair applied.
func ValidateAndRepair(rawText string) (Output, []string, error) {
	m, err := ExtractFirstJSONObject(rawText)
	if err != nil {
		return Output{}, nil, err
	}
	if out, err := Validate(m); err == nil {
		return out, nil, nil
	}
	repaired, flags := RepairEnums(m)
	out, err := Validate(repaired)
	if err != nil {
		return Output{}, flags, err
	}
	return out, flags, nil
}

var allowedFields = map[string]bool{
	"route": true, "calendar_intent": true, "slots": true, "confidence": true,
	"tool_plan": true, "assistant_reply": true, "ask_user": true,
	"question": true, "requires_confirmation": true, "confirmation_prompt": true,
	"memory_update": true, "reasoning_summary": true, "raw_output": true,
}

// Validate checks a decoded object against the strict schema and builds the
// immutable Output. Unknown fields are rejected; enum fields must already
// hold allowed values (run RepairEnums first for lenient input).
func Validate(m map[string]any) (Output, error) {
	var problems []string
	for k := range m {
		if !allowedFields[k] {
			problems = append(problems, fmt.Sprintf("unknown field %q", k))
		}
	}

	out := Output{
		Route:          asString(m["route"]),
		CalendarIntent: asString(m["calendar_intent"]),
		AssistantReply: asString(m["assistant_reply"]),
		Question:       asString(m["question"]),
	}
	if !contains(ValidRoutes, out.Route) {
		problems = append(problems, fmt.Sprintf("invalid route %q", out.Route))
	}
	if !contains(ValidIntents, out.CalendarIntent) {
		problems = append(problems, fmt.Sprintf("invalid calendar_intent %q", out.CalendarIntent))
	}

	switch v := m["confidence"].(type) {
	case float64:
		out.Confidence = v
	case nil:
		problems = append(problems, "missing confidence")
	default:
		problems = append(problems, fmt.Sprintf("confidence has type %T", v))
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		problems = append(problems, fmt.Sprintf("confidence %v out of range", out.Confidence))
	}

	switch v := m["tool_plan"].(type) {
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				problems = append(problems, "tool_plan contains a non-string entry")
				continue
			}
			out.ToolPlan = append(out.ToolPlan, s)
		}
	case nil:
		out.ToolPlan = []string{}
	default:
		problems = append(problems, fmt.Sprintf("tool_plan has type %T", v))
	}

	if b, ok := m["ask_user"].(bool); ok {
		out.AskUser = b
	}
	if b, ok := m["requires_confirmation"].(bool); ok {
		out.RequiresConfirmation = b
	}
	out.ConfirmationPrompt = asString(m["confirmation_prompt"])
	if out.RequiresConfirmation && strings.TrimSpace(out.ConfirmationPrompt) == "" {
		problems = append(problems, "requires_confirmation without confirmation_prompt")
	}
	if out.AskUser && strings.TrimSpace(out.Question) == "" {
		problems = append(problems, "ask_user without question")
	}

	if slots, ok := m["slots"].(map[string]any); ok {
		out.Slots = slots
	} else {
		out.Slots = map[string]any{}
	}
	if mu, ok := m["memory_update"].(map[string]any); ok {
		out.MemoryUpdate = mu
	} else {
		out.MemoryUpdate = map[string]any{}
	}

	switch v := m["reasoning_summary"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out.ReasoningSummary = append(out.ReasoningSummary, s)
			}
		}
	case string:
		for _, line := range strings.Split(v, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				out.ReasoningSummary = append(out.ReasoningSummary, s)
			}
		}
	}
	if out.ReasoningSummary == nil {
		out.ReasoningSummary = []string{}
	}

	if raw, ok := m["raw_output"].(map[string]any); ok {
		out.RawOutput = raw
	}

	if len(problems) > 0 {
		return Output{}, &SchemaError{Problems: problems}
	}
	return out, nil
}

// Fallback builds the unknown-route apology output used whenever parsing or
// the router call fails beyond repair.
func Fallback(reply string) Output {
	if strings.TrimSpace(reply) == "" {
		reply = "Üzgünüm efendim, bir sorun oluştu. Tekrar deneyebilir misiniz?"
	}
	return Output{
		Route:            "unknown",
		CalendarIntent:   "none",
		Slots:            map[string]any{},
		Confidence:       0.0,
		ToolPlan:         []string{},
		AssistantReply:   reply,
		MemoryUpdate:     map[string]any{},
		ReasoningSummary: []string{},
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
