package router

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/llm"
	"github.com/bantz-ai/bantz/internal/obs"
)

type stubClient struct {
	content string
	err     error
	calls   int
	lastReq openai.ChatCompletionRequest
}

func (s *stubClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: s.content}},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func newTestRouter(t *testing.T, client *stubClient) (*Router, string) {
	t.Helper()
	metricsPath := filepath.Join(t.TempDir(), "metrics.jsonl")
	provider := &llm.Provider{Client: client, Model: "qwen2.5-3b-instruct", Backend: "vllm"}
	r := NewRouter(provider, obs.NewMetricsLog(metricsPath, true), zerolog.Nop())
	return r, metricsPath
}

const validPlan = `{
  "route": "calendar",
  "calendar_intent": "create",
  "slots": {"title": "Toplantı", "start": "2026-02-03T15:00:00+03:00"},
  "confidence": 0.92,
  "tool_plan": ["calendar.create_event"],
  "assistant_reply": "Toplantıyı ekliyorum efendim.",
  "ask_user": false,
  "question": "",
  "requires_confirmation": false,
  "confirmation_prompt": "",
  "memory_update": {},
  "reasoning_summary": []
}`

func TestRouteValidOutput(t *testing.T) {
	client := &stubClient{content: validPlan}
	r, metricsPath := newTestRouter(t, client)

	out := r.Route(context.Background(), "yarın 15:00'e toplantı ekle", "")
	if out.Route != "calendar" || out.CalendarIntent != "create" {
		t.Errorf("output = %+v", out)
	}
	if len(out.ToolPlan) != 1 || out.ToolPlan[0] != "calendar.create_event" {
		t.Errorf("tool plan = %v", out.ToolPlan)
	}
	if client.lastReq.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", client.lastReq.Temperature)
	}

	entries, err := obs.Load(metricsPath)
	if err != nil || len(entries) != 1 {
		t.Fatalf("metrics = %v, err %v", entries, err)
	}
	m := entries[0]
	if !m.Success || m.Tier != "fast" || m.Backend != "vllm" || m.TotalTokens != 30 {
		t.Errorf("metric row = %+v", m)
	}
}

func TestRouteSendsEnhancedContext(t *testing.T) {
	client := &stubClient{content: validPlan}
	r, _ := newTestRouter(t, client)

	r.Route(context.Background(), "toplantı ekle", "SESSION_CONTEXT:\n...\n\nKULLANICI:\ntoplantı ekle")
	user := client.lastReq.Messages[len(client.lastReq.Messages)-1]
	if !strings.Contains(user.Content, "SESSION_CONTEXT:") {
		t.Errorf("enhanced context not sent: %q", user.Content)
	}
}

func TestRouteRepairsSloppyOutput(t *testing.T) {
	// Fenced JSON with Turkish enum prose: the deterministic repair path must
	// still produce a valid decision.
	client := &stubClient{content: "```json\n" + `{
  "route": "takvim",
  "calendar_intent": "oluştur",
  "confidence": "yüksek",
  "tool_plan": "create_event",
  "assistant_reply": "Ekliyorum efendim."
}` + "\n```"}
	r, _ := newTestRouter(t, client)

	out := r.Route(context.Background(), "toplantı ekle", "")
	if out.Route != "calendar" || out.CalendarIntent != "create" {
		t.Errorf("repaired output = %+v", out)
	}
	if out.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 for prose value", out.Confidence)
	}
}

func TestRouteUnrepairableFallsBack(t *testing.T) {
	client := &stubClient{content: "buraya JSON gelmedi, sadece serbest metin"}
	r, metricsPath := newTestRouter(t, client)

	out := r.Route(context.Background(), "toplantı ekle", "")
	if out.Route != "unknown" {
		t.Errorf("route = %q, want unknown fallback", out.Route)
	}
	if !strings.Contains(out.AssistantReply, "efendim") {
		t.Errorf("fallback reply = %q", out.AssistantReply)
	}

	entries, _ := obs.Load(metricsPath)
	if len(entries) != 1 || entries[0].Success || entries[0].ErrorType != "schema" {
		t.Errorf("metrics = %+v", entries)
	}
}

func TestRouteProviderErrorFallsBack(t *testing.T) {
	client := &stubClient{err: context.DeadlineExceeded}
	r, metricsPath := newTestRouter(t, client)

	out := r.Route(context.Background(), "toplantı ekle", "")
	if out.Route != "unknown" || out.AssistantReply == "" {
		t.Errorf("output = %+v", out)
	}

	entries, _ := obs.Load(metricsPath)
	if len(entries) != 1 || entries[0].ErrorType != "timeout" {
		t.Errorf("metrics = %+v", entries)
	}
}

func TestRouteHonorsDeadline(t *testing.T) {
	slow := &slowClient{delay: 200 * time.Millisecond, content: validPlan}
	provider := &llm.Provider{Client: slow, Model: "m", Backend: "vllm"}
	r := NewRouter(provider, nil, zerolog.Nop())
	r.Deadline = 20 * time.Millisecond

	start := time.Now()
	out := r.Route(context.Background(), "toplantı ekle", "")
	if out.Route != "unknown" {
		t.Errorf("route = %q, want fallback on deadline", out.Route)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("deadline not enforced")
	}
}

type slowClient struct {
	delay   time.Duration
	content string
}

func (s *slowClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	select {
	case <-ctx.Done():
		return openai.ChatCompletionResponse{}, ctx.Err()
	case <-time.After(s.delay):
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}
