package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/obs"
	"github.com/bantz-ai/bantz/internal/risk"
)

func newTestExecutor(t *testing.T) (*Executor, *Registry, *countingHandlers) {
	t.Helper()
	risks := risk.NewRegistry()
	registry := NewRegistry(risks)
	handlers := &countingHandlers{}

	mustRegister(t, registry, Definition{
		Name:    "calendar.delete_event",
		Risk:    risk.Destructive,
		Handler: handlers.handler("calendar.delete_event", map[string]any{"ok": true}, nil),
	})
	mustRegister(t, registry, Definition{
		Name:    "calendar.query",
		Risk:    risk.Safe,
		Handler: handlers.handler("calendar.query", map[string]any{"events": []any{}}, nil),
	})
	mustRegister(t, registry, Definition{
		Name:    "calendar.create_event",
		Risk:    risk.Moderate,
		Handler: handlers.handler("calendar.create_event", map[string]any{"ok": true, "duplicate": true}, nil),
	})
	mustRegister(t, registry, Definition{
		Name:    "gmail.draft",
		Risk:    risk.Moderate,
		Handler: handlers.handler("gmail.draft", nil, errors.New("taslak oluşturulamadı")),
	})

	return NewExecutor(registry, risks, obs.NewBus(16), zerolog.Nop()), registry, handlers
}

type countingHandlers struct {
	calls map[string]int
}

func (c *countingHandlers) handler(name string, result map[string]any, err error) Handler {
	return func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		if c.calls == nil {
			c.calls = map[string]int{}
		}
		c.calls[name]++
		return result, err
	}
}

func mustRegister(t *testing.T, r *Registry, def Definition) {
	t.Helper()
	if err := r.Register(def); err != nil {
		t.Fatalf("register %s: %v", def.Name, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(risk.NewRegistry())
	noop := func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		return nil, nil
	}
	cases := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"dotted name", Definition{Name: "calendar.create_event", Handler: noop}, true},
		{"snake name", Definition{Name: "system_status", Handler: noop}, true},
		{"uppercase", Definition{Name: "Calendar.Create", Handler: noop}, false},
		{"empty name", Definition{Handler: noop}, false},
		{"nil handler", Definition{Name: "calendar.query"}, false},
		{"bad schema", Definition{Name: "x.y", Handler: noop, JSONSchema: []byte("{not json")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Register(tc.def)
			if (err == nil) != tc.ok {
				t.Errorf("Register(%s) err = %v, want ok=%v", tc.def.Name, err, tc.ok)
			}
		})
	}
}

func TestRunnerUnknownTool(t *testing.T) {
	r := NewRegistry(risk.NewRegistry())
	_, err := r.Runner()(context.Background(), "made.up", nil)
	if err == nil || !strings.Contains(err.Error(), "bilinmeyen araç") {
		t.Errorf("unknown tool error = %v", err)
	}
}

func TestDestructiveBlockedUntilConfirmed(t *testing.T) {
	exec, registry, handlers := newTestExecutor(t)
	ctx := context.Background()
	step := Step{Action: "calendar.delete_event", Params: map[string]any{"event_id": "evt-1"}}

	res := exec.Execute(ctx, nil, step, registry.Runner(), false)
	if !res.AwaitingConfirmation {
		t.Fatalf("destructive step ran without confirmation: %+v", res)
	}
	if res.ConfirmationPrompt == "" || res.RiskLevel != risk.Destructive {
		t.Errorf("blocked result = %+v", res)
	}
	if handlers.calls["calendar.delete_event"] != 0 {
		t.Fatal("handler ran before confirmation")
	}

	exec.ConfirmAction(step)
	res = exec.Execute(ctx, nil, step, registry.Runner(), false)
	if !res.OK {
		t.Fatalf("confirmed step failed: %+v", res)
	}
	if handlers.calls["calendar.delete_event"] != 1 {
		t.Errorf("handler calls = %d, want 1", handlers.calls["calendar.delete_event"])
	}

	// Approvals are one-shot: the same step blocks again.
	res = exec.Execute(ctx, nil, step, registry.Runner(), false)
	if !res.AwaitingConfirmation {
		t.Error("approval was not consumed")
	}
}

func TestApprovalBoundToParams(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	ctx := context.Background()

	exec.ConfirmAction(Step{Action: "calendar.delete_event", Params: map[string]any{"event_id": "evt-1"}})
	other := Step{Action: "calendar.delete_event", Params: map[string]any{"event_id": "evt-2"}}
	if res := exec.Execute(ctx, nil, other, registry.Runner(), false); !res.AwaitingConfirmation {
		t.Error("approval for evt-1 covered evt-2")
	}

	// A bare tool approval covers any params.
	exec.ConfirmTool("calendar.delete_event")
	if res := exec.Execute(ctx, nil, other, registry.Runner(), false); !res.OK {
		t.Errorf("bare tool approval not honored: %+v", res)
	}
}

func TestModerateDefersToPlannerFlag(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	ctx := context.Background()

	step := Step{Action: "calendar.create_event", Params: map[string]any{"title": "Toplantı"}}
	if res := exec.Execute(ctx, nil, step, registry.Runner(), false); !res.OK {
		t.Errorf("moderate step without planner flag blocked: %+v", res)
	}

	step.LLMRequestedConfirmation = true
	if res := exec.Execute(ctx, nil, step, registry.Runner(), false); !res.AwaitingConfirmation {
		t.Error("planner-flagged moderate step ran unconfirmed")
	}
}

func TestSkipConfirmationBypassesFirewall(t *testing.T) {
	exec, registry, handlers := newTestExecutor(t)
	step := Step{Action: "calendar.delete_event", Params: map[string]any{"event_id": "evt-1"}}
	if res := exec.Execute(context.Background(), nil, step, registry.Runner(), true); !res.OK {
		t.Errorf("skipConfirmation result = %+v", res)
	}
	if handlers.calls["calendar.delete_event"] != 1 {
		t.Error("handler did not run")
	}
}

func TestExecuteErrorAndEvents(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	var events []obs.Event
	exec.Bus.Subscribe("tool.*", func(ev obs.Event) { events = append(events, ev) })

	res := exec.Execute(context.Background(), nil, Step{Action: "gmail.draft"}, registry.Runner(), false)
	if res.OK || !strings.Contains(res.Error, "taslak") {
		t.Errorf("error result = %+v", res)
	}
	if len(events) != 1 || events[0].Type != "tool.failed" {
		t.Fatalf("events = %+v", events)
	}

	tr := ToToolResult(Step{Action: "gmail.draft"}, res)
	if tr.Status != "error" || tr.Error == "" || tr.Confirmed {
		t.Errorf("tool result = %+v", tr)
	}
}

func TestDuplicateFlagSurfaced(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	step := Step{Action: "calendar.create_event", Params: map[string]any{"title": "Toplantı"}}
	res := exec.Execute(context.Background(), nil, step, registry.Runner(), false)
	if !res.OK || !res.Duplicate {
		t.Errorf("result = %+v, want duplicate surfaced", res)
	}
}

func TestParamsFingerprintSubset(t *testing.T) {
	risks := risk.NewRegistry()
	registry := NewRegistry(risks)
	noop := func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		return nil, nil
	}
	mustRegister(t, registry, Definition{
		Name:              "calendar.create_event",
		Handler:           noop,
		FingerprintParams: []string{"title", "start"},
	})
	exec := NewExecutor(registry, risks, nil, zerolog.Nop())

	a := exec.ParamsFingerprint(Step{Action: "calendar.create_event", Params: map[string]any{
		"title": "Toplantı", "start": "15:00", "description": "uzun açıklama",
	}})
	b := exec.ParamsFingerprint(Step{Action: "calendar.create_event", Params: map[string]any{
		"title": "Toplantı", "start": "15:00", "description": "bambaşka",
	}})
	if a != b {
		t.Error("non-fingerprint param changed the fingerprint")
	}
	c := exec.ParamsFingerprint(Step{Action: "calendar.create_event", Params: map[string]any{
		"title": "Başka", "start": "15:00",
	}})
	if a == c {
		t.Error("fingerprint ignored a declared param")
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
}

func TestSummarizeResult(t *testing.T) {
	list := make([]any, 7)
	for i := range list {
		list[i] = map[string]any{"summary": "Etkinlik"}
	}
	got := SummarizeResult(map[string]any{"events": list}, 500)
	if !strings.Contains(got, "(toplam 7)") {
		t.Errorf("long list preview = %q", got)
	}

	got = SummarizeResult("<p>Merhaba <b>dünya</b></p><script>evil()</script>", 500)
	if strings.Contains(got, "<") || strings.Contains(got, "evil") {
		t.Errorf("HTML not stripped: %q", got)
	}
	if !strings.Contains(got, "Merhaba dünya") {
		t.Errorf("text content lost: %q", got)
	}

	got = SummarizeResult(map[string]any{"b": 2, "a": "x"}, 500)
	if got != "a=x, b=2" {
		t.Errorf("map preview = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("kısa", 10); got != "kısa" {
		t.Errorf("short string changed: %q", got)
	}
	long := strings.Repeat("ş", 40)
	got := Truncate(long, 20)
	if !strings.HasSuffix(got, "… [kısaltıldı]") {
		t.Errorf("marker missing: %q", got)
	}
	if n := len([]rune(got)); n != 20 {
		t.Errorf("truncated length = %d runes, want 20", n)
	}
}
