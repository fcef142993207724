package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/profile"
	"github.com/bantz-ai/bantz/internal/tools"
)

func testBuilder() *Builder {
	b := NewBuilder(profile.Profile{
		Name:        "Deniz",
		Facts:       []string{"Boğaziçi'nde yüksek lisans yapıyor"},
		Preferences: []string{"toplantıları öğleden sonraya koy"},
		LongTerm:    []string{"tez teslimi mayısta"},
	}, "Kibar ve kısa konuşursun, {name} hitabında \"efendim\" kullanırsın.", false, zerolog.Nop())
	b.NowFn = func() time.Time {
		return time.Date(2026, 2, 2, 14, 30, 0, 0, time.UTC)
	}
	return b
}

func fullInput() Input {
	return Input{
		UserInput:     "yarın 15:00'e toplantı ekle",
		DialogSummary: "DIALOG_SUMMARY:\n- [1] istek: takvim sorgusu | yapılan: calendar.query:ok | bekleyen: -",
		History: []Turn{
			{User: "bugün ne var", Assistant: "İki etkinlik var efendim."},
		},
		ToolResults: []tools.ToolResult{
			{ToolName: "calendar.query", Status: "ok", Result: map[string]any{"count": 2}},
		},
		ReferenceTable:  map[int]string{1: "Toplantı (15:00)", 2: "Ders (17:00)"},
		PlannerDecision: `{"route":"calendar","intent":"create"}`,
	}
}

func TestBuildSectionOrder(t *testing.T) {
	out := testBuilder().Build(fullInput())
	labels := []string{
		"SESSION_CONTEXT:",
		"DIALOG_SUMMARY:",
		"USER_PROFILE:",
		"LONG_TERM_MEMORY:",
		"PERSONALITY:",
		"RECENT_CONVERSATION:",
		"PLANNER_DECISION:",
		"LAST_TOOL_RESULTS:",
		"REFERENCE_TABLE:",
		"KULLANICI:",
	}
	last := -1
	for _, label := range labels {
		idx := strings.Index(out.EnhancedSummary, label)
		if idx < 0 {
			t.Fatalf("section %s missing:\n%s", label, out.EnhancedSummary)
		}
		if idx < last {
			t.Errorf("section %s out of order", label)
		}
		last = idx
	}
	if !strings.Contains(out.EnhancedSummary, "Tarih: 2026-02-02 Monday") {
		t.Error("session date missing")
	}
	if !strings.Contains(out.EnhancedSummary, "efendim") {
		t.Error("personality not rendered")
	}
	if strings.Contains(out.EnhancedSummary, "{name}") {
		t.Error("personality placeholder not interpolated")
	}
}

func TestBuildSmalltalkSkipsProfile(t *testing.T) {
	in := fullInput()
	in.IsSmalltalk = true
	out := testBuilder().Build(in)
	if strings.Contains(out.EnhancedSummary, "USER_PROFILE:") {
		t.Error("profile injected for smalltalk")
	}
	if strings.Contains(out.EnhancedSummary, "LONG_TERM_MEMORY:") {
		t.Error("long-term memory injected for smalltalk")
	}
	if !strings.Contains(out.EnhancedSummary, "PERSONALITY:") {
		t.Error("personality should survive smalltalk")
	}
}

func TestBuildPIIFilterMasksDialogSummary(t *testing.T) {
	b := testBuilder()
	b.PIIFilter = true
	in := fullInput()
	in.DialogSummary = "DIALOG_SUMMARY:\n- [1] istek: ahmet@example.com adresine yaz"
	out := b.Build(in)
	if !strings.Contains(out.DialogSummary, "[email]") || strings.Contains(out.DialogSummary, "ahmet@example.com") {
		t.Errorf("dialog summary not masked: %q", out.DialogSummary)
	}
	if strings.Contains(out.EnhancedSummary, "ahmet@example.com") {
		t.Error("raw address leaked into the composed context")
	}
}

func TestBuildOmitsEmptySections(t *testing.T) {
	out := testBuilder().Build(Input{UserInput: "merhaba"})
	for _, label := range []string{"DIALOG_SUMMARY:", "RECENT_CONVERSATION:", "PLANNER_DECISION:", "LAST_TOOL_RESULTS:", "REFERENCE_TABLE:"} {
		if strings.Contains(out.EnhancedSummary, label) {
			t.Errorf("empty section %s rendered", label)
		}
	}
	if !strings.HasSuffix(out.EnhancedSummary, "KULLANICI:\nmerhaba") {
		t.Errorf("user input must close the context:\n%s", out.EnhancedSummary)
	}
}

type recordingTracer struct {
	began      string
	injections []string
	trims      []string
}

func (r *recordingTracer) BeginTurn(userInput string) { r.began = userInput }
func (r *recordingTracer) RecordInjection(section string, chars int) {
	r.injections = append(r.injections, section)
}
func (r *recordingTracer) RecordTrim(section string, before, after int) {
	r.trims = append(r.trims, section)
}

func TestTrimLadderOrderAndUserInputSurvives(t *testing.T) {
	b := testBuilder()
	b.TokenBudget = 40

	in := fullInput()
	in.DialogSummary = "DIALOG_SUMMARY:\n" + strings.Repeat("- [1] istek: uzun geçmiş özeti\n", 40)
	in.ToolResults = []tools.ToolResult{
		{ToolName: "calendar.query", Status: "ok", Result: map[string]any{"body": strings.Repeat("etkinlik ", 200)}},
	}
	tracer := &recordingTracer{}
	in.Tracer = tracer

	out := b.Build(in)

	if tracer.began != in.UserInput {
		t.Errorf("tracer began = %q", tracer.began)
	}
	if len(tracer.trims) == 0 {
		t.Fatal("over-budget build recorded no trims")
	}
	if tracer.trims[0] != "last_tool_results" {
		t.Errorf("first trim = %s, want last_tool_results", tracer.trims[0])
	}
	// The ladder reaches sections in its fixed order.
	pos := map[string]int{}
	for i, name := range tracer.trims {
		if _, seen := pos[name]; !seen {
			pos[name] = i
		}
	}
	if rp, dp := pos["reference_table"], pos["dialog_summary"]; rp > dp {
		t.Errorf("reference_table trimmed after dialog_summary: %v", tracer.trims)
	}
	if !strings.Contains(out.EnhancedSummary, "KULLANICI:") {
		t.Error("user input dropped by the ladder")
	}
}

func TestExtractReferences(t *testing.T) {
	refs := ExtractReferences([]tools.ToolResult{
		{ToolName: "calendar.query", Status: "ok", Result: map[string]any{"events": []any{
			map[string]any{"summary": "Toplantı", "start": "2026-02-03T15:00:00+03:00"},
			map[string]any{"summary": "Ders"},
		}}},
		{ToolName: "gmail.draft", Status: "error", Error: "olmadı"},
		{ToolName: "calendar.create_event", Status: "ok", Result: map[string]any{"title": "Kahve"}},
	})
	if len(refs) != 3 {
		t.Fatalf("refs = %v", refs)
	}
	if refs[1] != "Toplantı (2026-02-03T15:00:00+03:00)" {
		t.Errorf("ref 1 = %q", refs[1])
	}
	if refs[2] != "Ders" || refs[3] != "Kahve" {
		t.Errorf("refs = %v", refs)
	}
}

func TestExtractReferencesEmpty(t *testing.T) {
	if refs := ExtractReferences(nil); refs != nil {
		t.Errorf("refs = %v, want nil", refs)
	}
}
