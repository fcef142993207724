package obs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestBusPatternMatching(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) Handler {
		return func(ev Event) {
			mu.Lock()
			got[name]++
			mu.Unlock()
		}
	}
	bus.Subscribe("tool.executed", record("exact"))
	bus.Subscribe("tool.*", record("wildcard"))
	bus.SubscribeAll(record("all"))
	bus.Subscribe("run.*", record("other"))

	bus.Publish("tool.executed", map[string]any{"tool": "calendar.query"}, "test", "")

	mu.Lock()
	defer mu.Unlock()
	if got["exact"] != 1 || got["wildcard"] != 1 || got["all"] != 1 {
		t.Errorf("dispatch counts = %v", got)
	}
	if got["other"] != 0 {
		t.Errorf("run.* handler saw a tool event: %v", got)
	}
}

func TestBusMiddlewareSuppressesAndTransforms(t *testing.T) {
	bus := NewBus(16)
	var seen []Event
	bus.SubscribeAll(func(ev Event) { seen = append(seen, ev) })

	bus.AddMiddleware(func(ev Event) *Event {
		if ev.Type == "tool.noise" {
			return nil
		}
		ev.Source = "mw"
		return &ev
	})

	bus.Publish("tool.noise", nil, "test", "")
	bus.Publish("tool.executed", nil, "test", "")

	if len(seen) != 1 {
		t.Fatalf("events = %d, want 1 (noise suppressed)", len(seen))
	}
	if seen[0].Source != "mw" {
		t.Errorf("middleware transform not applied: %+v", seen[0])
	}
}

func TestBusPanicIsolatedAndHistory(t *testing.T) {
	bus := NewBus(4)
	calls := 0
	bus.Subscribe("tool.*", func(Event) { panic("handler bug") })
	bus.Subscribe("tool.*", func(Event) { calls++ })

	for i := 0; i < 6; i++ {
		bus.Publish("tool.executed", map[string]any{"i": i}, "test", "")
	}
	if calls != 6 {
		t.Errorf("second handler calls = %d, want 6 despite panics", calls)
	}

	hist := bus.History("tool.executed", 0)
	if len(hist) != 4 {
		t.Errorf("history = %d events, want ring bound of 4", len(hist))
	}
}

func TestRunTrackerRowsAndStats(t *testing.T) {
	ctx := context.Background()
	tracker, err := NewRunTracker(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	defer tracker.Close()

	run, err := tracker.StartRun(ctx, "sess-1", "toplantı ekle")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	span := run.StartTool("calendar.create_event", map[string]any{"title": "Toplantı"})
	if err := span.End(ctx, "success", map[string]any{"id": "evt-1"}, "event created", "", 0, "granted"); err != nil {
		t.Fatalf("end tool: %v", err)
	}
	if err := run.End(ctx, "success", "calendar", "Ekledim efendim.", "qwen", 120, ""); err != nil {
		t.Fatalf("end run: %v", err)
	}

	got, err := tracker.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != "success" || got.Route != "calendar" || got.TotalTokens != 120 {
		t.Errorf("run row = %+v", got)
	}

	calls, err := tracker.ListToolCalls(ctx, run.ID)
	if err != nil {
		t.Fatalf("list tool calls: %v", err)
	}
	if len(calls) != 1 || calls[0].ToolName != "calendar.create_event" {
		t.Fatalf("tool calls = %+v", calls)
	}
	if calls[0].ResultHash == "" || calls[0].Confirmation != "granted" {
		t.Errorf("tool call row = %+v", calls[0])
	}

	stats, err := tracker.RunStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("run stats: %v", err)
	}
	if stats.Total != 1 || stats.Success != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestResultHashDeterministic(t *testing.T) {
	a := ResultHash(map[string]any{"b": 2, "a": 1})
	b := ResultHash(map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Error("hash depends on map ordering")
	}
	if a == ResultHash(map[string]any{"a": 1, "b": 3}) {
		t.Error("different results hash identically")
	}
}

func TestSaveArtifactAndStats(t *testing.T) {
	ctx := context.Background()
	tracker, err := NewRunTracker(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	defer tracker.Close()

	id, err := tracker.SaveArtifact(ctx, "", "run_report", "Rapor", []byte("# Rapor"), "text/markdown")
	if err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	if id == "" {
		t.Fatal("empty artifact id")
	}
	stats, err := tracker.ArtifactStats(ctx)
	if err != nil {
		t.Fatalf("artifact stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Type != "run_report" || stats[0].TotalBytes != 7 {
		t.Errorf("artifact stats = %+v", stats)
	}
}

func TestMetricsAnalyze(t *testing.T) {
	entries := []Metric{
		{Backend: "vllm", TotalTokens: 100, LatencyMS: 50, Success: true, Tier: "fast"},
		{Backend: "vllm", TotalTokens: 200, LatencyMS: 150, Success: true, Tier: "fast"},
		{Backend: "gemini", TotalTokens: 400, LatencyMS: 900, Success: false, ErrorType: "timeout", Tier: "quality"},
	}
	rep := Analyze(entries)
	if rep.Total != 3 || rep.Success != 2 || rep.Failure != 1 {
		t.Errorf("report counts = %+v", rep)
	}
	if rep.PerBackend["vllm"].TotalTokens != 300 {
		t.Errorf("vllm tokens = %d", rep.PerBackend["vllm"].TotalTokens)
	}
	if rep.PerError["timeout"] != 1 {
		t.Errorf("per-error = %v", rep.PerError)
	}
	if rep.PerTier["fast"] != 2 || rep.PerTier["quality"] != 1 {
		t.Errorf("per-tier = %v", rep.PerTier)
	}
	if rep.PerBackend["vllm"].LatencyP50MS != 50 {
		t.Errorf("p50 = %d, want 50", rep.PerBackend["vllm"].LatencyP50MS)
	}
}

func TestMetricsLogDisabledSwallows(t *testing.T) {
	log := NewMetricsLog(filepath.Join(t.TempDir(), "m.jsonl"), false)
	if err := log.Record(Metric{Backend: "vllm"}); err != nil {
		t.Fatalf("disabled log errored: %v", err)
	}
	if log.Enabled() {
		t.Error("log reports enabled")
	}
}

func TestMetricsLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.jsonl")
	log := NewMetricsLog(path, true)
	for i := 0; i < 3; i++ {
		if err := log.Record(Metric{Backend: "vllm", TotalTokens: 10 * (i + 1), Success: true, Tier: "fast", Reason: "router"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	entries, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 3 || entries[2].TotalTokens != 30 {
		t.Errorf("entries = %+v", entries)
	}
}
