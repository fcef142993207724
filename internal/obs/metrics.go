package obs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric is one unified LLM metrics row (JSONL).
type Metric struct {
	TS               time.Time `json:"ts"`
	Backend          string    `json:"backend"` // "vllm" or "gemini"
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMS        int64     `json:"latency_ms"`
	Success          bool      `json:"success"`
	ErrorType        string    `json:"error_type,omitempty"`
	Tier             string    `json:"tier"` // "fast" or "quality"
	Reason           string    `json:"reason"`
}

// MetricsLog is an append-only, thread-safe JSONL writer. A disabled log
// swallows records so call sites never branch.
type MetricsLog struct {
	mu      sync.Mutex
	path    string
	enabled bool
}

// NewMetricsLog creates a log writing to path when enabled.
func NewMetricsLog(path string, enabled bool) *MetricsLog {
	return &MetricsLog{path: path, enabled: enabled}
}

// NewMetricsLogFromEnv honors LLM_METRICS_ENABLED and LLM_METRICS_FILE.
// The feature defaults to off.
func NewMetricsLogFromEnv() *MetricsLog {
	enabled := false
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LLM_METRICS_ENABLED"))) {
	case "1", "true", "yes", "on":
		enabled = true
	}
	path := strings.TrimSpace(os.Getenv("LLM_METRICS_FILE"))
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".bantz", "llm_metrics.jsonl")
	}
	return &MetricsLog{path: path, enabled: enabled}
}

// Enabled reports whether records are written.
func (l *MetricsLog) Enabled() bool {
	if l == nil {
		return false
	}
	return l.enabled
}

// Record appends one row. Failures are returned but callers are expected to
// log and continue; metrics never abort a turn.
func (l *MetricsLog) Record(m Metric) error {
	if l == nil || !l.enabled {
		return nil
	}
	if m.TS.IsZero() {
		m.TS = time.Now()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// Load reads all rows from a metrics file, skipping unparseable lines.
func Load(path string) ([]Metric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Metric
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m Metric
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

// BackendStats aggregates one backend's rows.
type BackendStats struct {
	Calls        int   `json:"calls"`
	TotalTokens  int   `json:"total_tokens"`
	LatencyP50MS int64 `json:"latency_p50_ms"`
	LatencyP95MS int64 `json:"latency_p95_ms"`
}

// Report is the analysis over a set of metric rows.
type Report struct {
	Total      int                     `json:"total"`
	Success    int                     `json:"success"`
	Failure    int                     `json:"failure"`
	PerBackend map[string]BackendStats `json:"per_backend"`
	PerTier    map[string]int          `json:"per_tier"`
	PerError   map[string]int          `json:"per_error"`
	From       time.Time               `json:"from"`
	To         time.Time               `json:"to"`
}

// Analyze aggregates counts, per-backend token and latency percentiles,
// per-tier and per-error-type counts, and the covered time range.
func Analyze(entries []Metric) Report {
	rep := Report{
		PerBackend: map[string]BackendStats{},
		PerTier:    map[string]int{},
		PerError:   map[string]int{},
	}
	latencies := map[string][]int64{}
	for _, m := range entries {
		rep.Total++
		if m.Success {
			rep.Success++
		} else {
			rep.Failure++
			if m.ErrorType != "" {
				rep.PerError[m.ErrorType]++
			}
		}
		if m.Tier != "" {
			rep.PerTier[m.Tier]++
		}
		bs := rep.PerBackend[m.Backend]
		bs.Calls++
		bs.TotalTokens += m.TotalTokens
		rep.PerBackend[m.Backend] = bs
		latencies[m.Backend] = append(latencies[m.Backend], m.LatencyMS)
		if rep.From.IsZero() || m.TS.Before(rep.From) {
			rep.From = m.TS
		}
		if m.TS.After(rep.To) {
			rep.To = m.TS
		}
	}
	for backend, lats := range latencies {
		sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
		bs := rep.PerBackend[backend]
		bs.LatencyP50MS = percentile(lats, 50)
		bs.LatencyP95MS = percentile(lats, 95)
		rep.PerBackend[backend] = bs
	}
	return rep
}

func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}

// FormatMarkdown renders a report for dashboards and doctor commands.
func FormatMarkdown(rep Report) string {
	var sb strings.Builder
	sb.WriteString("# LLM metrics\n\n")
	fmt.Fprintf(&sb, "- Calls: %d (success %d, failure %d)\n", rep.Total, rep.Success, rep.Failure)
	if !rep.From.IsZero() {
		fmt.Fprintf(&sb, "- Range: %s — %s\n", rep.From.Format(time.RFC3339), rep.To.Format(time.RFC3339))
	}
	sb.WriteString("\n## Backends\n\n")
	sb.WriteString("| backend | calls | tokens | p50 ms | p95 ms |\n|---|---|---|---|---|\n")
	for _, backend := range sortedKeys(rep.PerBackend) {
		bs := rep.PerBackend[backend]
		fmt.Fprintf(&sb, "| %s | %d | %d | %d | %d |\n", backend, bs.Calls, bs.TotalTokens, bs.LatencyP50MS, bs.LatencyP95MS)
	}
	if len(rep.PerTier) > 0 {
		sb.WriteString("\n## Tiers\n\n")
		for _, tier := range sortedKeys(rep.PerTier) {
			fmt.Fprintf(&sb, "- %s: %d\n", tier, rep.PerTier[tier])
		}
	}
	if len(rep.PerError) > 0 {
		sb.WriteString("\n## Errors\n\n")
		for _, et := range sortedKeys(rep.PerError) {
			fmt.Fprintf(&sb, "- %s: %d\n", et, rep.PerError[et])
		}
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
