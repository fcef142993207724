package obs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunStatsRow aggregates runs since a cutoff.
type RunStatsRow struct {
	Total        int     `json:"total"`
	Success      int     `json:"success"`
	Error        int     `json:"error"`
	Partial      int     `json:"partial"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TotalTokens  int     `json:"total_tokens"`
}

// RunStats aggregates finished runs. A zero since covers everything.
func (t *RunTracker) RunStats(ctx context.Context, since time.Time) (RunStatsRow, error) {
	var row RunStatsRow
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM runs WHERE started_at >= ?`, since.UTC()).
		Scan(&row.Total, &row.Success, &row.Error, &row.Partial, &row.AvgLatencyMS, &row.TotalTokens)
	if err != nil {
		return RunStatsRow{}, fmt.Errorf("run stats: %w", err)
	}
	return row, nil
}

// ToolStatsRow aggregates one tool's calls.
type ToolStatsRow struct {
	ToolName     string  `json:"tool_name"`
	Calls        int     `json:"calls"`
	Errors       int     `json:"errors"`
	AvgElapsedMS float64 `json:"avg_elapsed_ms"`
	MaxElapsedMS int64   `json:"max_elapsed_ms"`
}

// ToolStats aggregates per-tool call counts and latencies.
func (t *RunTracker) ToolStats(ctx context.Context) ([]ToolStatsRow, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(elapsed_ms), 0),
		       COALESCE(MAX(elapsed_ms), 0)
		FROM tool_calls GROUP BY tool_name ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("tool stats: %w", err)
	}
	defer rows.Close()
	var out []ToolStatsRow
	for rows.Next() {
		var r ToolStatsRow
		if err := rows.Scan(&r.ToolName, &r.Calls, &r.Errors, &r.AvgElapsedMS, &r.MaxElapsedMS); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SlowTools returns tools whose average elapsed time exceeds thresholdMS.
func (t *RunTracker) SlowTools(ctx context.Context, thresholdMS int64) ([]ToolStatsRow, error) {
	all, err := t.ToolStats(ctx)
	if err != nil {
		return nil, err
	}
	var out []ToolStatsRow
	for _, r := range all {
		if r.AvgElapsedMS >= float64(thresholdMS) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ErrorBreakdown counts tool-call errors grouped by message, optionally
// restricted to one tool.
func (t *RunTracker) ErrorBreakdown(ctx context.Context, toolName string) (map[string]int, error) {
	query := `SELECT COALESCE(error, ''), COUNT(*) FROM tool_calls WHERE status = 'error'`
	args := []any{}
	if toolName != "" {
		query += ` AND tool_name = ?`
		args = append(args, toolName)
	}
	query += ` GROUP BY error`
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error breakdown: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var msg string
		var n int
		if err := rows.Scan(&msg, &n); err != nil {
			return nil, err
		}
		out[msg] = n
	}
	return out, rows.Err()
}

// ArtifactStatsRow aggregates stored artifacts by type.
type ArtifactStatsRow struct {
	Type       string `json:"type"`
	Count      int    `json:"count"`
	TotalBytes int64  `json:"total_bytes"`
}

// ArtifactStats aggregates artifact counts and sizes per type.
func (t *RunTracker) ArtifactStats(ctx context.Context) ([]ArtifactStatsRow, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT type, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM artifacts GROUP BY type ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("artifact stats: %w", err)
	}
	defer rows.Close()
	var out []ArtifactStatsRow
	for rows.Next() {
		var r ArtifactStatsRow
		if err := rows.Scan(&r.Type, &r.Count, &r.TotalBytes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunRow is one listed run.
type RunRow struct {
	RunID       string    `json:"run_id"`
	SessionID   string    `json:"session_id,omitempty"`
	UserInput   string    `json:"user_input"`
	StartedAt   time.Time `json:"started_at"`
	Status      string    `json:"status"`
	Route       string    `json:"route,omitempty"`
	FinalOutput string    `json:"final_output,omitempty"`
	Model       string    `json:"model,omitempty"`
	TotalTokens int       `json:"total_tokens"`
	LatencyMS   int64     `json:"latency_ms"`
	Error       string    `json:"error,omitempty"`
}

// ListRuns returns runs newest-first, paginated.
func (t *RunTracker) ListRuns(ctx context.Context, limit, offset int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, COALESCE(session_id, ''), user_input, started_at, status,
		       COALESCE(route, ''), COALESCE(final_output, ''), COALESCE(model, ''),
		       total_tokens, latency_ms, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.SessionID, &r.UserInput, &r.StartedAt, &r.Status,
			&r.Route, &r.FinalOutput, &r.Model, &r.TotalTokens, &r.LatencyMS, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ToolCallRow is one listed tool call.
type ToolCallRow struct {
	CallID        string `json:"call_id"`
	RunID         string `json:"run_id"`
	ToolName      string `json:"tool_name"`
	Params        string `json:"params"`
	Status        string `json:"status"`
	ResultHash    string `json:"result_hash,omitempty"`
	ResultSummary string `json:"result_summary,omitempty"`
	Error         string `json:"error,omitempty"`
	ElapsedMS     int64  `json:"elapsed_ms"`
	RetryCount    int    `json:"retry_count"`
	Confirmation  string `json:"confirmation,omitempty"`
}

// ListToolCalls returns the tool calls of one run in call order.
func (t *RunTracker) ListToolCalls(ctx context.Context, runID string) ([]ToolCallRow, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT call_id, run_id, tool_name, COALESCE(params, ''), status,
		       COALESCE(result_hash, ''), COALESCE(result_summary, ''), COALESCE(error, ''),
		       elapsed_ms, retry_count, COALESCE(confirmation, '')
		FROM tool_calls WHERE run_id = ? ORDER BY created_at, call_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()
	var out []ToolCallRow
	for rows.Next() {
		var r ToolCallRow
		if err := rows.Scan(&r.CallID, &r.RunID, &r.ToolName, &r.Params, &r.Status,
			&r.ResultHash, &r.ResultSummary, &r.Error, &r.ElapsedMS, &r.RetryCount, &r.Confirmation); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches a single run row.
func (t *RunTracker) GetRun(ctx context.Context, runID string) (RunRow, error) {
	var r RunRow
	err := t.db.QueryRowContext(ctx, `
		SELECT run_id, COALESCE(session_id, ''), user_input, started_at, status,
		       COALESCE(route, ''), COALESCE(final_output, ''), COALESCE(model, ''),
		       total_tokens, latency_ms, COALESCE(error, '')
		FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.SessionID, &r.UserInput, &r.StartedAt, &r.Status,
			&r.Route, &r.FinalOutput, &r.Model, &r.TotalTokens, &r.LatencyMS, &r.Error)
	if err == sql.ErrNoRows {
		return RunRow{}, fmt.Errorf("run %s not found", runID)
	}
	return r, err
}
