package obs

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// RunTracker persists runs, tool calls, and artifacts to SQLite (WAL mode).
// One run owns N tool calls, ordered by call insertion.
type RunTracker struct {
	db *sql.DB
}

const trackerSchema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    session_id   TEXT,
    user_input   TEXT NOT NULL,
    started_at   TIMESTAMP NOT NULL,
    ended_at     TIMESTAMP,
    status       TEXT NOT NULL DEFAULT 'running',
    route        TEXT,
    final_output TEXT,
    model        TEXT,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    latency_ms   INTEGER NOT NULL DEFAULT 0,
    error        TEXT
);
CREATE TABLE IF NOT EXISTS tool_calls (
    call_id        TEXT PRIMARY KEY,
    run_id         TEXT NOT NULL REFERENCES runs(run_id),
    tool_name      TEXT NOT NULL,
    params         TEXT,
    status         TEXT NOT NULL,
    result_hash    TEXT,
    result_summary TEXT,
    error          TEXT,
    elapsed_ms     INTEGER NOT NULL DEFAULT 0,
    retry_count    INTEGER NOT NULL DEFAULT 0,
    confirmation   TEXT,
    created_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id TEXT PRIMARY KEY,
    run_id      TEXT REFERENCES runs(run_id),
    type        TEXT NOT NULL,
    title       TEXT,
    content     BLOB NOT NULL,
    mime_type   TEXT NOT NULL DEFAULT 'text/plain',
    size_bytes  INTEGER NOT NULL,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);
`

// NewRunTracker opens (creating if needed) the tracker database at path.
func NewRunTracker(path string) (*RunTracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("tracker dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	// Single writer; readers through WAL never block it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("tracker pragma: %w", err)
		}
	}
	if _, err := db.Exec(trackerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker schema: %w", err)
	}
	return &RunTracker{db: db}, nil
}

// Close releases the database handle.
func (t *RunTracker) Close() error {
	return t.db.Close()
}

// Run is an open observability span over one turn.
type Run struct {
	ID        string
	SessionID string
	tracker   *RunTracker
	started   time.Time
}

// StartRun opens a run span and writes the initial row.
func (t *RunTracker) StartRun(ctx context.Context, sessionID, userInput string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		tracker:   t,
		started:   time.Now(),
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, user_input, started_at, status) VALUES (?, ?, ?, ?, 'running')`,
		run.ID, nullable(sessionID), userInput, run.started.UTC())
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// End closes the span. Status must be success, error, or partial.
func (r *Run) End(ctx context.Context, status, route, finalOutput, model string, totalTokens int, errMsg string) error {
	latency := time.Since(r.started).Milliseconds()
	_, err := r.tracker.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, status = ?, route = ?, final_output = ?, model = ?,
		        total_tokens = ?, latency_ms = ?, error = ? WHERE run_id = ?`,
		time.Now().UTC(), status, nullable(route), nullable(finalOutput), nullable(model),
		totalTokens, latency, nullable(errMsg), r.ID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// ToolSpan is an open span over one tool invocation within a run.
type ToolSpan struct {
	CallID  string
	RunID   string
	Name    string
	tracker *RunTracker
	started time.Time
	params  string
}

// StartTool opens a tool-call span under this run.
func (r *Run) StartTool(name string, params map[string]any) *ToolSpan {
	return &ToolSpan{
		CallID:  uuid.NewString(),
		RunID:   r.ID,
		Name:    name,
		tracker: r.tracker,
		started: time.Now(),
		params:  string(mustJSON(params)),
	}
}

// End flushes the tool call row. result is hashed over its canonical JSON.
func (s *ToolSpan) End(ctx context.Context, status string, result any, resultSummary, errMsg string, retryCount int, confirmation string) error {
	elapsed := time.Since(s.started).Milliseconds()
	_, err := s.tracker.db.ExecContext(ctx,
		`INSERT INTO tool_calls (call_id, run_id, tool_name, params, status, result_hash,
		         result_summary, error, elapsed_ms, retry_count, confirmation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.CallID, s.RunID, s.Name, s.params, status, ResultHash(result),
		resultSummary, nullable(errMsg), elapsed, retryCount, nullable(confirmation), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("end tool call: %w", err)
	}
	return nil
}

// SaveArtifact stores a content blob linked (optionally) to a run.
func (t *RunTracker) SaveArtifact(ctx context.Context, runID, artifactType, title string, content []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	id := uuid.NewString()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, run_id, type, title, content, mime_type, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(runID), artifactType, nullable(title), content, mimeType, len(content), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return id, nil
}

// ResultHash returns the hex SHA-256 over the canonical (key-sorted) JSON of
// a tool result, so identical results hash identically across runs.
func ResultHash(result any) string {
	b := mustJSON(result)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
