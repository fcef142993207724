// Package memory persists per-session dialog turn summaries across process
// restarts, with PII filtering on the write path and a bounded reload on
// boot.
package memory

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// CompactSummary is one dialog turn in compact form.
type CompactSummary struct {
	TurnNumber   int       `json:"turn_number"`
	UserIntent   string    `json:"user_intent"`
	ActionTaken  string    `json:"action_taken"`
	PendingItems []string  `json:"pending_items"`
	Timestamp    time.Time `json:"timestamp"`
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    ended_at   TIMESTAMP,
    turn_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS turns (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL REFERENCES sessions(session_id),
    turn_number   INTEGER NOT NULL,
    user_intent   TEXT NOT NULL,
    action_taken  TEXT NOT NULL,
    pending_items TEXT NOT NULL DEFAULT '[]',
    timestamp     TIMESTAMP NOT NULL,
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
`

// Store is the SQLite-backed summary store. WAL mode keeps readers from
// blocking the single writer; the store is safe across processes.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the store at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory pragma: %w", err)
		}
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession registers a new session and returns its id.
func (s *Store) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// EndSession marks a session finished.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// SaveTurn persists one summary. With piiFilter on (the default everywhere
// outside tests), intent and action text is masked before it reaches disk.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, summary CompactSummary, piiFilter bool) error {
	if piiFilter {
		summary.UserIntent = MaskPII(summary.UserIntent)
		summary.ActionTaken = MaskPII(summary.ActionTaken)
		for i, item := range summary.PendingItems {
			summary.PendingItems[i] = MaskPII(item)
		}
	}
	if summary.Timestamp.IsZero() {
		summary.Timestamp = time.Now()
	}
	pending, err := json.Marshal(summary.PendingItems)
	if err != nil {
		pending = []byte("[]")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_number, user_intent, action_taken, pending_items, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, summary.TurnNumber, summary.UserIntent, summary.ActionTaken,
		string(pending), summary.Timestamp.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET turn_count = turn_count + 1 WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return tx.Commit()
}

// SessionTurns couples a session id with its loaded summaries.
type SessionTurns struct {
	SessionID string
	Turns     []CompactSummary
}

// LoadRecent returns up to maxSessions most recent sessions, each with its
// last maxTurnsPerSession turns in chronological order. Most recent session
// first.
func (s *Store) LoadRecent(ctx context.Context, maxSessions, maxTurnsPerSession int) ([]SessionTurns, error) {
	if maxSessions <= 0 {
		maxSessions = 5
	}
	if maxTurnsPerSession <= 0 {
		maxTurnsPerSession = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT ?`, maxSessions)
	if err != nil {
		return nil, fmt.Errorf("load recent: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SessionTurns, 0, len(ids))
	for _, id := range ids {
		turns, err := s.sessionTurns(ctx, id, maxTurnsPerSession)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionTurns{SessionID: id, Turns: turns})
	}
	return out, nil
}

func (s *Store) sessionTurns(ctx context.Context, sessionID string, limit int) ([]CompactSummary, error) {
	// Take the newest rows, then flip to chronological order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_number, user_intent, action_taken, pending_items, timestamp
		 FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session turns: %w", err)
	}
	defer rows.Close()
	var turns []CompactSummary
	for rows.Next() {
		c, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// LoadAllTurnsFlat returns a single chronologically ascending list across
// sessions, bounded by limit (0 means a 500-row default).
func (s *Store) LoadAllTurnsFlat(ctx context.Context, limit int) ([]CompactSummary, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_number, user_intent, action_taken, pending_items, timestamp
		 FROM (SELECT * FROM turns ORDER BY created_at DESC, id DESC LIMIT ?)
		 ORDER BY created_at ASC, id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("load all turns: %w", err)
	}
	defer rows.Close()
	var out []CompactSummary
	for rows.Next() {
		c, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanSummary(rows *sql.Rows) (CompactSummary, error) {
	var c CompactSummary
	var pending string
	if err := rows.Scan(&c.TurnNumber, &c.UserIntent, &c.ActionTaken, &pending, &c.Timestamp); err != nil {
		return CompactSummary{}, err
	}
	if err := json.Unmarshal([]byte(pending), &c.PendingItems); err != nil {
		c.PendingItems = nil
	}
	return c, nil
}

// PruneOldSessions deletes all but the newest keepSessions sessions along
// with their turns.
func (s *Store) PruneOldSessions(ctx context.Context, keepSessions int) error {
	if keepSessions < 0 {
		keepSessions = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turns WHERE session_id NOT IN
		    (SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT ?)`, keepSessions); err != nil {
		return fmt.Errorf("prune turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE session_id NOT IN
		    (SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT ?)`, keepSessions); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	return tx.Commit()
}

type jsonlTurn struct {
	SessionID string         `json:"session_id"`
	Summary   CompactSummary `json:"summary"`
}

// ExportJSONL writes every turn as one JSON line, for backup and migration.
func (s *Store) ExportJSONL(ctx context.Context, path string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_number, user_intent, action_taken, pending_items, timestamp
		 FROM turns ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer rows.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for rows.Next() {
		var rec jsonlTurn
		var pending string
		if err := rows.Scan(&rec.SessionID, &rec.Summary.TurnNumber, &rec.Summary.UserIntent,
			&rec.Summary.ActionTaken, &pending, &rec.Summary.Timestamp); err != nil {
			return err
		}
		_ = json.Unmarshal([]byte(pending), &rec.Summary.PendingItems)
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}

// ImportJSONL loads turns from a backup file. Sessions referenced by the
// backup are created on demand; rows were already PII-filtered on export.
func (s *Store) ImportJSONL(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	defer f.Close()

	seen := map[string]bool{}
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlTurn
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if !seen[rec.SessionID] {
			_, _ = s.db.ExecContext(ctx,
				`INSERT OR IGNORE INTO sessions (session_id, started_at) VALUES (?, ?)`,
				rec.SessionID, time.Now().UTC())
			seen[rec.SessionID] = true
		}
		if err := s.SaveTurn(ctx, rec.SessionID, rec.Summary, false); err != nil {
			return count, err
		}
		count++
	}
	return count, sc.Err()
}
