package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Manager is the per-process dialog memory lifecycle: it opens a fresh
// session on construction, preloads recent history into a bounded ring, and
// mirrors every new turn to both the ring and the store. The ring is the
// authoritative in-session view; store failures are logged and absorbed.
type Manager struct {
	mu        sync.Mutex
	store     *Store
	sessionID string
	ring      []CompactSummary
	maxTurns  int
	turnSeq   int
	piiFilter bool
	log       zerolog.Logger
}

// NewManager opens a session and preloads up to maxTurns summaries from the
// last maxSessions sessions, newest history closest to the tail.
func NewManager(ctx context.Context, store *Store, maxSessions, maxTurns int, piiFilter bool, log zerolog.Logger) (*Manager, error) {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	sessionID, err := store.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialog manager: %w", err)
	}
	m := &Manager{
		store:     store,
		sessionID: sessionID,
		maxTurns:  maxTurns,
		piiFilter: piiFilter,
		log:       log.With().Str("stage", "memory").Logger(),
	}
	recent, err := store.LoadRecent(ctx, maxSessions, maxTurns)
	if err != nil {
		m.log.Warn().Err(err).Msg("preload failed; starting with empty ring")
		return m, nil
	}
	// LoadRecent is newest-session-first; flatten oldest-first so the ring
	// reads chronologically, then keep only the newest maxTurns.
	var flat []CompactSummary
	for i := len(recent) - 1; i >= 0; i-- {
		flat = append(flat, recent[i].Turns...)
	}
	if len(flat) > maxTurns {
		flat = flat[len(flat)-maxTurns:]
	}
	m.ring = flat
	return m, nil
}

// SessionID returns the session opened at construction.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// AddTurn appends a summary to the ring and persists it. The turn number is
// assigned here; persistence failure does not remove the turn from the ring.
func (m *Manager) AddTurn(ctx context.Context, userIntent, actionTaken string, pendingItems []string) CompactSummary {
	m.mu.Lock()
	m.turnSeq++
	summary := CompactSummary{
		TurnNumber:   m.turnSeq,
		UserIntent:   userIntent,
		ActionTaken:  actionTaken,
		PendingItems: pendingItems,
	}
	if m.piiFilter {
		summary.UserIntent = MaskPII(summary.UserIntent)
		summary.ActionTaken = MaskPII(summary.ActionTaken)
		for i, item := range summary.PendingItems {
			summary.PendingItems[i] = MaskPII(item)
		}
	}
	m.ring = append(m.ring, summary)
	if len(m.ring) > m.maxTurns {
		m.ring = m.ring[len(m.ring)-m.maxTurns:]
	}
	m.mu.Unlock()

	// Already masked above; do not mask twice in the store.
	if err := m.store.SaveTurn(ctx, m.sessionID, summary, false); err != nil {
		m.log.Warn().Err(err).Int("turn", summary.TurnNumber).Msg("save turn failed")
	}
	return summary
}

// Turns returns a copy of the current ring, oldest first.
func (m *Manager) Turns() []CompactSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompactSummary, len(m.ring))
	copy(out, m.ring)
	return out
}

// PromptBlock renders the ring as the DIALOG_SUMMARY prompt section. Empty
// string when there is no history.
func (m *Manager) PromptBlock() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("DIALOG_SUMMARY:\n")
	for _, t := range m.ring {
		fmt.Fprintf(&sb, "- [%d] istek: %s | yapılan: %s", t.TurnNumber, t.UserIntent, t.ActionTaken)
		if len(t.PendingItems) > 0 {
			fmt.Fprintf(&sb, " | bekleyen: %s", strings.Join(t.PendingItems, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// EndSession marks the session finished in the store.
func (m *Manager) EndSession(ctx context.Context) error {
	return m.store.EndSession(ctx, m.sessionID)
}

// Close ends the session and releases the store.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.EndSession(ctx); err != nil {
		m.log.Warn().Err(err).Msg("end session failed")
	}
	return m.store.Close()
}
