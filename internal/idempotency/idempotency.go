// Package idempotency deduplicates creation side effects: a deterministic
// fingerprint of the normalized creation parameters maps to the previously
// created result for a bounded TTL, so a retried turn returns the original
// event instead of creating a twin.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bantz-ai/bantz/internal/budget"
)

// DefaultTTL bounds how long a creation fingerprint suppresses duplicates.
const DefaultTTL = 24 * time.Hour

// Record is one persisted fingerprint → side-effect binding.
type Record struct {
	EventID      string    `json:"event_id"`
	EventSummary string    `json:"event_summary"`
	EventStart   string    `json:"event_start"`
	EventEnd     string    `json:"event_end"`
	CalendarID   string    `json:"calendar_id"`
	CreatedAt    time.Time `json:"created_at"`
	TTLSeconds   int       `json:"ttl_seconds"`
}

func (r Record) expired(now time.Time) bool {
	return now.After(r.CreatedAt.Add(time.Duration(r.TTLSeconds) * time.Second))
}

type fileLayout struct {
	Version   int               `json:"version"`
	UpdatedAt string            `json:"updated_at"`
	Records   map[string]Record `json:"records"`
}

// Fingerprint computes the stable creation key: SHA-256 over the NFKC
// lowercased whitespace-collapsed title, the UTC-normalized datetimes, and
// the lowercased calendar id, truncated to 32 hex chars.
func Fingerprint(title, start, end, calendarID string) string {
	payload := normalizeTitle(title) + "|" + normalizeDatetime(start) + "|" +
		normalizeDatetime(end) + "|" + strings.ToLower(strings.TrimSpace(calendarID))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:32]
}

// normalizeTitle applies NFKC, Turkish lowercasing, and whitespace collapse
// via the shared text normalizer.
func normalizeTitle(title string) string {
	return budget.NormalizeTurkish(title)
}

// normalizeDatetime parses ISO timestamps, converts to UTC, and re-emits
// RFC3339 so "+03:00" and the equivalent Zulu time fingerprint identically.
// Unparseable input falls back to the trimmed original.
func normalizeDatetime(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}

// Store is the JSON-file backed record set. Writes are atomic
// (temp file + rename, mode 0600); the in-memory view reloads whenever the
// file mtime changes so cooperating processes observe each other's records.
type Store struct {
	Path string
	TTL  time.Duration

	mu         sync.Mutex
	records    map[string]Record
	loadedAt   time.Time
	fileMtime  time.Time
	nowFn      func() time.Time
	loadedOnce bool
}

// NewStore opens (or lazily creates) the store at path.
func NewStore(path string) *Store {
	return &Store{Path: path, TTL: DefaultTTL, nowFn: time.Now}
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// reload reads the file when never loaded or when its mtime moved. Expired
// records are dropped in memory; they disappear from disk on the next save.
func (s *Store) reload() error {
	info, err := os.Stat(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if !s.loadedOnce {
				s.records = map[string]Record{}
				s.loadedOnce = true
			}
			return nil
		}
		return err
	}
	if s.loadedOnce && info.ModTime().Equal(s.fileMtime) {
		return nil
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return err
	}
	var layout fileLayout
	if err := json.Unmarshal(b, &layout); err != nil {
		return fmt.Errorf("idempotency store corrupt: %w", err)
	}
	now := s.now()
	records := make(map[string]Record, len(layout.Records))
	for key, rec := range layout.Records {
		if !rec.expired(now) {
			records[key] = rec
		}
	}
	s.records = records
	s.fileMtime = info.ModTime()
	s.loadedAt = now
	s.loadedOnce = true
	return nil
}

// save serializes the active set atomically with restrictive permissions.
func (s *Store) save() error {
	layout := fileLayout{
		Version:   1,
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
		Records:   s.records,
	}
	b, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".idem-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return err
	}
	if info, err := os.Stat(s.Path); err == nil {
		s.fileMtime = info.ModTime()
	}
	return nil
}

// Lookup returns the unexpired record for key, if any.
func (s *Store) Lookup(key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(); err != nil {
		return Record{}, false, err
	}
	rec, ok := s.records[key]
	if !ok || rec.expired(s.now()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Put records a fresh fingerprint binding and persists it.
func (s *Store) Put(key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(); err != nil {
		return err
	}
	if rec.TTLSeconds <= 0 {
		ttl := s.TTL
		if ttl <= 0 {
			ttl = DefaultTTL
		}
		rec.TTLSeconds = int(ttl / time.Second)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.records[key] = rec
	return s.save()
}

// CreateResult reports the outcome of an idempotent creation.
type CreateResult struct {
	OK        bool           `json:"ok"`
	Duplicate bool           `json:"duplicate"`
	Event     map[string]any `json:"event,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// CreateFn performs the actual side effect and returns the created entity,
// which must carry an "id" field.
type CreateFn func(ctx context.Context) (map[string]any, error)

// CreateWithIdempotency looks up the fingerprint first: a hit returns the
// recorded event without invoking createFn; a miss runs createFn and records
// the binding on success.
func (s *Store) CreateWithIdempotency(ctx context.Context, title, start, end, calendarID string, createFn CreateFn) (CreateResult, error) {
	key := Fingerprint(title, start, end, calendarID)

	rec, found, err := s.Lookup(key)
	if err != nil {
		return CreateResult{}, err
	}
	if found {
		return CreateResult{
			OK:        true,
			Duplicate: true,
			Event: map[string]any{
				"id":      rec.EventID,
				"summary": rec.EventSummary,
				"start":   rec.EventStart,
				"end":     rec.EventEnd,
			},
			Message: "Bu etkinlik zaten ekli efendim.",
		}, nil
	}

	event, err := createFn(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	eventID, _ := event["id"].(string)
	// The side effect already happened; a persistence failure must not turn
	// the turn into an error. A retry after a lost record may duplicate,
	// which is the accepted trade-off.
	_ = s.Put(key, Record{
		EventID:      eventID,
		EventSummary: title,
		EventStart:   start,
		EventEnd:     end,
		CalendarID:   calendarID,
	})
	return CreateResult{OK: true, Event: event}, nil
}
