package idempotency

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("Toplantı", "2026-02-01T15:00:00+03:00", "2026-02-01T16:00:00+03:00", "primary")

	cases := []struct {
		name                     string
		title, start, end, calID string
		same                     bool
	}{
		{"whitespace and case", "  toplantı  ", "2026-02-01T15:00:00+03:00", "2026-02-01T16:00:00+03:00", "PRIMARY", true},
		{"timezone representation", "Toplantı", "2026-02-01T12:00:00Z", "2026-02-01T13:00:00Z", "primary", true},
		{"different title", "Başka toplantı", "2026-02-01T15:00:00+03:00", "2026-02-01T16:00:00+03:00", "primary", false},
		{"different start", "Toplantı", "2026-02-01T15:30:00+03:00", "2026-02-01T16:00:00+03:00", "primary", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Fingerprint(tc.title, tc.start, tc.end, tc.calID)
			if (got == base) != tc.same {
				t.Errorf("fingerprint equality = %v, want %v", got == base, tc.same)
			}
		})
	}
	if len(base) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(base))
	}
}

func TestCreateWithIdempotencyDedupes(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "idem.json"))
	ctx := context.Background()

	calls := 0
	create := func(ctx context.Context) (map[string]any, error) {
		calls++
		return map[string]any{"id": "evt-1", "summary": "Toplantı"}, nil
	}

	first, err := store.CreateWithIdempotency(ctx, "Toplantı", "2026-02-01T15:00:00+03:00", "2026-02-01T16:00:00+03:00", "primary", create)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !first.OK || first.Duplicate {
		t.Fatalf("first = %+v, want ok non-duplicate", first)
	}

	// Identical normalized params: the handler must not run again.
	second, err := store.CreateWithIdempotency(ctx, "  toplantı ", "2026-02-01T12:00:00Z", "2026-02-01T13:00:00Z", "PRIMARY", create)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.OK || !second.Duplicate {
		t.Fatalf("second = %+v, want duplicate", second)
	}
	if second.Message == "" {
		t.Error("duplicate message empty")
	}
	if id, _ := second.Event["id"].(string); id != "evt-1" {
		t.Errorf("duplicate event id = %q, want evt-1", id)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestRecordsExpire(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "idem.json"))
	now := time.Now()
	store.nowFn = func() time.Time { return now }

	key := Fingerprint("Toplantı", "2026-02-01T15:00:00Z", "", "primary")
	if err := store.Put(key, Record{EventID: "evt-1", EventSummary: "Toplantı"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, found, _ := store.Lookup(key); !found {
		t.Fatal("fresh record not found")
	}

	now = now.Add(25 * time.Hour)
	if _, found, _ := store.Lookup(key); found {
		t.Error("expired record still visible after TTL")
	}
}

func TestCrossProcessReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.json")
	writer := NewStore(path)
	key := Fingerprint("Toplantı", "2026-02-01T15:00:00Z", "", "primary")
	if err := writer.Put(key, Record{EventID: "evt-9"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A second store over the same file sees the record.
	reader := NewStore(path)
	rec, found, err := reader.Lookup(key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found || rec.EventID != "evt-9" {
		t.Errorf("record = %+v found=%v, want evt-9", rec, found)
	}
}
