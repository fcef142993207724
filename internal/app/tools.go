package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bantz-ai/bantz/internal/idempotency"
	"github.com/bantz-ai/bantz/internal/risk"
	"github.com/bantz-ai/bantz/internal/tools"
)

// calendarBook is the built-in in-memory calendar backing the demo handlers.
// Real calendar and mail handlers are registered by the embedding transport;
// these keep the daemon exercisable end to end without external accounts.
type calendarBook struct {
	mu     sync.Mutex
	events map[string]map[string]any
}

func newCalendarBook() *calendarBook {
	return &calendarBook{events: make(map[string]map[string]any)}
}

func (c *calendarBook) add(ev map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _ := ev["id"].(string)
	c.events[id] = ev
}

func (c *calendarBook) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[id]; !ok {
		return false
	}
	delete(c.events, id)
	return true
}

func (c *calendarBook) list() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	return out
}

// RegisterBuiltinTools installs the demo calendar, mail, and system tools.
// calendar.create_event routes through the idempotency store so a retried
// create returns the recorded event instead of a duplicate.
func RegisterBuiltinTools(registry *tools.Registry, idem *idempotency.Store) error {
	book := newCalendarBook()

	defs := []tools.Definition{
		{
			Name:        "calendar.create_event",
			Description: "Takvime yeni bir etkinlik ekler.",
			JSONSchema:  json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"start":{"type":"string"},"end":{"type":"string"},"calendar_id":{"type":"string"}},"required":["title","start"]}`),
			Risk:        risk.Moderate,
			FingerprintParams: []string{
				"title", "start", "end", "calendar_id",
			},
			Handler: func(ctx context.Context, _ string, params map[string]any) (map[string]any, error) {
				title := stringParam(params, "title")
				if title == "" {
					return nil, errors.New("etkinlik başlığı eksik")
				}
				start := stringParam(params, "start")
				end := stringParam(params, "end")
				calendarID := stringParam(params, "calendar_id")
				res, err := idem.CreateWithIdempotency(ctx, title, start, end, calendarID, func(ctx context.Context) (map[string]any, error) {
					ev := map[string]any{
						"id":      uuid.NewString(),
						"summary": title,
						"start":   start,
						"end":     end,
					}
					book.add(ev)
					return ev, nil
				})
				if err != nil {
					return nil, err
				}
				out := map[string]any{"ok": res.OK, "duplicate": res.Duplicate, "event": res.Event}
				if res.Message != "" {
					out["message"] = res.Message
				}
				return out, nil
			},
		},
		{
			Name:        "calendar.delete_event",
			Description: "Takvimden bir etkinliği siler.",
			JSONSchema:  json.RawMessage(`{"type":"object","properties":{"event_id":{"type":"string"}},"required":["event_id"]}`),
			Risk:        risk.Destructive,
			Handler: func(_ context.Context, _ string, params map[string]any) (map[string]any, error) {
				id := stringParam(params, "event_id")
				if id == "" {
					return nil, errors.New("etkinlik kimliği eksik")
				}
				if !book.remove(id) {
					return nil, fmt.Errorf("etkinlik bulunamadı: %s", id)
				}
				return map[string]any{"ok": true, "deleted": id}, nil
			},
		},
		{
			Name:        "calendar.query",
			Description: "Takvimdeki etkinlikleri listeler.",
			JSONSchema:  json.RawMessage(`{"type":"object","properties":{"date":{"type":"string"}}}`),
			Risk:        risk.Safe,
			Handler: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
				return map[string]any{"events": book.list()}, nil
			},
		},
		{
			Name:        "gmail.draft",
			Description: "Bir e-posta taslağı hazırlar.",
			JSONSchema:  json.RawMessage(`{"type":"object","properties":{"to":{"type":"string"},"subject":{"type":"string"},"body":{"type":"string"}}}`),
			Risk:        risk.Moderate,
			Handler: func(_ context.Context, _ string, params map[string]any) (map[string]any, error) {
				return map[string]any{
					"ok":      true,
					"draft":   uuid.NewString(),
					"to":      stringParam(params, "to"),
					"subject": stringParam(params, "subject"),
				}, nil
			},
		},
		{
			Name:        "system.status",
			Description: "Asistanın durum bilgisini döndürür.",
			JSONSchema:  json.RawMessage(`{"type":"object"}`),
			Risk:        risk.Safe,
			Handler: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
				return map[string]any{"ok": true, "status": "çalışıyor"}, nil
			},
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
