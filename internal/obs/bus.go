// Package obs is the observability spine: an in-process event bus, the
// unified LLM metrics log, and the SQLite-backed run tracker.
package obs

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is one bus message. Types form a dotted namespace
// ("tool.executed", "run.started", "calendar.created").
type Event struct {
	Type          string         `json:"event_type"`
	Data          map[string]any `json:"data"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Handler consumes one event. Handlers are fire-and-forget: a panic is
// logged and never interrupts other handlers.
type Handler func(Event)

// Middleware may transform an event before dispatch or return nil to
// suppress it entirely.
type Middleware func(Event) *Event

type subscription struct {
	pattern string
	handler Handler
	async   bool
}

// Bus is a thread-safe pub/sub hub with exact and prefix-wildcard matching
// plus a bounded history ring.
type Bus struct {
	mu          sync.RWMutex
	subs        []subscription
	middleware  []Middleware
	history     []Event
	historyHead int
	historyLen  int
	historySize int
}

// NewBus creates a bus whose history keeps the last historySize events
// (default 256 when zero or negative).
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = 256
	}
	return &Bus{
		history:     make([]Event, historySize),
		historySize: historySize,
	}
}

// Subscribe registers a synchronous handler for a pattern: an exact event
// type, a prefix wildcard like "tool.*", or "*" for everything.
func (b *Bus) Subscribe(pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: h})
}

// SubscribeAsync registers a handler invoked on its own goroutine.
func (b *Bus) SubscribeAsync(pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: h, async: true})
}

// SubscribeAll receives every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe("*", h)
}

// AddMiddleware appends a transform applied, in order, before dispatch.
func (b *Bus) AddMiddleware(m Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, m)
}

// Publish dispatches an event to all matching subscribers. Synchronous
// handlers run inline (outside the bus lock); async handlers get their own
// goroutine. Publication order is preserved for sync handlers only.
func (b *Bus) Publish(eventType string, data map[string]any, source, correlationID string) {
	ev := Event{
		Type:          eventType,
		Data:          data,
		Timestamp:     time.Now(),
		Source:        source,
		CorrelationID: correlationID,
	}

	b.mu.Lock()
	for _, m := range b.middleware {
		next := m(ev)
		if next == nil {
			b.mu.Unlock()
			return
		}
		ev = *next
	}
	b.history[b.historyHead] = ev
	b.historyHead = (b.historyHead + 1) % b.historySize
	if b.historyLen < b.historySize {
		b.historyLen++
	}
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchPattern(sub.pattern, ev.Type) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		if sub.async {
			go invoke(sub.handler, ev)
		} else {
			invoke(sub.handler, ev)
		}
	}
}

// PublishAsync dispatches every matching handler on its own goroutine and
// returns immediately.
func (b *Bus) PublishAsync(eventType string, data map[string]any, source, correlationID string) {
	go b.Publish(eventType, data, source, correlationID)
}

func invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event_type", ev.Type).Any("panic", r).Msg("event handler panicked")
		}
	}()
	h(ev)
}

// matchPattern implements exact match plus the single-level-free prefix
// wildcard: "tool.*" matches any "tool.<rest>".
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}

// History returns up to limit most recent events, newest last, optionally
// filtered by exact event type ("" keeps all).
func (b *Bus) History(eventType string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > b.historyLen {
		limit = b.historyLen
	}
	out := make([]Event, 0, limit)
	for i := 0; i < b.historyLen; i++ {
		idx := (b.historyHead - b.historyLen + i + b.historySize*2) % b.historySize
		ev := b.history[idx]
		if eventType != "" && ev.Type != eventType {
			continue
		}
		out = append(out, ev)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

var (
	defaultBusOnce sync.Once
	defaultBus     *Bus
)

// DefaultBus returns the lazily initialized process-wide bus.
func DefaultBus() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = NewBus(0)
	})
	return defaultBus
}

// ResetDefaultBus replaces the process-wide bus. Test-only.
func ResetDefaultBus() {
	defaultBusOnce = sync.Once{}
	defaultBus = nil
}
