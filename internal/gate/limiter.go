// Package gate decides per turn whether the quality finalizer tier runs,
// combining a text-feature score with mode overrides, bypass/force patterns,
// and a sliding-window rate limit.
package gate

import (
	"sync"
	"time"
)

// Limiter defaults.
const (
	DefaultMaxRequests   = 30
	DefaultWindowSeconds = 60
)

// Limiter is a thread-safe sliding-window rate limiter over quality-tier
// calls. Acquire consumes a slot; Release returns the most recent one when a
// call fails before reaching the provider.
type Limiter struct {
	mu            sync.Mutex
	maxRequests   int
	windowSeconds int
	timestamps    []time.Time
	nowFn         func() time.Time
}

// NewLimiter creates a limiter; non-positive arguments take the defaults.
func NewLimiter(maxRequests, windowSeconds int) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Limiter{
		maxRequests:   maxRequests,
		windowSeconds: windowSeconds,
		nowFn:         time.Now,
	}
}

func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-time.Duration(l.windowSeconds) * time.Second)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept
}

// Acquire takes a slot if the window has room.
func (l *Limiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	l.sweep(now)
	if len(l.timestamps) >= l.maxRequests {
		return false
	}
	l.timestamps = append(l.timestamps, now)
	return true
}

// Check reports whether an Acquire would currently succeed, without taking a
// slot.
func (l *Limiter) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.nowFn())
	return len(l.timestamps) < l.maxRequests
}

// Release returns the most recently acquired slot. Safe on an empty window.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.timestamps); n > 0 {
		l.timestamps = l.timestamps[:n-1]
	}
}

// Stats describes the current window.
type Stats struct {
	Used          int `json:"used"`
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
}

// Stats returns the live slot usage after sweeping expired entries.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.nowFn())
	return Stats{Used: len(l.timestamps), MaxRequests: l.maxRequests, WindowSeconds: l.windowSeconds}
}

// Reset clears the window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = nil
}
