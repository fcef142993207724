package gate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLimiterWindow(t *testing.T) {
	l := NewLimiter(3, 60)
	now := time.Now()
	l.nowFn = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Acquire() {
			t.Fatalf("acquire %d denied with room in the window", i)
		}
	}
	if l.Acquire() {
		t.Error("acquire succeeded on a full window")
	}
	if l.Check() {
		t.Error("check reports room on a full window")
	}

	// Slots free up once their timestamps age out of the window.
	now = now.Add(61 * time.Second)
	if !l.Acquire() {
		t.Error("acquire denied after the window elapsed")
	}
	if got := l.Stats().Used; got != 1 {
		t.Errorf("used = %d after sweep, want 1", got)
	}
}

func TestLimiterRelease(t *testing.T) {
	l := NewLimiter(1, 60)
	if !l.Acquire() {
		t.Fatal("first acquire denied")
	}
	if l.Acquire() {
		t.Fatal("second acquire succeeded at capacity 1")
	}
	l.Release()
	if !l.Acquire() {
		t.Error("acquire denied after release")
	}
	// Release on an empty window must not panic.
	l.Reset()
	l.Release()
}

func newTestPolicy(mode Mode, max int) *Policy {
	return NewPolicy(mode, NewLimiter(max, 60), zerolog.Nop())
}

func TestDecideSmalltalkStaysFast(t *testing.T) {
	p := newTestPolicy(ModeAuto, 30)
	d := p.Decide("günaydın, nasılsın?", nil, false)
	if d.Outcome != UseFast {
		t.Errorf("outcome = %v (%s), want USE_FAST", d.Outcome, d.Reason)
	}
	if used := p.Limiter.Stats().Used; used != 0 {
		t.Errorf("smalltalk consumed %d limiter slots", used)
	}
}

func TestDecideWritingHeavyUsesQuality(t *testing.T) {
	p := newTestPolicy(ModeAuto, 30)
	d := p.Decide("Hocaya resmi bir e-posta yaz, dilekçe formatında", nil, false)
	if d.Outcome != UseQuality {
		t.Errorf("outcome = %v (%s), want USE_QUALITY", d.Outcome, d.Reason)
	}
	// Writing alone crosses the component threshold while the total score
	// stays below the quality cutoff.
	if d.Reason != "component_threshold_exceeded" {
		t.Errorf("reason = %q, want component_threshold_exceeded", d.Reason)
	}
	if used := p.Limiter.Stats().Used; used != 1 {
		t.Errorf("limiter used = %d, want 1", used)
	}
	if d.Factors.Writing < 4 {
		t.Errorf("writing factor = %v, want >= 4", d.Factors.Writing)
	}
}

func TestDecideAutoDegradesWhenRateLimited(t *testing.T) {
	p := newTestPolicy(ModeAuto, 1)
	if !p.Limiter.Acquire() {
		t.Fatal("priming acquire failed")
	}
	d := p.Decide("Hocaya resmi bir e-posta yaz, dilekçe formatında", nil, false)
	if d.Outcome != UseFast {
		t.Errorf("outcome = %v, want USE_FAST degradation", d.Outcome)
	}
	if d.Reason != "quality_rate_limited_fallback" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestDecideModeNever(t *testing.T) {
	p := newTestPolicy(ModeNever, 30)
	d := p.Decide("Hocaya resmi bir e-posta yaz, dilekçe formatında", nil, false)
	if d.Outcome != UseFast || d.Reason != "mode_never" {
		t.Errorf("decision = %v (%s)", d.Outcome, d.Reason)
	}
}

func TestDecideModeAlways(t *testing.T) {
	p := newTestPolicy(ModeAlways, 1)
	if d := p.Decide("merhaba", nil, false); d.Outcome != UseQuality {
		t.Errorf("first decision = %v, want USE_QUALITY", d.Outcome)
	}
	// Always mode blocks instead of degrading when the window is full.
	if d := p.Decide("merhaba", nil, false); d.Outcome != Blocked || d.Reason != "blocked" {
		t.Errorf("second decision = %v (%s)", d.Outcome, d.Reason)
	}
}

func TestDecidePatterns(t *testing.T) {
	p := newTestPolicy(ModeAuto, 1)
	p.SetPatterns("kısa cevap", "resmi yazı, dilekçe")

	// Bypass beats everything, including a writing-heavy utterance.
	d := p.Decide("KISA CEVAP ver: hocaya e-posta yaz", nil, false)
	if d.Outcome != UseFast || d.Reason != "bypass_pattern_match" {
		t.Errorf("bypass decision = %v (%s)", d.Outcome, d.Reason)
	}

	d = p.Decide("bana bir dilekçe hazırla", nil, false)
	if d.Outcome != UseQuality || d.Reason != "forced_quality" {
		t.Errorf("force decision = %v (%s)", d.Outcome, d.Reason)
	}

	// Force patterns block on a full window rather than degrade.
	d = p.Decide("bana bir dilekçe hazırla", nil, false)
	if d.Outcome != Blocked || d.Reason != "blocked" {
		t.Errorf("force rate-limited decision = %v (%s)", d.Outcome, d.Reason)
	}
}
