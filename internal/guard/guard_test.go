package guard

import (
	"testing"
)

func TestExtractFactsCategories(t *testing.T) {
	facts := ExtractFacts("Toplantı 14:30'da, 2026-02-01 tarihinde, %50 indirimle 250 TL, 3 kişi")
	if _, ok := facts.Times["14:30"]; !ok {
		t.Errorf("times = %v, want 14:30", facts.Times)
	}
	if _, ok := facts.Dates["2026-02-01"]; !ok {
		t.Errorf("dates = %v, want 2026-02-01", facts.Dates)
	}
	if _, ok := facts.Percents["50"]; !ok {
		t.Errorf("percents = %v, want 50", facts.Percents)
	}
	if len(facts.Currencies) == 0 {
		t.Errorf("currencies empty, want a 250 TL entry")
	}
	if _, ok := facts.Numbers["3"]; !ok {
		t.Errorf("numbers = %v, want 3", facts.Numbers)
	}
}

func TestExtractFactsNormalization(t *testing.T) {
	// Dot-form time normalizes to colon; comma decimal to dot.
	facts := ExtractFacts("Saat 9.05 gibi, fiyat 12,5")
	if _, ok := facts.Times["09:05"]; !ok {
		t.Errorf("times = %v, want 09:05", facts.Times)
	}
	if _, ok := facts.Numbers["12.5"]; !ok {
		t.Errorf("numbers = %v, want 12.5", facts.Numbers)
	}
}

func TestGuardScenarioNewTime(t *testing.T) {
	g := &Guard{}
	res := g.Validate("", "", "", "Meeting at 14:30 with 5 people", "Toplantı 16:00'da 5 kişiyle")
	if res.Passed {
		t.Fatal("expected guard failure for invented time")
	}
	found := false
	for _, v := range res.Violations {
		if v.Type == NewTime && v.Value == "16:00" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want NEW_TIME 16:00", res.Violations)
	}
}

func TestGuardPercentViolationBareValue(t *testing.T) {
	g := &Guard{}
	res := g.Validate("", "", "", "indirim %50", "%30 indirim var efendim")
	if res.Passed {
		t.Fatal("expected guard failure for invented percentage")
	}
	// Violation values carry the bare normalized number, no percent sign.
	found := false
	for _, v := range res.Violations {
		if v.Type == NewPercent && v.Value == "30" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want NEW_PERCENT 30", res.Violations)
	}
}

func TestGuardPassesGroundedReply(t *testing.T) {
	g := &Guard{}
	res := g.Validate("yarın 14:30 toplantı ekle", "", "", "", "Tamam efendim, yarın 14:30 için toplantıyı ekledim.")
	if !res.Passed {
		t.Errorf("grounded reply rejected: %v", res.Violations)
	}
}

func TestGuardNumberWordsPassThrough(t *testing.T) {
	// "iki" in the candidate counts as the digit 2 present in the sources.
	g := &Guard{}
	res := g.Validate("2 toplantı var mı", "", "", "", "Evet efendim, iki toplantınız var.")
	if !res.Passed {
		t.Errorf("number-word candidate rejected: %v", res.Violations)
	}
}

func TestGuardMaxViolations(t *testing.T) {
	g := &Guard{MaxViolations: 1}
	res := g.Validate("", "", "", "", "Saat 16:00")
	if !res.Passed {
		t.Errorf("one violation should pass with MaxViolations=1: %v", res.Violations)
	}
}

func TestGuardDateDigitsNotDoubleCounted(t *testing.T) {
	// Digits inside a date must not surface as standalone numbers.
	facts := ExtractFacts("01/02/2026 tarihli")
	if len(facts.Dates) == 0 {
		t.Fatal("date not extracted")
	}
	if _, ok := facts.Numbers["2026"]; ok {
		t.Errorf("date year leaked into numbers: %v", facts.Numbers)
	}
}
