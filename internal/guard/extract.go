package guard

import (
	"regexp"
	"strconv"
	"strings"
)

// Facts holds the normalized numeric/temporal tokens extracted from one
// text, keyed per category.
type Facts struct {
	Numbers    map[string]struct{}
	Times      map[string]struct{}
	Dates      map[string]struct{}
	Currencies map[string]struct{}
	Percents   map[string]struct{}
}

func newFacts() Facts {
	return Facts{
		Numbers:    map[string]struct{}{},
		Times:      map[string]struct{}{},
		Dates:      map[string]struct{}{},
		Currencies: map[string]struct{}{},
		Percents:   map[string]struct{}{},
	}
}

func (f Facts) merge(other Facts) {
	for k := range other.Numbers {
		f.Numbers[k] = struct{}{}
	}
	for k := range other.Times {
		f.Times[k] = struct{}{}
	}
	for k := range other.Dates {
		f.Dates[k] = struct{}{}
	}
	for k := range other.Currencies {
		f.Currencies[k] = struct{}{}
	}
	for k := range other.Percents {
		f.Percents[k] = struct{}{}
	}
}

var (
	// 14:30, 14:30:00, 14.30, 9:05 am
	timeRe = regexp.MustCompile(`\b(\d{1,2})[:.](\d{2})(?::(\d{2}))?(?:\s*([ap]m))?\b`)
	// 2026-02-01 | 1/2/2026 | 01.02.2026 | 1/2/26
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{2,4})\b`)
	// 120 TL, 99,90 lira, $15, €20, 15 dolar
	currencyRe = regexp.MustCompile(`(?i)(?:([$€₺])\s*(\d+(?:[.,]\d+)?))|(?:(\d+(?:[.,]\d+)?)\s*(tl|lira|dolar|euro|avro|[$€₺]))`)
	// %50, 50%, %12,5
	percentRe = regexp.MustCompile(`(?:%\s*(\d+(?:[.,]\d+)?))|(?:(\d+(?:[.,]\d+)?)\s*%)`)
	numberRe  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	// "1. madde" style list markers at line start
	listMarkerRe = regexp.MustCompile(`(?m)^\s*\d{1,2}[.)]\s`)
)

// turkishNumberWords maps number words to their normalized digit form.
// Candidate-side words are treated as pass-throughs of these digits.
var turkishNumberWords = map[string]string{
	"bir": "1", "iki": "2", "üç": "3", "dört": "4", "beş": "5",
	"altı": "6", "yedi": "7", "sekiz": "8", "dokuz": "9", "on": "10",
	"yarım": "0.5", "buçuk": "0.5",
}

// ExtractFacts pulls all numeric/temporal/currency/percentage tokens from
// text. Times, dates, currencies and percentages are extracted first and
// their digits masked so plain-number extraction does not double count.
// Normalization is shared across categories: comma decimals become dots,
// leading zeros on plain integers are dropped, time components are
// zero-padded, and dates are re-emitted in slash form except ISO, which is
// preserved.
func ExtractFacts(text string) Facts {
	f := newFacts()
	masked := text

	// Order matters: date and money spans contain digit pairs that would
	// otherwise parse as times or bare numbers.
	masked = maskMatches(masked, isoDateRe, func(m []string) bool {
		f.Dates[m[1]+"-"+m[2]+"-"+m[3]] = struct{}{}
		return true
	})
	masked = maskMatches(masked, slashDateRe, func(m []string) bool {
		d, ok := normalizeSlashDate(m[1], m[2], m[3])
		if !ok {
			return false
		}
		f.Dates[d] = struct{}{}
		return true
	})
	masked = maskMatches(masked, currencyRe, func(m []string) bool {
		var amount, unit string
		if m[1] != "" {
			unit, amount = m[1], m[2]
		} else {
			amount, unit = m[3], m[4]
		}
		f.Currencies[normalizeNumber(amount)+" "+normalizeCurrencyUnit(unit)] = struct{}{}
		return true
	})
	masked = maskMatches(masked, percentRe, func(m []string) bool {
		v := m[1]
		if v == "" {
			v = m[2]
		}
		f.Percents[normalizeNumber(v)] = struct{}{}
		return true
	})
	masked = maskMatches(masked, timeRe, func(m []string) bool {
		t, ok := normalizeTime(m[1], m[2], m[3], m[4])
		if !ok {
			return false
		}
		f.Times[t] = struct{}{}
		return true
	})

	// Strip list markers so "1. Toplantı" does not contribute a bare 1.
	masked = listMarkerRe.ReplaceAllString(masked, " ")

	for _, m := range numberRe.FindAllString(masked, -1) {
		f.Numbers[normalizeNumber(m)] = struct{}{}
	}
	for word, digit := range turkishNumberWords {
		if containsWord(text, word) {
			f.Numbers[digit] = struct{}{}
		}
	}
	return f
}

// maskMatches records every match through record and blanks the spans the
// callback accepted so later extractors skip them.
func maskMatches(text string, re *regexp.Regexp, record func(m []string) bool) string {
	idxs := re.FindAllStringSubmatchIndex(text, -1)
	if len(idxs) == 0 {
		return text
	}
	out := []byte(text)
	for _, loc := range idxs {
		groups := make([]string, len(loc)/2)
		for g := 0; g < len(loc)/2; g++ {
			if loc[2*g] >= 0 {
				groups[g] = text[loc[2*g]:loc[2*g+1]]
			}
		}
		if !record(groups) {
			continue
		}
		for i := loc[0]; i < loc[1]; i++ {
			out[i] = ' '
		}
	}
	return string(out)
}

func normalizeTime(h, m, s, ampm string) (string, bool) {
	hour, _ := strconv.Atoi(h)
	minute, _ := strconv.Atoi(m)
	if hour > 23 || minute > 59 {
		return "", false
	}
	if strings.EqualFold(ampm, "pm") && hour < 12 {
		hour += 12
	}
	if strings.EqualFold(ampm, "am") && hour == 12 {
		hour = 0
	}
	out := pad2(hour) + ":" + m
	if s != "" {
		out += ":" + s
	}
	return out, true
}

func normalizeSlashDate(d, m, y string) (string, bool) {
	day, month := atoi(d), atoi(m)
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return "", false
	}
	if len(y) == 2 {
		y = "20" + y
	}
	return strconv.Itoa(day) + "/" + strconv.Itoa(month) + "/" + y, true
}

// normalizeNumber converts comma decimals to dot form and drops leading
// zeros from plain integers.
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	for len(s) > 1 && s[0] == '0' && s[1] != '.' {
		s = s[1:]
	}
	if s == "" {
		return "0"
	}
	return s
}

func normalizeCurrencyUnit(u string) string {
	switch strings.ToLower(strings.TrimSpace(u)) {
	case "tl", "lira", "₺":
		return "TL"
	case "$", "dolar":
		return "USD"
	case "€", "euro", "avro":
		return "EUR"
	default:
		return strings.ToUpper(u)
	}
}

func containsWord(text, word string) bool {
	lower := strings.ToLower(text)
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isLetter(rune(lower[start-1]))
		afterOK := end >= len(lower) || !isLetterAt(lower, end)
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isLetterAt(s string, i int) bool {
	r := []rune(s[i:])
	if len(r) == 0 {
		return false
	}
	return isLetter(r[0])
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r >= 0x80
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
