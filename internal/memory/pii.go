package memory

import "regexp"

// PII masking patterns. The filter is applied before any text reaches disk;
// masked text is what the store, the JSONL backups, and the prompt blocks
// all see.
var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// Turkish national id: exactly 11 digits not embedded in a longer run.
	tcknRe = regexp.MustCompile(`\b\d{11}\b`)
	// Phone-like runs: optional +90/0 prefix then 10 digits with optional
	// separators, e.g. 0532 123 45 67 or +90-532-1234567.
	phoneRe = regexp.MustCompile(`(?:\+90[\s\-]?|0)?5\d{2}[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}\b`)
)

// MaskPII replaces common personally identifying patterns with typed
// placeholders. Email first so its digits never feed the phone pattern.
func MaskPII(s string) string {
	s = emailRe.ReplaceAllString(s, "[email]")
	s = tcknRe.ReplaceAllString(s, "[tckn]")
	s = phoneRe.ReplaceAllString(s, "[telefon]")
	return s
}
