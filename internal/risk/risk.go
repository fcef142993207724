// Package risk classifies tools and enforces the confirmation firewall:
// destructive tools always require explicit user assent, no matter what the
// model claimed about confirmation.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bantz-ai/bantz/internal/budget"
)

// Level is the risk classification of a tool.
type Level string

const (
	Safe        Level = "safe"
	Moderate    Level = "moderate"
	Destructive Level = "destructive"
)

// Registry maps tool names to risk levels. It is read-mostly: populated at
// startup, then only consulted.
type Registry struct {
	mu      sync.RWMutex
	risks   map[string]Level
	prompts map[string]string
}

// NewRegistry returns a registry preloaded with the built-in tool set.
func NewRegistry() *Registry {
	r := &Registry{
		risks:   make(map[string]Level),
		prompts: make(map[string]string),
	}
	for name, lvl := range builtinRisks {
		r.risks[name] = lvl
	}
	for name, tmpl := range builtinPrompts {
		r.prompts[name] = tmpl
	}
	return r
}

var builtinRisks = map[string]Level{
	"calendar.create_event": Moderate,
	"calendar.modify_event": Moderate,
	"calendar.delete_event": Destructive,
	"calendar.query":        Safe,
	"gmail.search":          Safe,
	"gmail.read":            Safe,
	"gmail.send":            Destructive,
	"gmail.draft":           Moderate,
	"web.search":            Safe,
	"fs.read":               Safe,
	"fs.write":              Moderate,
	"fs.delete":             Destructive,
	"system.status":         Safe,
	"system.shutdown":       Destructive,
}

// builtinPrompts are Turkish confirmation templates; %s receives the object
// being acted upon (event title, recipient, path).
var builtinPrompts = map[string]string{
	"calendar.delete_event": "%s etkinliğini silmek üzereyim. Onaylıyor musunuz efendim?",
	"calendar.create_event": "%s etkinliğini takvime eklememi onaylıyor musunuz efendim?",
	"calendar.modify_event": "%s etkinliğini değiştirmemi onaylıyor musunuz efendim?",
	"gmail.send":            "%s alıcısına e-postayı göndermemi onaylıyor musunuz efendim?",
	"fs.delete":             "%s dosyasını silmek üzereyim. Onaylıyor musunuz efendim?",
	"fs.write":              "%s dosyasına yazmamı onaylıyor musunuz efendim?",
	"system.shutdown":       "Sistemi kapatmak üzereyim. Onaylıyor musunuz efendim?",
}

// Register adds or replaces a tool's risk level and optional prompt
// template.
func (r *Registry) Register(name string, level Level, promptTemplate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.risks[name] = level
	if promptTemplate != "" {
		r.prompts[name] = promptTemplate
	}
}

// Get returns the risk level for a tool. Unknown tools default to moderate:
// an unclassified side effect is never assumed safe.
func (r *Registry) Get(name string) Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lvl, ok := r.risks[name]; ok {
		return lvl
	}
	return Moderate
}

// RequiresConfirmation is the firewall rule: destructive tools always need
// confirmation regardless of what the LLM requested; everything else defers
// to the LLM's judgement.
func (r *Registry) RequiresConfirmation(name string, llmRequested bool) bool {
	if r.Get(name) == Destructive {
		return true
	}
	return llmRequested
}

// ConfirmationPrompt renders the localized confirmation question for a tool,
// interpolating the most descriptive parameter available.
func (r *Registry) ConfirmationPrompt(name string, params map[string]any) string {
	r.mu.RLock()
	tmpl, ok := r.prompts[name]
	r.mu.RUnlock()
	subject := describeParams(params)
	if !ok {
		return fmt.Sprintf("%s işlemini (%s) onaylıyor musunuz efendim?", name, subject)
	}
	return fmt.Sprintf(tmpl, subject)
}

// ToolsByRisk returns the sorted tool names registered at the given level.
func (r *Registry) ToolsByRisk(level Level) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, lvl := range r.risks {
		if lvl == level {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// describeParams picks the most user-meaningful value out of the slot map.
func describeParams(params map[string]any) string {
	for _, key := range []string{"title", "summary", "event_title", "subject", "to", "path", "event_id", "query"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return "bu işlem"
}

// Confirmation answer classification for pending actions.
type Answer int

const (
	Unrelated Answer = iota
	Affirmative
	Negative
)

// Lexicons are compared against whole normalized tokens, never substrings;
// "evetleyemem" must not read as consent. The bare "e" stays in the list
// because it is common spoken Turkish assent, but only as a full token.
var (
	affirmativeWords = []string{"evet", "tamam", "ok", "okey", "olur", "ekle", "e", "kabul", "onayla", "onaylıyorum", "aynen", "yap"}
	negativeWords    = []string{"hayır", "iptal", "vazgeç", "yok", "reddet", "istemiyorum", "olmaz", "dur", "yapma"}
)

// Classify reads a user utterance as an answer to a pending confirmation.
func Classify(input string) Answer {
	tokens := strings.Fields(budget.NormalizeTurkish(strings.TrimRight(strings.TrimSpace(input), ".!?,")))
	if len(tokens) == 0 || len(tokens) > 4 {
		// Long utterances are treated as a new request, not an answer.
		return Unrelated
	}
	for _, t := range tokens {
		t = strings.Trim(t, ".,!?")
		for _, w := range negativeWords {
			if t == w {
				return Negative
			}
		}
	}
	for _, t := range tokens {
		t = strings.Trim(t, ".,!?")
		for _, w := range affirmativeWords {
			if t == w {
				return Affirmative
			}
		}
	}
	return Unrelated
}
