// Package profile parses the user's Markdown profile into the stable facts
// and preferences the context builder injects per turn.
package profile

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/bantz-ai/bantz/internal/budget"
)

// Profile is the distilled user profile. It intentionally keeps only the
// fields the context builder needs.
type Profile struct {
	Name        string
	Facts       []string
	Preferences []string
	// LongTerm holds long-term memory bullets injected separately from the
	// stable facts.
	LongTerm []string
	// Raw is the original input for traceability if needed downstream.
	Raw string
}

var (
	headingRe = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*$`)
	bulletRe  = regexp.MustCompile(`^\s*[-*+]\s+(.+?)\s*$`)
)

// nameLine matches "İsim: Deniz" style lines. The key is compared after
// Turkish-aware lowercasing; regexp (?i) cannot fold İ (U+0130) to i.
func nameLine(line string) (string, bool) {
	idx := strings.IndexAny(line, ":-")
	if idx <= 0 {
		return "", false
	}
	switch budget.NormalizeTurkish(line[:idx]) {
	case "isim", "ad", "name":
	default:
		return "", false
	}
	value := strings.TrimSpace(line[idx+1:])
	if value == "" {
		return "", false
	}
	return value, true
}

// Parse reads a Markdown profile. The parser is deliberately conservative
// and deterministic: a "Name:" line sets the name, bullets accumulate under
// the most recent heading, and headings select which list they feed.
func Parse(input string) Profile {
	p := Profile{Raw: input}
	section := "facts"

	sc := bufio.NewScanner(strings.NewReader(input))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); len(m) == 2 {
			section = classifyHeading(m[1])
			continue
		}
		if p.Name == "" {
			if name, ok := nameLine(line); ok {
				p.Name = name
				continue
			}
		}
		if m := bulletRe.FindStringSubmatch(line); len(m) == 2 {
			item := strings.TrimSpace(m[1])
			switch section {
			case "preferences":
				p.Preferences = append(p.Preferences, item)
			case "longterm":
				p.LongTerm = append(p.LongTerm, item)
			default:
				p.Facts = append(p.Facts, item)
			}
		}
	}
	return p
}

func classifyHeading(h string) string {
	lower := strings.ToLower(h)
	switch {
	case strings.Contains(lower, "tercih"), strings.Contains(lower, "preference"):
		return "preferences"
	case strings.Contains(lower, "hafıza"), strings.Contains(lower, "memory"),
		strings.Contains(lower, "not"):
		return "longterm"
	default:
		return "facts"
	}
}

// Load parses the profile file at path. A missing file yields an empty
// profile without error; the assistant works fine without one.
func Load(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Profile{}, nil
		}
		return Profile{}, err
	}
	return Parse(string(b)), nil
}

// LoadPersonality reads the personality block file verbatim, trimmed. A
// missing file yields the built-in default block.
func LoadPersonality(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPersonality, nil
		}
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return DefaultPersonality, nil
	}
	return s, nil
}

// DefaultPersonality is the built-in assistant persona. {name} is replaced
// with the current user name when known.
const DefaultPersonality = `Sen kibar, yardımsever bir kişisel asistansın. {name} hitabında "efendim" kullanırsın. Kısa, net ve yalnızca Türkçe cevap verirsin.`

// RenderPersonality interpolates the user name into a personality block.
func RenderPersonality(block, userName string) string {
	if userName == "" {
		userName = "kullanıcı"
	}
	return strings.ReplaceAll(block, "{name}", userName)
}
