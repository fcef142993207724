package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// SummarizeResult renders a tool result as a bounded one-line preview for
// prompts and tool-call rows. Lists and event dicts show the first five
// entries plus a count; long strings are cut with an explicit marker; HTML
// in string values is reduced to its text.
func SummarizeResult(result any, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 500
	}
	s := renderValue(result, 0)
	return Truncate(s, maxChars)
}

const previewItems = 5

func renderValue(v any, depth int) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return cleanString(t)
	case []any:
		return renderList(t, depth)
	case map[string]any:
		// Results shaped {"events": [...]} preview like a bare list.
		if events, ok := t["events"].([]any); ok && len(t) <= 2 {
			return renderList(events, depth)
		}
		return renderMap(t, depth)
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func renderList(items []any, depth int) string {
	shown := items
	suffix := ""
	if len(items) > previewItems {
		shown = items[:previewItems]
		suffix = fmt.Sprintf(" … (toplam %d)", len(items))
	}
	parts := make([]string, 0, len(shown))
	for _, item := range shown {
		parts = append(parts, renderValue(item, depth+1))
	}
	return strings.Join(parts, "; ") + suffix
}

func renderMap(m map[string]any, depth int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+renderValue(m[k], depth+1))
	}
	return strings.Join(parts, ", ")
}

// cleanString strips markup and collapses whitespace. Handlers fetching web
// or mail content return HTML fragments; the preview keeps only their text.
func cleanString(s string) string {
	if strings.ContainsAny(s, "<>") && strings.Contains(s, "</") || strings.Contains(s, "/>") {
		s = stripHTML(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

func stripHTML(s string) string {
	node, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return sb.String()
}

// Truncate cuts s to at most maxChars runes, appending an explicit marker
// when content was dropped.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	const marker = "… [kısaltıldı]"
	keep := maxChars - len([]rune(marker))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + marker
}
