package compose

import (
	"fmt"
	"strings"

	"github.com/bantz-ai/bantz/internal/tools"
)

// ExtractReferences numbers the entities found in tool results so follow-up
// turns can resolve anaphora ("ikincisini sil" → #2). Events and mail items
// are labelled by title/subject plus their start time when present.
func ExtractReferences(results []tools.ToolResult) map[int]string {
	refs := map[int]string{}
	n := 0
	add := func(label string) {
		label = strings.TrimSpace(label)
		if label == "" || n >= 20 {
			return
		}
		n++
		refs[n] = label
	}
	for _, r := range results {
		if r.Status != "ok" {
			continue
		}
		data, ok := r.Result.(map[string]any)
		if !ok {
			continue
		}
		if events, ok := data["events"].([]any); ok {
			for _, ev := range events {
				add(entityLabel(ev))
			}
			continue
		}
		if items, ok := data["items"].([]any); ok {
			for _, item := range items {
				add(entityLabel(item))
			}
			continue
		}
		add(entityLabel(data))
	}
	if len(refs) == 0 {
		return nil
	}
	return refs
}

func entityLabel(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	title := firstString(m, "summary", "title", "subject", "name")
	if title == "" {
		return ""
	}
	if start := firstString(m, "start", "start_time", "date"); start != "" {
		return fmt.Sprintf("%s (%s)", title, start)
	}
	return title
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
