package codec

import (
	"encoding/json"
	"strings"
)

// routeKeywords maps common model inventions to the closed route set. Keys
// are matched after lowercasing.
var routeKeywords = map[string]string{
	"calendar": "calendar", "takvim": "calendar", "event": "calendar",
	"meeting": "calendar", "toplantı": "calendar", "randevu": "calendar",
	"schedule": "calendar", "create_meeting": "calendar", "etkinlik": "calendar",
	"gmail": "gmail", "mail": "gmail", "email": "gmail", "e-posta": "gmail",
	"eposta": "gmail", "posta": "gmail", "mesaj": "gmail",
	"smalltalk": "smalltalk", "chat": "smalltalk", "sohbet": "smalltalk",
	"chitchat": "smalltalk", "selam": "smalltalk", "greeting": "smalltalk",
	"system": "system", "sistem": "system", "settings": "system", "ayar": "system",
	"unknown": "unknown", "none": "unknown", "other": "unknown", "diğer": "unknown",
}

var intentKeywords = map[string]string{
	"create": "create", "add": "create", "ekle": "create", "oluştur": "create",
	"schedule": "create", "new": "create", "yeni": "create", "kur": "create",
	"modify": "modify", "update": "modify", "değiştir": "modify",
	"güncelle": "modify", "edit": "modify", "taşı": "modify", "reschedule": "modify",
	"cancel": "cancel", "delete": "cancel", "sil": "cancel", "iptal": "cancel",
	"kaldır": "cancel", "remove": "cancel",
	"query": "query", "list": "query", "göster": "query", "sorgula": "query",
	"listele": "query", "search": "query", "ara": "query", "bak": "query",
	"none": "none", "yok": "none",
}

const defaultConfidence = 0.5

// RepairEnums applies the deterministic keyword-to-enum maps, coerces
// stringly-typed fields, clamps confidence, and fills missing required
// fields with defaults. It returns a new map plus the list of repairs made.
func RepairEnums(m map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if allowedFields[k] {
			out[k] = v
		}
	}
	var flags []string
	if len(out) != len(m) {
		flags = append(flags, "dropped_extra_fields")
	}

	route, changed := repairEnum(out["route"], ValidRoutes, routeKeywords, "unknown")
	if changed {
		flags = append(flags, "route")
	}
	out["route"] = route

	intent, changed := repairEnum(out["calendar_intent"], ValidIntents, intentKeywords, "none")
	if changed {
		flags = append(flags, "calendar_intent")
	}
	out["calendar_intent"] = intent

	plan, changed := coerceToolPlan(out["tool_plan"])
	if changed {
		flags = append(flags, "tool_plan")
	}
	out["tool_plan"] = plan

	conf, changed := coerceConfidence(out["confidence"])
	if changed {
		flags = append(flags, "confidence")
	}
	out["confidence"] = conf

	if _, ok := out["slots"].(map[string]any); !ok {
		out["slots"] = map[string]any{}
	}
	if _, ok := out["assistant_reply"].(string); !ok {
		out["assistant_reply"] = ""
	}
	if rc, _ := out["requires_confirmation"].(bool); rc {
		if s, _ := out["confirmation_prompt"].(string); strings.TrimSpace(s) == "" {
			out["confirmation_prompt"] = "Bu işlemi onaylıyor musunuz efendim?"
			flags = append(flags, "confirmation_prompt")
		}
	}
	if au, _ := out["ask_user"].(bool); au {
		if s, _ := out["question"].(string); strings.TrimSpace(s) == "" {
			// A question-less ask_user is meaningless; drop the flag.
			out["ask_user"] = false
			flags = append(flags, "ask_user")
		}
	}
	return out, flags
}

// repairEnum resolves a raw value into the closed set: exact match first,
// then the keyword map, then fuzzy substring matching, finally the default.
func repairEnum(v any, valid []string, keywords map[string]string, def string) (string, bool) {
	raw, ok := v.(string)
	if !ok {
		return def, true
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	if contains(valid, s) {
		return s, s != raw
	}
	if mapped, ok := keywords[s]; ok {
		return mapped, true
	}
	for kw, mapped := range keywords {
		if strings.Contains(s, kw) || strings.Contains(kw, s) && len(s) >= 3 {
			return mapped, true
		}
	}
	return def, true
}

// coerceToolPlan accepts a list, a single tool name, a JSON-array string, or
// comma/newline separated names, and always yields a []any of strings.
func coerceToolPlan(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		out := make([]any, 0, len(t))
		changed := false
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				changed = true
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, changed
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return []any{}, true
		}
		if strings.HasPrefix(s, "[") {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				cleaned, _ := coerceToolPlan(arr)
				return cleaned, true
			}
		}
		sep := ","
		if strings.Contains(s, "\n") {
			sep = "\n"
		}
		out := []any{}
		for _, part := range strings.Split(s, sep) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	default:
		return []any{}, true
	}
}

// coerceConfidence clamps numeric confidence into [0,1]. Stringly values
// ("yüksek", "0,85") are not trusted as calibrated probabilities and map to
// the 0.5 default.
func coerceConfidence(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0, true
		}
		if t > 1 {
			return 1, true
		}
		return t, false
	default:
		return defaultConfidence, true
	}
}
