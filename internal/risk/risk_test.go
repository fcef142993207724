package risk

import (
	"strings"
	"testing"
)

func TestDestructiveAlwaysRequiresConfirmation(t *testing.T) {
	r := NewRegistry()
	for _, name := range r.ToolsByRisk(Destructive) {
		for _, llmFlag := range []bool{true, false} {
			if !r.RequiresConfirmation(name, llmFlag) {
				t.Errorf("RequiresConfirmation(%s, %v) = false, want true", name, llmFlag)
			}
		}
	}
}

func TestModerateDefersToLLM(t *testing.T) {
	r := NewRegistry()
	if r.RequiresConfirmation("calendar.create_event", false) {
		t.Error("moderate tool required confirmation without the LLM flag")
	}
	if !r.RequiresConfirmation("calendar.create_event", true) {
		t.Error("moderate tool ignored the LLM flag")
	}
}

func TestUnknownToolDefaultsModerate(t *testing.T) {
	r := NewRegistry()
	if got := r.Get("made.up_tool"); got != Moderate {
		t.Errorf("unknown tool risk = %v, want moderate", got)
	}
}

func TestConfirmationPromptInterpolatesSubject(t *testing.T) {
	r := NewRegistry()
	prompt := r.ConfirmationPrompt("calendar.delete_event", map[string]any{"event_id": "evt123"})
	if prompt == "" {
		t.Fatal("empty prompt")
	}
	if !strings.Contains(prompt, "evt123") {
		t.Errorf("prompt %q does not name the event", prompt)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Answer
	}{
		{"evet", Affirmative},
		{"Tamam", Affirmative},
		{"e", Affirmative},
		{"olur ekle", Affirmative},
		{"hayır", Negative},
		{"iptal et", Negative},
		{"vazgeç", Negative},
		{"yarın hava nasıl olacak acaba bilmiyorum", Unrelated},
		{"toplantıyı perşembeye al", Unrelated},
		// Negative wins when both appear.
		{"evet ama iptal", Negative},
		// Affirmative words embedded in longer tokens do not count.
		{"eklemeyi deneyelim mi", Unrelated},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
