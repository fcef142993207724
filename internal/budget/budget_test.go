package budget

import "testing"

func TestEstimateTokensFromChars(t *testing.T) {
	cases := []struct {
		chars int
		want  int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{400, 100},
	}
	for _, tc := range cases {
		if got := EstimateTokensFromChars(tc.chars); got != tc.want {
			t.Errorf("EstimateTokensFromChars(%d) = %d, want %d", tc.chars, got, tc.want)
		}
	}
}

func TestNormalizeTurkish(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Toplantı   EKLE ", "toplantı ekle"},
		{"İSTANBUL", "istanbul"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeTurkish(tc.in); got != tc.want {
			t.Errorf("NormalizeTurkish(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestScoreTextWritingHeavy(t *testing.T) {
	s := ScoreText("Hocaya resmi bir e-posta yaz, dilekçe formatında", nil, false)
	if s.Writing < 4 {
		t.Errorf("writing = %v, want >= 4 for a formal writing request", s.Writing)
	}
}

func TestScoreTextDestructivePlan(t *testing.T) {
	s := ScoreText("toplantıyı sil", []string{"calendar.delete_event"}, true)
	if s.Risk < 3 {
		t.Errorf("risk = %v, want >= 3 for destructive tool + confirmation", s.Risk)
	}
}

func TestScoreTextSmalltalkLow(t *testing.T) {
	s := ScoreText("günaydın, nasılsın?", nil, false)
	if s.Complexity != 0 || s.Writing != 0 || s.Risk != 0 {
		t.Errorf("smalltalk scored %+v, want all zero", s)
	}
}
