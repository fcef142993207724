package budget

import "strings"

// TextScores holds the 0-5 feature factors used by the quality gate.
type TextScores struct {
	Complexity float64
	Writing    float64
	Risk       float64
}

// Keyword lists are matched against NormalizeTurkish(text). They stay small
// and curated; scoring is a coarse signal, not NLU.
var (
	complexityKeywords = []string{
		"önce", "sonra", "ardından", "hem", "ayrıca", "eğer", "karşılaştır",
		"planla", "adım adım", "sırayla", "birden fazla", "ve sonra",
		"özetle ve", "analiz", "detaylı",
	}
	writingKeywords = []string{
		"e-posta", "eposta", "mail", "yaz", "dilekçe", "resmi", "mektup",
		"rapor", "metin", "taslak", "kompozisyon", "başvuru", "özgeçmiş",
		"hocaya", "müdüre", "kurumsal",
	}
	riskKeywords = []string{
		"sil", "iptal", "kaldır", "temizle", "hepsini", "kalıcı", "gönder",
		"paylaş", "değiştir", "güncelle", "taşı",
	}
)

// destructiveTools are tool names whose presence in a plan raises the risk
// factor regardless of the utterance wording.
var destructiveTools = map[string]bool{
	"calendar.delete_event": true,
	"gmail.send":            true,
	"fs.delete":             true,
	"system.shutdown":       true,
}

// ScoreText derives the complexity/writing/risk factors for one utterance
// and its proposed tool plan. Each factor is clamped to [0, 5].
func ScoreText(text string, toolPlan []string, requiresConfirmation bool) TextScores {
	n := NormalizeTurkish(text)

	var s TextScores
	s.Complexity = keywordScore(n, complexityKeywords, 1.5)
	if len(toolPlan) > 1 {
		s.Complexity += float64(len(toolPlan)-1) * 1.0
	}
	// Long multi-clause requests plan like multi-step ones.
	if len([]rune(n)) > 160 {
		s.Complexity += 1.0
	}

	s.Writing = keywordScore(n, writingKeywords, 1.8)

	s.Risk = keywordScore(n, riskKeywords, 1.5)
	for _, t := range toolPlan {
		if destructiveTools[NormalizeTurkish(t)] {
			s.Risk += 2.0
		}
	}
	if requiresConfirmation {
		s.Risk += 1.0
	}

	s.Complexity = clamp05(s.Complexity)
	s.Writing = clamp05(s.Writing)
	s.Risk = clamp05(s.Risk)
	return s
}

func keywordScore(normalized string, keywords []string, perHit float64) float64 {
	score := 0.0
	for _, k := range keywords {
		if strings.Contains(normalized, k) {
			score += perHit
		}
	}
	return score
}

func clamp05(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}
