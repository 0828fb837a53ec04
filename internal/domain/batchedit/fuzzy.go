package batchedit

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Score bands used by the resolver.
const (
	AutoCorrectScore      = 0.95
	FuzzyPendingScore     = 0.85
	FuzzyHintScore        = 0.6
	ShortNamePendingScore = 0.72
	PointAutoScore        = 0.92
	PointPendingScore     = 0.82

	exactScore      = 1.0
	normalizedScore = 0.98
)

var nameSeparators = regexp.MustCompile(`[\s·•\-()（）【】\[\]{}，,。.;；:：'"]+`)

// NameCorrection is a raw token mapped to a canonical name with a confidence
// score in [0, 1].
type NameCorrection struct {
	Raw       string  `json:"raw"`
	Canonical string  `json:"canonical"`
	Score     float64 `json:"score"`
}

// NormalizeName is the comparison form of a species name: trimmed, lowercased
// and stripped of separators and punctuation.
func NormalizeName(name string) string {
	return nameSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "")
}

// Levenshtein returns the edit distance between a and b counted in runes,
// so a CJK character is one edit.
func Levenshtein(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// BestMatch picks the candidate closest to raw. A literal hit scores 1.0, a
// hit after NormalizeName 0.98, anything else 1 - distance/maxLen over the
// normalized forms. Ties keep the first candidate. Nil when raw normalizes to
// empty or no candidate scores above zero. No threshold is applied.
func BestMatch(raw string, candidates []string) *NameCorrection {
	q := strings.TrimSpace(raw)
	if q == "" {
		return nil
	}
	for _, c := range candidates {
		if c == q {
			return &NameCorrection{Raw: raw, Canonical: q, Score: exactScore}
		}
	}
	qn := NormalizeName(q)
	if qn == "" {
		return nil
	}
	qLen := len([]rune(qn))

	var best *NameCorrection
	bestScore := 0.0
	for _, c := range candidates {
		cn := NormalizeName(c)
		if cn == "" {
			continue
		}
		if cn == qn {
			return &NameCorrection{Raw: raw, Canonical: c, Score: normalizedScore}
		}
		maxLen := max(len([]rune(cn)), qLen, 1)
		score := 1.0 - float64(Levenshtein(qn, cn))/float64(maxLen)
		if score > bestScore {
			bestScore = score
			best = &NameCorrection{Raw: raw, Canonical: c, Score: score}
		}
	}
	return best
}
