package batchedit

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

// MaxNumeral is the upper bound of ParseNumeral.
const MaxNumeral = 9999

var cjkDigits = map[rune]int{
	'零': 0,
	'一': 1,
	'二': 2,
	'两': 2,
	'三': 3,
	'四': 4,
	'五': 5,
	'六': 6,
	'七': 7,
	'八': 8,
	'九': 9,
}

var cjkUnits = map[rune]int{
	'十': 10,
	'百': 100,
	'千': 1000,
}

// ParseNumeral reads Arabic or Chinese numeral text ("12", "十二", "两百") as
// an integer in [0, MaxNumeral]. Unrecognized input yields 0.
func ParseNumeral(input string) int {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return clampNumeral(n)
	}

	result, current := 0, 0
	hasAny := false
	for _, r := range s {
		if unit, ok := cjkUnits[r]; ok {
			hasAny = true
			if current == 0 {
				current = 1
			}
			result += current * unit
			current = 0
			continue
		}
		if d, ok := cjkDigits[r]; ok {
			hasAny = true
			current = current*10 + d
		}
	}
	if !hasAny {
		return 0
	}
	return clampNumeral(result + current)
}

func clampNumeral(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxNumeral {
		return MaxNumeral
	}
	return n
}

// CountValue is a count rounded from a decimal input.
type CountValue struct {
	Value   int
	Rounded bool
}

// RoundCount rounds v half-up to an integer. Rounded is set when the input
// differed from the result by at least 0.01. Nil and non-finite inputs give
// false.
func RoundCount(v *float64) (CountValue, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return CountValue{}, false
	}
	r := math.Floor(*v + 0.5)
	if r > math.MaxInt32 {
		r = math.MaxInt32
	}
	if r < math.MinInt32 {
		r = math.MinInt32
	}
	return CountValue{Value: int(r), Rounded: math.Abs(*v-r) >= 0.01}, true
}

var pointNumberPattern = regexp.MustCompile(`[\d一二三四五六七八九十百千两零]+`)

// PointNumberCandidates extracts every positive number written in raw.
func PointNumberCandidates(raw string) []int {
	var out []int
	for _, m := range pointNumberPattern.FindAllString(raw, -1) {
		if n := ParseNumeral(m); n > 0 {
			out = append(out, n)
		}
	}
	return out
}

// SuggestPointLabel derives the label a point token most likely names:
// structured labels ("1-0.3") are kept as cleaned, otherwise the single
// number mentioned wins. Nil when the token is empty or names several
// numbers.
func SuggestPointLabel(raw string) *string {
	cleaned := dataset.NormalizePointToken(raw)
	if cleaned == "" {
		return nil
	}
	if strings.ContainsAny(cleaned, "-._") {
		return &cleaned
	}
	candidates := PointNumberCandidates(raw)
	if len(candidates) == 0 {
		return &cleaned
	}
	first := candidates[0]
	for _, c := range candidates[1:] {
		if c != first {
			return nil
		}
	}
	s := strconv.Itoa(first)
	return &s
}
