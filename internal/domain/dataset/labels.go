package dataset

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

var dashReplacer = strings.NewReplacer(
	"—", "-",
	"–", "-",
	"－", "-",
	"＿", "_",
)

// NormalizePointLabel folds a point label to its comparison form: full-width
// characters become half-width, dash variants become "-", letters are
// lowercased and whitespace is removed.
func NormalizePointLabel(label string) string {
	s := width.Fold.String(strings.TrimSpace(label))
	s = dashReplacer.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// NormalizePointToken is NormalizePointLabel with the "采样点", "点位" and "点"
// markers removed.
func NormalizePointToken(raw string) string {
	s := NormalizePointLabel(raw)
	s = strings.ReplaceAll(s, "采样点", "")
	s = strings.ReplaceAll(s, "点位", "")
	return strings.ReplaceAll(s, "点", "")
}

// ParseSiteAndDepth splits a "site-depth" label. Either part may be nil.
func ParseSiteAndDepth(label string) (*string, *float64) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.SplitN(trimmed, "-", 2)
	var site *string
	if s := strings.TrimSpace(parts[0]); s != "" {
		site = &s
	}
	var depth *float64
	if len(parts) == 2 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil && !math.IsInf(v, 0) && !math.IsNaN(v) {
			depth = &v
		}
	}
	return site, depth
}

// ResolveSiteAndDepth prefers the fixed values and fills the gaps from the
// label.
func ResolveSiteAndDepth(label string, site *string, depthM *float64) (*string, *float64) {
	var fixedSite *string
	if site != nil && strings.TrimSpace(*site) != "" {
		s := strings.TrimSpace(*site)
		fixedSite = &s
	}
	var fixedDepth *float64
	if depthM != nil && !math.IsInf(*depthM, 0) && !math.IsNaN(*depthM) {
		fixedDepth = cloneFloat(depthM)
	}
	if fixedSite != nil && fixedDepth != nil {
		return fixedSite, fixedDepth
	}
	parsedSite, parsedDepth := ParseSiteAndDepth(label)
	if fixedSite == nil {
		fixedSite = parsedSite
	}
	if fixedDepth == nil {
		fixedDepth = parsedDepth
	}
	return fixedSite, fixedDepth
}

// Lvl1Order lists the four top-level groups in display order.
var Lvl1Order = []string{"原生动物", "轮虫类", "枝角类", "桡足类"}

var lvl1Aliases = map[string]string{
	"轮虫":    "轮虫类",
	"轮虫类":   "轮虫类",
	"桡足":    "桡足类",
	"桡足类":   "桡足类",
	"枝角":    "枝角类",
	"枝角类":   "枝角类",
	"原生动物":  "原生动物",
	"原生动物类": "原生动物",
}

// NormalizeLvl1 maps common spellings of a top-level group to its canonical
// name. Unknown values are returned trimmed.
func NormalizeLvl1(v string) string {
	key := strings.TrimSpace(v)
	if key == "" {
		return ""
	}
	if c, ok := lvl1Aliases[key]; ok {
		return c
	}
	return key
}
