package batchedit

import (
	"fmt"
	"strconv"
	"strings"
)

// Severity tags a preview line.
type Severity string

const (
	SeverityNormal Severity = "normal"
	SeverityWarn   Severity = "warn"
	SeverityError  Severity = "error"
)

// PreviewLine is one human-readable line of the simulation preview.
type PreviewLine struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

// PendingItem is an action that could not proceed for a recoverable reason.
type PendingItem struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// CorrectionKind names the namespace a correction belongs to.
type CorrectionKind string

const (
	CorrectionPoint   CorrectionKind = "point"
	CorrectionSpecies CorrectionKind = "species"
)

func (k CorrectionKind) label() string {
	if k == CorrectionSpecies {
		return "物种"
	}
	return "点位"
}

// PendingCorrection is a fuzzy match awaiting user approval. Score is nil
// for suggestions derived from label cleanup rather than scoring.
type PendingCorrection struct {
	Kind       CorrectionKind `json:"kind"`
	Raw        string         `json:"raw"`
	Suggestion string         `json:"suggestion"`
	Score      *float64       `json:"score,omitempty"`
	Reason     string         `json:"reason"`
}

func (c PendingCorrection) key() string {
	return string(c.Kind) + "\x00" + c.Raw + "\x00" + c.Suggestion
}

const (
	autoSummaryLimit    = 4
	pendingSummaryLimit = 3
	errorSummaryLimit   = 3
)

// report accumulates the user-facing outcome of a simulation.
type report struct {
	lines       []PreviewLine
	pending     []PendingItem
	corrections []PendingCorrection
	seen        map[string]struct{}
	applied     []NameCorrection
}

func newReport() *report {
	return &report{seen: make(map[string]struct{})}
}

func (r *report) add(text string, sev Severity) {
	r.lines = append(r.lines, PreviewLine{Text: text, Severity: sev})
}

func (r *report) addPending(text, reason string) {
	r.pending = append(r.pending, PendingItem{Text: text, Reason: reason})
	r.add("待确认："+text+"（"+reason+"）", SeverityWarn)
}

func (r *report) addCorrection(c PendingCorrection) {
	if _, dup := r.seen[c.key()]; dup {
		return
	}
	r.seen[c.key()] = struct{}{}
	r.corrections = append(r.corrections, c)
	r.add(fmt.Sprintf("待校准：%s %s → %s（%s）", c.Kind.label(), c.Raw, c.Suggestion, c.Reason), SeverityWarn)
}

func (r *report) autoCorrected(raw, canonical string, score float64) {
	r.applied = append(r.applied, NameCorrection{Raw: raw, Canonical: canonical, Score: score})
}

// addErrorSummary emits one error line with the first few distinct items and
// a total when there are more.
func (r *report) addErrorSummary(prefix string, items []string) {
	unique := distinctNonBlank(items)
	if len(unique) == 0 {
		return
	}
	head := unique
	if len(head) > errorSummaryLimit {
		head = head[:errorSummaryLimit]
	}
	text := prefix + "：" + strings.Join(head, "、")
	if len(unique) > errorSummaryLimit {
		text += " 等" + strconv.Itoa(len(unique)) + "条"
	}
	r.add(text, SeverityError)
}

// prependSummaries puts the auto-correction and pending-correction digests
// at the top of the preview, pending first.
func (r *report) prependSummaries() {
	var head []PreviewLine
	if len(r.corrections) > 0 {
		var parts []string
		for i, c := range r.corrections {
			if i == pendingSummaryLimit {
				break
			}
			parts = append(parts, c.Raw+"→"+c.Suggestion)
		}
		text := "待校准：" + strings.Join(parts, ", ")
		if len(r.corrections) > pendingSummaryLimit {
			text += "…"
		}
		head = append(head, PreviewLine{Text: text, Severity: SeverityWarn})
	}
	if len(r.applied) > 0 {
		seen := make(map[string]struct{})
		var parts []string
		for _, c := range r.applied {
			k := c.Raw + "\x00" + c.Canonical
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			parts = append(parts, c.Raw+"→"+c.Canonical)
		}
		text := "已自动纠错：" + strings.Join(parts[:min(len(parts), autoSummaryLimit)], ", ")
		if len(parts) > autoSummaryLimit {
			text += "…"
		}
		head = append(head, PreviewLine{Text: text, Severity: SeverityNormal})
	}
	if len(head) > 0 {
		r.lines = append(head, r.lines...)
	}
}

func distinctNonBlank(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func percent(score float64) string {
	return strconv.Itoa(int(score*100)) + "%"
}
