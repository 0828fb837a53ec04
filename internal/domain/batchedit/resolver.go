package batchedit

import (
	"strings"
	"unicode/utf8"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

const (
	reasonNoActivePoint     = "当前点位为空"
	reasonAmbiguousPoint    = "匹配到多个点位"
	reasonUnknownPoint      = "未识别点位"
	reasonNoSpeciesName     = "未识别物种名称"
	reasonSpeciesNotFound   = "未找到物种"
	reasonUnknownSpecies    = "未识别物种"
	indexCorrectionScore    = 0.9
	shortNameRuneThreshold  = 4
	labelSuggestionScore    = 1.0
	aliasCorrectionScore    = 1.0
)

// PointResolution is the outcome of resolving a point token. Exactly one of
// Point, Label-only (a new point) or Reason is meaningful. NeedsCorrection
// means a PendingCorrection was raised and the caller should skip silently.
type PointResolution struct {
	Point           *dataset.Point
	Label           string
	Reason          string
	Suggestion      string
	NeedsCorrection bool
}

// SpeciesResolution is the outcome of resolving a species token. Species is
// nil when Name does not exist yet.
type SpeciesResolution struct {
	Name            string
	Species         *dataset.Species
	Reason          string
	Suggestion      string
	NeedsCorrection bool
}

// Resolver binds point and species tokens against the simulated dataset.
type Resolver struct {
	sim            *dataset.Dataset
	session        *ParseSession
	settings       Settings
	aliases        map[string]string
	nameCandidates []string
	activePointID  string
	report         *report
}

func (r *Resolver) pointAt(i int) *dataset.Point {
	p := r.sim.Points[i]
	return &p
}

func (r *Resolver) activePoint() *dataset.Point {
	if r.activePointID == "" {
		return nil
	}
	if i := r.sim.PointIndex(r.activePointID); i >= 0 {
		return r.pointAt(i)
	}
	return nil
}

func (r *Resolver) pointsWhere(match func(normalized string) bool) []int {
	var out []int
	for i, p := range r.sim.Points {
		if match(dataset.NormalizePointLabel(p.Label)) {
			out = append(out, i)
		}
	}
	return out
}

func (r *Resolver) needsPointCorrection(raw, suggestion string, score *float64, reason string) PointResolution {
	r.report.addCorrection(PendingCorrection{
		Kind:       CorrectionPoint,
		Raw:        raw,
		Suggestion: suggestion,
		Score:      score,
		Reason:     reason,
	})
	return PointResolution{Reason: reason, Suggestion: suggestion, NeedsCorrection: true}
}

func scorePtr(v float64) *float64 { return &v }

// ResolvePoint resolves raw to a point of the simulated dataset. With
// allowNew a token that matches no point by label, containment, fuzzy score
// or index yields a cleaned label for a new point.
func (r *Resolver) ResolvePoint(raw string, allowNew bool) PointResolution {
	tokenRaw := strings.TrimSpace(raw)
	if tokenRaw == "" || strings.Contains(tokenRaw, "当前") || strings.Contains(tokenRaw, "本点") {
		if p := r.activePoint(); p != nil {
			return PointResolution{Point: p, Label: p.Label}
		}
		return PointResolution{Reason: reasonNoActivePoint}
	}

	locked := r.session.keepsPoint(tokenRaw)
	override, overridden := r.session.PointOverrides[tokenRaw]
	token := tokenRaw
	if overridden {
		token = override
	}
	normalized := dataset.NormalizePointLabel(token)

	exact := r.pointsWhere(func(label string) bool { return label == normalized })
	switch {
	case len(exact) == 1:
		p := r.pointAt(exact[0])
		return PointResolution{Point: p, Label: p.Label}
	case len(exact) > 1:
		return PointResolution{Reason: reasonAmbiguousPoint}
	}

	// Containment runs for new labels too: "1-0.3" next to "1" binds "1".
	partial := r.pointsWhere(func(label string) bool {
		return label != "" && (strings.Contains(normalized, label) || strings.Contains(label, normalized))
	})
	switch {
	case len(partial) == 1:
		p := r.pointAt(partial[0])
		return PointResolution{Point: p, Label: p.Label}
	case len(partial) > 1:
		return PointResolution{Reason: reasonAmbiguousPoint}
	}

	if locked {
		if allowNew {
			return PointResolution{Label: tokenRaw}
		}
		return PointResolution{Reason: reasonUnknownPoint}
	}

	suggestionToken := tokenRaw
	if overridden {
		suggestionToken = token
	}
	labelSuggestion := SuggestPointLabel(suggestionToken)
	if labelSuggestion != nil {
		sn := dataset.NormalizePointLabel(*labelSuggestion)
		if hits := r.pointsWhere(func(label string) bool { return label == sn }); len(hits) == 1 {
			target := r.pointAt(hits[0])
			if dataset.NormalizePointLabel(target.Label) != normalized {
				reason := "可能是 " + target.Label
				if r.settings.RequireConfirm {
					return r.needsPointCorrection(tokenRaw, target.Label, scorePtr(labelSuggestionScore), reason)
				}
				if r.settings.AutoCorrect && target.Label != tokenRaw {
					r.report.autoCorrected(tokenRaw, target.Label, labelSuggestionScore)
				}
			}
			return PointResolution{Point: target, Label: target.Label}
		}
	}

	var labels []string
	seen := make(map[string]struct{}, len(r.sim.Points))
	for _, p := range r.sim.Points {
		n := dataset.NormalizePointLabel(p.Label)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		labels = append(labels, n)
	}
	if best := BestMatch(normalized, labels); best != nil {
		if hits := r.pointsWhere(func(label string) bool { return label == best.Canonical }); len(hits) > 0 {
			bp := r.pointAt(hits[0])
			if r.settings.AutoCorrect && !r.settings.RequireConfirm && best.Score >= PointAutoScore {
				r.report.autoCorrected(tokenRaw, bp.Label, best.Score)
				return PointResolution{Point: bp, Label: bp.Label}
			}
			if best.Score >= PointPendingScore {
				reason := "可能是 " + bp.Label + "（" + percent(best.Score) + "）"
				if r.settings.RequireConfirm {
					return r.needsPointCorrection(tokenRaw, bp.Label, scorePtr(best.Score), reason)
				}
				return PointResolution{Reason: reason, Suggestion: bp.Label}
			}
		}
	}

	if nums := PointNumberCandidates(token); len(nums) > 0 {
		if idx := nums[0] - 1; idx >= 0 && idx < len(r.sim.Points) {
			p := r.pointAt(idx)
			if r.settings.RequireConfirm && dataset.NormalizePointLabel(p.Label) != normalized {
				return r.needsPointCorrection(tokenRaw, p.Label, scorePtr(indexCorrectionScore), "可能是 "+p.Label)
			}
			return PointResolution{Point: p, Label: p.Label}
		}
	}

	if allowNew {
		fallback := dataset.NormalizePointToken(token)
		if labelSuggestion != nil {
			fallback = *labelSuggestion
		}
		if strings.TrimSpace(fallback) == "" {
			return PointResolution{Reason: reasonUnknownPoint}
		}
		if r.settings.RequireConfirm && dataset.NormalizePointLabel(fallback) != normalized {
			return r.needsPointCorrection(tokenRaw, fallback, nil, "可能是 "+fallback)
		}
		return PointResolution{Label: fallback}
	}
	return PointResolution{Reason: reasonUnknownPoint}
}

func (r *Resolver) speciesNamed(name string) *dataset.Species {
	if i := r.sim.SpeciesIndexByName(name); i >= 0 {
		sp := r.sim.Species[i]
		return &sp
	}
	return nil
}

// pendingScoreFor is the confirmation threshold for a species token. Short
// tokens get a lower bar since a single edit moves them further.
func pendingScoreFor(token string) float64 {
	if utf8.RuneCountInString(token) <= shortNameRuneThreshold {
		return ShortNamePendingScore
	}
	return FuzzyPendingScore
}

// ResolveSpecies resolves raw to a species name and, when it exists, the
// species of the simulated dataset. With allowNew an unknown token is
// accepted as a new name.
func (r *Resolver) ResolveSpecies(raw string, allowNew bool) SpeciesResolution {
	token := strings.TrimSpace(raw)
	if token == "" {
		return SpeciesResolution{Reason: reasonNoSpeciesName}
	}

	if manual := strings.TrimSpace(r.session.SpeciesOverrides[token]); manual != "" {
		return SpeciesResolution{Name: manual, Species: r.speciesNamed(manual)}
	}
	if r.session.keepsSpecies(token) {
		if sp := r.speciesNamed(token); sp != nil {
			return SpeciesResolution{Name: token, Species: sp}
		}
		if allowNew {
			return SpeciesResolution{Name: token}
		}
		return SpeciesResolution{Reason: reasonSpeciesNotFound}
	}

	if alias := strings.TrimSpace(r.aliases[token]); alias != "" {
		if alias != token {
			r.report.autoCorrected(token, alias, aliasCorrectionScore)
		}
		return SpeciesResolution{Name: alias, Species: r.speciesNamed(alias)}
	}

	if sp := r.speciesNamed(token); sp != nil {
		return SpeciesResolution{Name: token, Species: sp}
	}

	var names []string
	for _, sp := range r.sim.Species {
		if n := strings.TrimSpace(sp.NameCn); n != "" {
			names = append(names, n)
		}
	}
	best := BestMatch(token, names)
	if best != nil {
		if r.settings.AutoCorrect && !r.settings.RequireConfirm && best.Score >= AutoCorrectScore {
			r.report.autoCorrected(best.Raw, best.Canonical, best.Score)
			return SpeciesResolution{Name: best.Canonical, Species: r.speciesNamed(best.Canonical)}
		}
		if best.Score >= pendingScoreFor(token) {
			reason := "可能是 " + best.Canonical + "（" + percent(best.Score) + "）"
			if r.settings.RequireConfirm {
				r.report.addCorrection(PendingCorrection{
					Kind:       CorrectionSpecies,
					Raw:        token,
					Suggestion: best.Canonical,
					Score:      scorePtr(best.Score),
					Reason:     reason,
				})
				return SpeciesResolution{Reason: reason, Suggestion: best.Canonical, NeedsCorrection: true}
			}
			if !allowNew {
				return SpeciesResolution{Reason: reason, Suggestion: best.Canonical}
			}
		}
	}

	if !allowNew {
		if best != nil && best.Score >= FuzzyHintScore {
			return SpeciesResolution{Reason: "可能是 " + best.Canonical}
		}
		return SpeciesResolution{Reason: reasonSpeciesNotFound}
	}

	res := SpeciesResolution{Name: token}
	if hint := BestMatch(token, r.nameCandidates); hint != nil && hint.Score >= FuzzyHintScore {
		res.Suggestion = hint.Canonical
	}
	return res
}
