package batchedit

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

const (
	previewNoInstruction = "未解析到有效指令"
	reasonMissingRename  = "缺少旧名/新名"
	reasonNameTaken      = "新名称已存在"
	reasonMissingVolume  = "缺少 Vc/Vo"
	reasonBadVc          = "Vc 数值无效"
	reasonBadVo          = "Vo 数值无效"
	reasonMissingCount   = "缺少计数值"
	reasonNegativeCount  = "计数不能为负数"
	reasonMissingDelta   = "缺少增减数量"
	reasonBadWetWeight   = "湿重数值无效"
	reasonMissingSource  = "缺少 source（local/api）"
	reasonMissingPoint   = "缺少点位名称"
	roundedNote          = "（已四舍五入）"
)

// SimulationInput is everything a simulation reads. Dataset is never
// modified.
type SimulationInput struct {
	Dataset        *dataset.Dataset
	Parsed         *ParsedResult
	Session        *ParseSession
	Settings       Settings
	Aliases        map[string]string
	NameCandidates []string
}

// Simulation is the preview of a batch and the edits it would apply.
type Simulation struct {
	Preview            []PreviewLine       `json:"preview"`
	Pending            []PendingItem       `json:"pending"`
	Corrections        []PendingCorrection `json:"corrections"`
	AutoCorrections    []NameCorrection    `json:"autoCorrections"`
	PendingDeleteNames []string            `json:"pendingDeleteNames"`
	Edits              []ResolvedEdit      `json:"-"`
}

// CanApply reports whether the batch may be committed: there is something
// to apply and, in confirmation mode, no correction is outstanding.
func (s *Simulation) CanApply(requireConfirm bool) bool {
	if s == nil || len(s.Edits) == 0 {
		return false
	}
	return !requireConfirm || len(s.Corrections) == 0
}

// NeedsDeleteConfirmation reports whether applying everything would delete
// species.
func (s *Simulation) NeedsDeleteConfirmation() bool {
	return s != nil && len(s.PendingDeleteNames) > 0
}

type simulator struct {
	in           SimulationInput
	sim          *dataset.Dataset
	res          *Resolver
	rep          *report
	edits        []ResolvedEdit
	deleteNames  map[string]struct{}
	implicitAdds map[string]struct{}
	unknown      []string
}

// Simulate replays the parsed actions on a private copy of the dataset. Each
// action sees the effect of the ones before it. Unresolvable actions become
// pending items, fuzzy matches in confirmation mode become pending
// corrections, and everything else yields a preview line and a resolved
// edit.
func Simulate(in SimulationInput) *Simulation {
	if in.Session == nil {
		in.Session = NewParseSession("", "", time.Now().UTC())
	}
	if in.Parsed.IsEmpty() {
		return &Simulation{Preview: []PreviewLine{{Text: previewNoInstruction, Severity: SeverityError}}}
	}

	rep := newReport()
	for _, n := range in.Parsed.Notes {
		rep.add("备注："+n, SeverityNormal)
	}
	for _, w := range in.Parsed.Warnings {
		rep.add("提示："+w, SeverityWarn)
	}

	sim := in.Dataset.Clone()
	if sim == nil {
		sim = &dataset.Dataset{}
	}
	s := &simulator{
		in:  in,
		sim: sim,
		rep: rep,
		res: &Resolver{
			sim:            sim,
			session:        in.Session,
			settings:       in.Settings,
			aliases:        in.Aliases,
			nameCandidates: in.NameCandidates,
			activePointID:  in.Session.ActivePointID,
			report:         rep,
		},
		deleteNames:  make(map[string]struct{}),
		implicitAdds: make(map[string]struct{}),
	}
	for _, a := range in.Parsed.Actions {
		s.step(a)
	}

	rep.prependSummaries()
	rep.addErrorSummary("解析错误", in.Parsed.Errors)
	rep.addErrorSummary("无法解析", in.Parsed.Unparsed)
	rep.addErrorSummary("未识别动作", s.unknown)

	names := make([]string, 0, len(s.deleteNames))
	for n := range s.deleteNames {
		names = append(names, n)
	}
	sort.Strings(names)

	return &Simulation{
		Preview:            rep.lines,
		Pending:            rep.pending,
		Corrections:        rep.corrections,
		AutoCorrections:    rep.applied,
		PendingDeleteNames: names,
		Edits:              s.edits,
	}
}

func validVolume(v *float64) bool {
	return v == nil || (!math.IsNaN(*v) && !math.IsInf(*v, 0) && *v > 0)
}

func orKeep(v *float64) string {
	if v == nil {
		return "保持"
	}
	return formatFloat(*v)
}

func (s *simulator) pendingUnless(needsCorrection bool, text, reason, fallback string) {
	if needsCorrection {
		return
	}
	if reason == "" {
		reason = fallback
	}
	s.rep.addPending(text, reason)
}

func (s *simulator) step(a Action) {
	kind := a.Kind()
	switch kind {
	case KindPointAdd:
		s.pointAdd(a)
	case KindPointDelete:
		s.pointDelete(a)
	case KindPointRename:
		s.pointRename(a)
	case KindPointUpdate:
		s.pointUpdate(a)
	case KindSpeciesAdd:
		s.speciesAdd(a)
	case KindSpeciesDelete:
		s.speciesDelete(a)
	case KindSpeciesRename:
		s.speciesRename(a)
	case KindCountSet, KindCountClear:
		s.countSet(a, kind == KindCountClear)
	case KindCountDelta:
		s.countDelta(a)
	case KindWetWeightSet:
		s.wetWeightSet(a)
	case KindWetWeightAutofill, KindTaxonomyAutofill:
		s.autofill(a, kind)
	default:
		detail := strings.TrimSpace(a.Note)
		if detail == "" {
			detail = a.Type
		}
		s.unknown = append(s.unknown, detail)
	}
}

func (s *simulator) pointAdd(a Action) {
	r := s.res.ResolvePoint(a.Point, true)
	label := r.Label
	if label == "" && r.Point != nil {
		label = r.Point.Label
	}
	if r.Reason != "" || strings.TrimSpace(label) == "" {
		s.pendingUnless(r.NeedsCorrection, "新增点位", r.Reason, reasonMissingPoint)
		return
	}
	norm := dataset.NormalizePointLabel(label)
	for _, p := range s.sim.Points {
		if dataset.NormalizePointLabel(p.Label) == norm {
			s.rep.add("点位已存在："+label, SeverityWarn)
			return
		}
	}
	if !validVolume(a.Vc) {
		s.rep.addPending("新增点位 "+label, reasonBadVc)
		return
	}
	if !validVolume(a.Vo) {
		s.rep.addPending("新增点位 "+label, reasonBadVo)
		return
	}
	site, depth := dataset.ResolveSiteAndDepth(label, nil, nil)
	vo := s.in.Settings.DefaultVOrigL
	if a.Vo != nil {
		vo = *a.Vo
	}
	p := dataset.Point{
		ID:      dataset.NewID(),
		Label:   label,
		VConcMl: a.Vc,
		VOrigL:  vo,
		Site:    site,
		DepthM:  depth,
	}
	s.edits = append(s.edits, AddPointEdit{Point: p.Clone()})
	s.sim.AddPoint(p)
	vc := "默认"
	if a.Vc != nil {
		vc = formatFloat(*a.Vc)
	}
	s.rep.add(fmt.Sprintf("新增点位：%s（Vc=%s，Vo=%s）", label, vc, formatFloat(vo)), SeverityNormal)
}

func (s *simulator) pointDelete(a Action) {
	r := s.res.ResolvePoint(a.Point, false)
	if r.Point == nil {
		s.pendingUnless(r.NeedsCorrection, "删除点位", r.Reason, reasonUnknownPoint)
		return
	}
	s.edits = append(s.edits, DeletePointEdit{PointID: r.Point.ID, Label: r.Point.Label})
	s.sim.RemovePoint(r.Point.ID)
	s.rep.add("删除点位："+r.Point.Label, SeverityWarn)
}

func (s *simulator) pointRename(a Action) {
	from, to := strings.TrimSpace(a.From), strings.TrimSpace(a.To)
	if from == "" || to == "" {
		s.rep.addPending("点位重命名", reasonMissingRename)
		return
	}
	text := "点位重命名：" + from + " → " + to
	fr := s.res.ResolvePoint(from, false)
	if fr.Point == nil {
		s.pendingUnless(fr.NeedsCorrection, text, fr.Reason, reasonUnknownPoint)
		return
	}
	tr := s.res.ResolvePoint(to, true)
	next := tr.Label
	if next == "" && tr.Point != nil {
		next = tr.Point.Label
	}
	if tr.Reason != "" || strings.TrimSpace(next) == "" {
		s.pendingUnless(tr.NeedsCorrection, text, tr.Reason, reasonUnknownPoint)
		return
	}
	norm := dataset.NormalizePointLabel(next)
	for _, p := range s.sim.Points {
		if p.ID != fr.Point.ID && dataset.NormalizePointLabel(p.Label) == norm {
			s.rep.addPending(text, reasonNameTaken)
			return
		}
	}
	site, depth := dataset.ResolveSiteAndDepth(next, nil, nil)
	s.edits = append(s.edits, RenamePointEdit{PointID: fr.Point.ID, Label: next, Site: site, DepthM: depth})
	if i := s.sim.PointIndex(fr.Point.ID); i >= 0 {
		s.sim.Points[i].Label = next
		s.sim.Points[i].Site = site
		s.sim.Points[i].DepthM = depth
	}
	s.rep.add("点位改名："+fr.Point.Label+" → "+next, SeverityNormal)
}

func (s *simulator) pointUpdate(a Action) {
	r := s.res.ResolvePoint(a.Point, false)
	if r.Point == nil {
		s.pendingUnless(r.NeedsCorrection, "点位参数修改", r.Reason, reasonUnknownPoint)
		return
	}
	text := "点位参数修改：" + r.Point.Label
	switch {
	case a.Vc == nil && a.Vo == nil:
		s.rep.addPending(text, reasonMissingVolume)
		return
	case !validVolume(a.Vc):
		s.rep.addPending(text, reasonBadVc)
		return
	case !validVolume(a.Vo):
		s.rep.addPending(text, reasonBadVo)
		return
	}
	s.edits = append(s.edits, UpdatePointEdit{PointID: r.Point.ID, Vc: a.Vc, Vo: a.Vo})
	if i := s.sim.PointIndex(r.Point.ID); i >= 0 {
		if a.Vc != nil {
			v := *a.Vc
			s.sim.Points[i].VConcMl = &v
		}
		if a.Vo != nil {
			s.sim.Points[i].VOrigL = *a.Vo
		}
	}
	s.rep.add(fmt.Sprintf("点位参数：%s Vc=%s · Vo=%s", r.Point.Label, orKeep(a.Vc), orKeep(a.Vo)), SeverityNormal)
}

func (s *simulator) speciesAdd(a Action) {
	r := s.res.ResolveSpecies(a.Species, true)
	if r.Reason != "" || strings.TrimSpace(r.Name) == "" {
		s.pendingUnless(r.NeedsCorrection, "新增物种", r.Reason, reasonNoSpeciesName)
		return
	}
	if s.sim.SpeciesIndexByName(r.Name) >= 0 {
		s.rep.add("物种已存在："+r.Name, SeverityWarn)
		return
	}
	s.edits = append(s.edits, AddSpeciesEdit{NameCn: r.Name})
	s.sim.EnsureSpecies(r.Name)
	s.rep.add("新增物种："+r.Name, SeverityNormal)
}

func (s *simulator) speciesDelete(a Action) {
	r := s.res.ResolveSpecies(a.Species, false)
	if r.Reason != "" || r.Species == nil {
		s.pendingUnless(r.NeedsCorrection, "删除物种", r.Reason, reasonUnknownSpecies)
		return
	}
	s.edits = append(s.edits, DeleteSpeciesEdit{SpeciesID: r.Species.ID, NameCn: r.Species.NameCn})
	s.deleteNames[r.Species.NameCn] = struct{}{}
	s.sim.RemoveSpecies(r.Species.ID)
	s.rep.add("删除物种："+r.Species.NameCn, SeverityWarn)
}

func (s *simulator) speciesRename(a Action) {
	from, to := strings.TrimSpace(a.From), strings.TrimSpace(a.To)
	if from == "" || to == "" {
		s.rep.addPending("物种重命名", reasonMissingRename)
		return
	}
	text := "物种重命名：" + from + " → " + to
	fr := s.res.ResolveSpecies(from, false)
	if fr.Reason != "" || fr.Species == nil {
		s.pendingUnless(fr.NeedsCorrection, text, fr.Reason, reasonUnknownSpecies)
		return
	}
	tr := s.res.ResolveSpecies(to, true)
	if tr.Reason != "" || strings.TrimSpace(tr.Name) == "" {
		s.pendingUnless(tr.NeedsCorrection, text, tr.Reason, reasonUnknownSpecies)
		return
	}
	target := *fr.Species
	next := tr.Name
	s.edits = append(s.edits, RenameSpeciesEdit{SpeciesID: target.ID, NameCn: next})

	existing := -1
	for i, sp := range s.sim.Species {
		if sp.ID != target.ID && strings.TrimSpace(sp.NameCn) == strings.TrimSpace(next) {
			existing = i
			break
		}
	}
	if existing < 0 {
		if i := s.sim.SpeciesIndex(target.ID); i >= 0 {
			s.sim.Species[i].NameCn = next
		}
		s.rep.add("物种改名："+target.NameCn+" → "+next, SeverityNormal)
		return
	}

	renamed := target.Clone()
	renamed.NameCn = next
	merged := dataset.MergeSpeciesPair(s.sim.Species[existing], renamed, s.sim.Points)
	keepID := s.sim.Species[existing].ID
	s.sim.RemoveSpecies(target.ID)
	if i := s.sim.SpeciesIndex(keepID); i >= 0 {
		s.sim.Species[i] = merged
	}
	s.rep.add("物种改名："+target.NameCn+" → "+next+"（同名合并，计数取最大值）", SeverityWarn)
}

// countTarget resolves the point and species of a count action. ok is false
// when a pending item or correction has already been recorded.
func (s *simulator) countTarget(a Action, title string) (*dataset.Point, SpeciesResolution, bool) {
	pr := s.res.ResolvePoint(a.Point, false)
	if pr.Point == nil {
		s.pendingUnless(pr.NeedsCorrection, title, pr.Reason, reasonUnknownPoint)
		return nil, SpeciesResolution{}, false
	}
	sr := s.res.ResolveSpecies(a.Species, true)
	if sr.Reason != "" || strings.TrimSpace(sr.Name) == "" {
		s.pendingUnless(sr.NeedsCorrection, title+"："+pr.Point.Label, sr.Reason, reasonUnknownSpecies)
		return nil, SpeciesResolution{}, false
	}
	return pr.Point, sr, true
}

// ensureCounted makes sure the species exists in the simulation and notes an
// implicit creation once per name.
func (s *simulator) ensureCounted(sr SpeciesResolution) int {
	if sr.Species == nil {
		if _, seen := s.implicitAdds[sr.Name]; !seen {
			s.implicitAdds[sr.Name] = struct{}{}
			s.rep.add("新增物种："+sr.Name+"（由计数触发）", SeverityWarn)
		}
	}
	return s.sim.EnsureSpecies(sr.Name)
}

func (s *simulator) countSet(a Action, zero bool) {
	point, sr, ok := s.countTarget(a, "设置计数")
	if !ok {
		return
	}
	text := "设置计数：" + point.Label + " · " + sr.Name
	cv, ok := CountValue{}, true
	if !zero {
		cv, ok = RoundCount(a.Value)
	}
	if !ok {
		s.rep.addPending(text, reasonMissingCount)
		return
	}
	if cv.Value < 0 {
		s.rep.addPending(text, reasonNegativeCount)
		return
	}
	idx := s.ensureCounted(sr)
	s.sim.Species[idx].SetCount(point.ID, cv.Value)
	note := ""
	if cv.Rounded {
		note = roundedNote
	}
	s.rep.add(fmt.Sprintf("设置：%s · %s = %d%s", point.Label, sr.Name, cv.Value, note), SeverityNormal)
	s.edits = append(s.edits, SetCountEdit{PointID: point.ID, SpeciesNameCn: sr.Name, Value: cv.Value})
}

func (s *simulator) countDelta(a Action) {
	point, sr, ok := s.countTarget(a, "增减计数")
	if !ok {
		return
	}
	cv, ok := RoundCount(a.Delta)
	if !ok {
		s.rep.addPending("增减计数："+point.Label+" · "+sr.Name, reasonMissingDelta)
		return
	}
	idx := s.ensureCounted(sr)
	sp := &s.sim.Species[idx]
	sp.SetCount(point.ID, sp.Count(point.ID)+cv.Value)
	sign := ""
	if cv.Value >= 0 {
		sign = "+"
	}
	note := ""
	if cv.Rounded {
		note = roundedNote
	}
	s.rep.add(fmt.Sprintf("增减：%s · %s %s%d%s", point.Label, sr.Name, sign, cv.Value, note), SeverityNormal)
	s.edits = append(s.edits, DeltaCountEdit{PointID: point.ID, SpeciesNameCn: sr.Name, Delta: cv.Value})
}

func (s *simulator) wetWeightSet(a Action) {
	r := s.res.ResolveSpecies(a.Species, true)
	if r.Reason != "" || strings.TrimSpace(r.Name) == "" {
		s.pendingUnless(r.NeedsCorrection, "设置湿重", r.Reason, reasonUnknownSpecies)
		return
	}
	if a.Value == nil || math.IsNaN(*a.Value) || math.IsInf(*a.Value, 0) || *a.Value <= 0 {
		s.rep.addPending("设置湿重："+r.Name, reasonBadWetWeight)
		return
	}
	write := a.WriteToDb != nil && *a.WriteToDb
	s.edits = append(s.edits, SetWetWeightEdit{SpeciesNameCn: r.Name, Value: *a.Value, WriteToDb: write})
	suffix := ""
	if write {
		suffix = "（写入库）"
	}
	s.rep.add("湿重："+r.Name+" = "+formatFloat(*a.Value)+" mg/个"+suffix, SeverityNormal)
}

func (s *simulator) autofill(a Action, kind ActionKind) {
	title, head := "补齐湿重", "湿重补齐"
	if kind == KindTaxonomyAutofill {
		title, head = "补齐分类", "分类补齐"
	}
	r := s.res.ResolveSpecies(a.Species, true)
	if r.Reason != "" || strings.TrimSpace(r.Name) == "" {
		s.pendingUnless(r.NeedsCorrection, title, r.Reason, reasonUnknownSpecies)
		return
	}
	source, ok := ParseFillSource(a.Source)
	if !ok {
		s.rep.addPending(title+"："+r.Name, reasonMissingSource)
		return
	}
	write := s.in.Settings.AutoMatchWriteToDb
	if a.WriteToDb != nil {
		write = *a.WriteToDb
	}
	if kind == KindTaxonomyAutofill {
		s.edits = append(s.edits, AutofillTaxonomyEdit{SpeciesNameCn: r.Name, Source: source, WriteToDb: write})
	} else {
		s.edits = append(s.edits, AutofillWetWeightEdit{SpeciesNameCn: r.Name, Source: source, WriteToDb: write})
	}
	suffix := ""
	if write {
		suffix = "·写入库"
	}
	s.rep.add(head+"："+r.Name+"（"+source.Label()+"）"+suffix, SeverityNormal)
}
