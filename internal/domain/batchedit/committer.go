package batchedit

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
)

const (
	messageApplied       = "已应用批量指令"
	messagePartial       = "已应用部分指令，但有异常："
	messageNothingToDo   = "没有可应用的指令"
	errWetWeightNotFound = "湿重库未找到："
	errTaxonomyNotFound  = "分类库未找到："
	errAPINotConfigured  = "API 未配置："
	errAINoWetWeight     = "AI 未返回湿重："
	errAINoTaxonomy      = "AI 未返回分类："
)

// Completer sends a prompt to an external assistant and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Committer applies confirmed edits. Autofill edits are first turned into
// concrete writes using the reference libraries, the species-info cache and
// the assistant. Any of these may be nil; the affected items then fail with a
// per-item error.
type Committer struct {
	WetWeights reference.WetWeightLibrary
	Taxonomy   reference.TaxonomyLibrary
	Cache      reference.SpeciesInfoCache
	Assistant  Completer
	// APITag is the provenance tag for cache reads and writes.
	APITag string
	Now    func() time.Time
}

// CommitOptions carry the caller's decisions for one commit.
type CommitOptions struct {
	// ConfirmDelete must be set for species deletions to take effect.
	ConfirmDelete bool
	Aliases       map[string]string
}

// CommitResult is the outcome of Commit. Dataset is the new authoritative
// state, or the input unchanged when nothing was applied.
type CommitResult struct {
	Dataset         *dataset.Dataset
	Applied         []ResolvedEdit
	Errors          []string
	MergedCount     int
	Message         string
	WetWeightWrites []reference.WetWeightEntry
	TaxonomyWrites  []reference.TaxonomyRecord
}

// Changed reports whether the dataset was transformed.
func (r *CommitResult) Changed() bool {
	return r != nil && len(r.Applied) > 0
}

type writeBacks struct {
	wet      []reference.WetWeightEntry
	wetIndex map[string]int
	tax      []reference.TaxonomyRecord
	taxIndex map[string]int
}

func newWriteBacks() *writeBacks {
	return &writeBacks{wetIndex: make(map[string]int), taxIndex: make(map[string]int)}
}

func (w *writeBacks) putWet(e reference.WetWeightEntry, replace bool) {
	if i, ok := w.wetIndex[e.NameCn]; ok {
		if replace {
			w.wet[i] = e
		}
		return
	}
	w.wetIndex[e.NameCn] = len(w.wet)
	w.wet = append(w.wet, e)
}

func (w *writeBacks) putTax(r reference.TaxonomyRecord, replace bool) {
	if i, ok := w.taxIndex[r.NameCn]; ok {
		if replace {
			w.tax[i] = r
		}
		return
	}
	w.taxIndex[r.NameCn] = len(w.tax)
	w.tax = append(w.tax, r)
}

func wetEntry(nameCn, latin string, value float64, tax dataset.Taxonomy) reference.WetWeightEntry {
	return reference.WetWeightEntry{
		NameCn:      nameCn,
		NameLatin:   strings.TrimSpace(latin),
		WetWeightMg: value,
		GroupName:   strings.TrimSpace(tax.Lvl1),
		SubName:     strings.TrimSpace(tax.Lvl4),
		Origin:      reference.OriginAutoMatched,
	}
}

func positive(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v > 0
}

func (c *Committer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Commit resolves autofill edits and applies the result to current in one
// transform. current is not modified. Per-item failures are reported in
// Errors; the returned error is only set when ctx ends during autofill.
func (c *Committer) Commit(ctx context.Context, current *dataset.Dataset, edits []ResolvedEdit, opts CommitOptions) (*CommitResult, error) {
	res := &CommitResult{Dataset: current}
	if len(edits) == 0 {
		res.Message = messageNothingToDo
		return res, nil
	}

	final, errs, writes, err := c.resolveAutofill(ctx, current, edits, opts.Aliases)
	if err != nil {
		return nil, err
	}
	res.Errors = errs
	if len(final) == 0 {
		res.Message = strings.Join(errs, "\n")
		if res.Message == "" {
			res.Message = messageNothingToDo
		}
		return res, nil
	}

	for _, e := range final {
		switch e := e.(type) {
		case SetWetWeightEdit:
			if !e.WriteToDb {
				continue
			}
			existing := current.FindSpeciesByName(e.SpeciesNameCn)
			latin := e.NameLatin
			var tax dataset.Taxonomy
			if existing != nil {
				if latin == "" {
					latin = existing.NameLatin
				}
				tax = existing.Taxonomy
			}
			writes.putWet(wetEntry(e.SpeciesNameCn, latin, e.Value, tax), false)
		case SetTaxonomyEdit:
			if !e.WriteToDb || e.Taxonomy.IsBlank() {
				continue
			}
			latin := e.NameLatin
			if existing := current.FindSpeciesByName(e.SpeciesNameCn); existing != nil && latin == "" {
				latin = existing.NameLatin
			}
			writes.putTax(reference.TaxonomyRecord{NameCn: e.SpeciesNameCn, NameLatin: latin, Taxonomy: e.Taxonomy}, false)
		}
	}

	next, merged := Transform(current, final, opts.ConfirmDelete)
	res.Dataset = next
	res.Applied = final
	res.MergedCount = merged
	res.WetWeightWrites = writes.wet
	res.TaxonomyWrites = writes.tax
	res.Message = commitMessage(errs, merged)
	return res, nil
}

func commitMessage(errs []string, merged int) string {
	mergeNote := ""
	if merged > 0 {
		mergeNote = "已合并同名物种 " + strconv.Itoa(merged) + " 条（计数取最大值）"
	}
	var b strings.Builder
	if len(errs) > 0 {
		b.WriteString(messagePartial)
		b.WriteString("\n")
		b.WriteString(strings.Join(errs, "\n"))
	} else {
		b.WriteString(messageApplied)
	}
	if mergeNote != "" {
		b.WriteString("\n")
		b.WriteString(mergeNote)
	}
	return b.String()
}

func (c *Committer) resolveAutofill(ctx context.Context, current *dataset.Dataset, edits []ResolvedEdit, aliases map[string]string) ([]ResolvedEdit, []string, *writeBacks, error) {
	var (
		final  []ResolvedEdit
		errs   []string
		writes = newWriteBacks()
	)
	for _, e := range edits {
		switch e := e.(type) {
		case AutofillWetWeightEdit:
			if err := ctx.Err(); err != nil {
				return nil, nil, nil, err
			}
			edit, msg := c.fillWetWeight(ctx, current, e, aliases, writes)
			if msg != "" {
				errs = append(errs, msg)
				continue
			}
			final = append(final, edit)
		case AutofillTaxonomyEdit:
			if err := ctx.Err(); err != nil {
				return nil, nil, nil, err
			}
			edit, msg := c.fillTaxonomy(ctx, current, e, aliases, writes)
			if msg != "" {
				errs = append(errs, msg)
				continue
			}
			final = append(final, edit)
		default:
			final = append(final, e)
		}
	}
	return final, errs, writes, nil
}

func (c *Committer) fillWetWeight(ctx context.Context, current *dataset.Dataset, e AutofillWetWeightEdit, aliases map[string]string, writes *writeBacks) (ResolvedEdit, string) {
	name := e.SpeciesNameCn
	existing := current.FindSpeciesByName(name)
	var latin string
	var tax dataset.Taxonomy
	if existing != nil {
		latin = strings.TrimSpace(existing.NameLatin)
		tax = existing.Taxonomy
	}

	switch e.Source {
	case FillLocal:
		var entry *reference.WetWeightEntry
		if c.WetWeights != nil {
			for _, n := range reference.LookupNames(name, aliases) {
				if found, err := c.WetWeights.FindWetWeight(ctx, n); err == nil && found != nil {
					entry = found
					break
				}
			}
		}
		if entry == nil || !positive(&entry.WetWeightMg) {
			return nil, errWetWeightNotFound + name
		}
		if e.WriteToDb {
			writes.putWet(wetEntry(name, entry.NameLatin, entry.WetWeightMg, tax), true)
		}
		return SetWetWeightEdit{SpeciesNameCn: name, Value: entry.WetWeightMg, NameLatin: entry.NameLatin, WriteToDb: e.WriteToDb, OnlyIfBlank: true}, ""
	default:
		if c.Assistant == nil {
			return nil, errAPINotConfigured + name
		}
		prompt, err := BuildSpeciesInfoPrompt(SpeciesPromptWetWeight, name, latin)
		if err != nil {
			return nil, errAINoWetWeight + name
		}
		info := c.speciesInfo(ctx, name, prompt)
		if info == nil || !positive(info.WetWeightMg) {
			return nil, errAINoWetWeight + name
		}
		if e.WriteToDb {
			writes.putWet(wetEntry(name, info.NameLatin, *info.WetWeightMg, tax), true)
		}
		return SetWetWeightEdit{SpeciesNameCn: name, Value: *info.WetWeightMg, NameLatin: info.NameLatin, WriteToDb: e.WriteToDb, OnlyIfBlank: true}, ""
	}
}

func (c *Committer) fillTaxonomy(ctx context.Context, current *dataset.Dataset, e AutofillTaxonomyEdit, aliases map[string]string, writes *writeBacks) (ResolvedEdit, string) {
	name := e.SpeciesNameCn
	var latin string
	if existing := current.FindSpeciesByName(name); existing != nil {
		latin = strings.TrimSpace(existing.NameLatin)
	}

	switch e.Source {
	case FillLocal:
		var rec *reference.TaxonomyRecord
		if c.Taxonomy != nil {
			for _, n := range reference.LookupNames(name, aliases) {
				if found, err := c.Taxonomy.FindTaxonomy(ctx, n); err == nil && found != nil {
					rec = found
					break
				}
			}
		}
		if rec == nil || rec.Taxonomy.IsBlank() {
			return nil, errTaxonomyNotFound + name
		}
		if e.WriteToDb {
			writes.putTax(reference.TaxonomyRecord{NameCn: name, NameLatin: rec.NameLatin, Taxonomy: rec.Taxonomy}, true)
		}
		return SetTaxonomyEdit{SpeciesNameCn: name, Taxonomy: rec.Taxonomy, NameLatin: rec.NameLatin, WriteToDb: e.WriteToDb, OnlyIfBlank: true}, ""
	default:
		if c.Assistant == nil {
			return nil, errAPINotConfigured + name
		}
		prompt, err := BuildSpeciesInfoPrompt(SpeciesPromptTaxonomy, name, latin)
		if err != nil {
			return nil, errAINoTaxonomy + name
		}
		info := c.speciesInfo(ctx, name, prompt)
		if info == nil || info.Taxonomy.IsBlank() {
			return nil, errAINoTaxonomy + name
		}
		if e.WriteToDb {
			writes.putTax(reference.TaxonomyRecord{NameCn: name, NameLatin: info.NameLatin, Taxonomy: info.Taxonomy}, true)
		}
		return SetTaxonomyEdit{SpeciesNameCn: name, Taxonomy: info.Taxonomy, NameLatin: info.NameLatin, WriteToDb: e.WriteToDb, OnlyIfBlank: true}, ""
	}
}

// speciesInfo answers from the cache when an entry was produced by the same
// prompt, otherwise asks the assistant and caches the reply. Nil when no
// usable answer is available.
func (c *Committer) speciesInfo(ctx context.Context, nameCn, prompt string) *reference.SpeciesInfo {
	if c.Cache != nil {
		cached, err := c.Cache.GetSpeciesInfo(ctx, c.APITag, nameCn)
		if err == nil && cached != nil && cached.Prompt == prompt && strings.TrimSpace(cached.Raw) != "" {
			if info, ok := SpeciesInfoFromReply(cached.Raw); ok {
				return info
			}
		}
	}
	if c.Assistant == nil {
		return nil
	}
	raw, err := c.Assistant.Complete(ctx, prompt, SpeciesInfoMaxTokens)
	if err != nil {
		return nil
	}
	info, ok := SpeciesInfoFromReply(raw)
	if !ok {
		return nil
	}
	if c.Cache != nil {
		_ = c.Cache.PutSpeciesInfo(ctx, reference.CachedSpeciesInfo{
			APITag:    c.APITag,
			NameCn:    nameCn,
			Info:      *info,
			Prompt:    prompt,
			Raw:       raw,
			UpdatedAt: c.now(),
		})
	}
	return info
}

// WriteBack records the reference entries collected by Commit in the custom
// libraries. Failures do not stop the remaining writes.
func (c *Committer) WriteBack(ctx context.Context, res *CommitResult) []error {
	if res == nil {
		return nil
	}
	var errs []error
	now := c.now()
	if c.WetWeights != nil {
		for _, e := range res.WetWeightWrites {
			e.Origin = reference.OriginAutoMatched
			e.UpdatedAt = now
			if err := c.WetWeights.UpsertWetWeight(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if c.Taxonomy != nil {
		for _, r := range res.TaxonomyWrites {
			r.UpdatedAt = now
			if err := c.Taxonomy.UpsertTaxonomy(ctx, r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Transform applies concrete edits to a copy of current and finishes with a
// duplicate-name merge taking per-point maxima. Species deletions are skipped
// unless confirmDelete is set. Edits whose target no longer exists are
// skipped. Returns the new dataset and the number of merged species.
func Transform(current *dataset.Dataset, edits []ResolvedEdit, confirmDelete bool) (*dataset.Dataset, int) {
	next := current.Clone()
	if next == nil {
		next = &dataset.Dataset{}
	}
	for _, e := range edits {
		switch e := e.(type) {
		case AddPointEdit:
			norm := dataset.NormalizePointLabel(e.Point.Label)
			exists := false
			for _, p := range next.Points {
				if dataset.NormalizePointLabel(p.Label) == norm {
					exists = true
					break
				}
			}
			if !exists {
				next.AddPoint(e.Point.Clone())
			}
		case DeletePointEdit:
			next.RemovePoint(e.PointID)
		case RenamePointEdit:
			if i := next.PointIndex(e.PointID); i >= 0 {
				p := dataset.Point{Label: e.Label, Site: e.Site, DepthM: e.DepthM}.Clone()
				next.Points[i].Label = p.Label
				next.Points[i].Site = p.Site
				next.Points[i].DepthM = p.DepthM
			}
		case UpdatePointEdit:
			if i := next.PointIndex(e.PointID); i >= 0 {
				if e.Vc != nil {
					v := *e.Vc
					next.Points[i].VConcMl = &v
				}
				if e.Vo != nil {
					next.Points[i].VOrigL = *e.Vo
				}
			}
		case AddSpeciesEdit:
			next.EnsureSpecies(e.NameCn)
		case DeleteSpeciesEdit:
			if confirmDelete {
				next.RemoveSpecies(e.SpeciesID)
			}
		case RenameSpeciesEdit:
			if i := next.SpeciesIndex(e.SpeciesID); i >= 0 {
				next.Species[i].NameCn = e.NameCn
			}
		case SetCountEdit:
			if next.PointIndex(e.PointID) < 0 {
				continue
			}
			i := next.EnsureSpecies(e.SpeciesNameCn)
			next.Species[i].SetCount(e.PointID, e.Value)
		case DeltaCountEdit:
			if next.PointIndex(e.PointID) < 0 {
				continue
			}
			i := next.EnsureSpecies(e.SpeciesNameCn)
			sp := &next.Species[i]
			sp.SetCount(e.PointID, sp.Count(e.PointID)+e.Delta)
		case SetWetWeightEdit:
			i := next.EnsureSpecies(e.SpeciesNameCn)
			sp := &next.Species[i]
			if e.OnlyIfBlank && sp.AvgWetWeightMg != nil {
				continue
			}
			v := e.Value
			sp.AvgWetWeightMg = &v
			if strings.TrimSpace(sp.NameLatin) == "" && strings.TrimSpace(e.NameLatin) != "" {
				sp.NameLatin = e.NameLatin
			}
		case SetTaxonomyEdit:
			i := next.EnsureSpecies(e.SpeciesNameCn)
			sp := &next.Species[i]
			sp.Taxonomy = sp.Taxonomy.Overlay(e.Taxonomy, e.OnlyIfBlank)
			if strings.TrimSpace(sp.NameLatin) == "" && strings.TrimSpace(e.NameLatin) != "" {
				sp.NameLatin = e.NameLatin
			}
		case AutofillWetWeightEdit, AutofillTaxonomyEdit:
			// resolved by Commit before Transform runs
		}
	}
	merged := dataset.MergeDuplicateSpeciesByName(next, dataset.MergeMax)
	return merged.Dataset, merged.MergedCount
}
