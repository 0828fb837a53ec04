package dataset

import (
	"strings"
)

// MergeMode selects how per-point counts of duplicate species are combined.
type MergeMode int

const (
	MergeSum MergeMode = iota
	MergeMax
)

// MergeResult is the outcome of MergeDuplicateSpeciesByName.
type MergeResult struct {
	Dataset     *Dataset
	MergedCount int
}

// MergeDuplicateSpeciesByName collapses species sharing a trimmed Chinese name
// into the first member of each group. Latin name and wet weight take the
// first non-empty value, taxonomy merges per rank, and counts are combined
// per point according to mode over every point in the dataset. Species with a
// blank name are never merged. The input is not modified.
func MergeDuplicateSpeciesByName(d *Dataset, mode MergeMode) MergeResult {
	groups := make(map[string][]int)
	for i, sp := range d.Species {
		key := strings.TrimSpace(sp.NameCn)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], i)
	}
	dup := false
	for _, g := range groups {
		if len(g) > 1 {
			dup = true
			break
		}
	}
	if !dup {
		return MergeResult{Dataset: d, MergedCount: 0}
	}

	out := d.Clone()
	next := make([]Species, 0, len(out.Species))
	handled := make(map[int]struct{}, len(out.Species))
	merged := 0
	for i, sp := range out.Species {
		if _, ok := handled[i]; ok {
			continue
		}
		handled[i] = struct{}{}
		group := groups[strings.TrimSpace(sp.NameCn)]
		if len(group) < 2 {
			next = append(next, sp)
			continue
		}
		members := make([]Species, 0, len(group))
		for _, gi := range group {
			handled[gi] = struct{}{}
			members = append(members, out.Species[gi])
		}
		next = append(next, mergeGroup(members, out.Points, mode))
		merged += len(group) - 1
	}
	out.Species = next
	return MergeResult{Dataset: out, MergedCount: merged}
}

// MergeSpeciesPair folds other into base, keeping base's identity. Counts take
// the per-point maximum over points.
func MergeSpeciesPair(base, other Species, points []Point) Species {
	return mergeGroup([]Species{base, other}, points, MergeMax)
}

func mergeGroup(group []Species, points []Point, mode MergeMode) Species {
	base := group[0].Clone()
	base.NameLatin = ""
	base.AvgWetWeightMg = nil
	taxa := make([]Taxonomy, 0, len(group))
	for _, sp := range group {
		if base.NameLatin == "" && strings.TrimSpace(sp.NameLatin) != "" {
			base.NameLatin = sp.NameLatin
		}
		if base.AvgWetWeightMg == nil && sp.AvgWetWeightMg != nil {
			base.AvgWetWeightMg = cloneFloat(sp.AvgWetWeightMg)
		}
		taxa = append(taxa, sp.Taxonomy)
	}
	base.Taxonomy = MergeTaxonomy(taxa...)

	counts := make(map[string]int, len(points))
	for _, p := range points {
		v := 0
		for j, sp := range group {
			c := sp.Count(p.ID)
			switch mode {
			case MergeSum:
				v += c
			case MergeMax:
				if j == 0 || c > v {
					v = c
				}
			}
		}
		counts[p.ID] = v
	}
	base.CountsByPointID = counts
	return base
}
