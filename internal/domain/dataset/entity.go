package dataset

import (
	"math"
	"strings"
	"time"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

// Taxonomy holds the five nested rank fields of a species (group, class,
// order, family, genus).
type Taxonomy struct {
	Lvl1 string `json:"lvl1"`
	Lvl2 string `json:"lvl2"`
	Lvl3 string `json:"lvl3"`
	Lvl4 string `json:"lvl4"`
	Lvl5 string `json:"lvl5"`
}

// IsBlank reports whether every rank is empty.
func (t Taxonomy) IsBlank() bool {
	return strings.TrimSpace(t.Lvl1) == "" &&
		strings.TrimSpace(t.Lvl2) == "" &&
		strings.TrimSpace(t.Lvl3) == "" &&
		strings.TrimSpace(t.Lvl4) == "" &&
		strings.TrimSpace(t.Lvl5) == ""
}

// MergeTaxonomy combines ranks with first-non-blank-wins per level.
func MergeTaxonomy(list ...Taxonomy) Taxonomy {
	var out Taxonomy
	pick := func(cur *string, v string) {
		if strings.TrimSpace(*cur) == "" && strings.TrimSpace(v) != "" {
			*cur = v
		}
	}
	for _, t := range list {
		pick(&out.Lvl1, t.Lvl1)
		pick(&out.Lvl2, t.Lvl2)
		pick(&out.Lvl3, t.Lvl3)
		pick(&out.Lvl4, t.Lvl4)
		pick(&out.Lvl5, t.Lvl5)
	}
	return out
}

// Overlay applies incoming ranks onto t. With onlyIfBlank set only empty
// ranks are filled; otherwise non-empty incoming ranks replace current ones.
func (t Taxonomy) Overlay(incoming Taxonomy, onlyIfBlank bool) Taxonomy {
	pick := func(cur, inc string) string {
		if onlyIfBlank {
			if strings.TrimSpace(cur) == "" {
				return inc
			}
			return cur
		}
		if strings.TrimSpace(inc) == "" {
			return cur
		}
		return inc
	}
	return Taxonomy{
		Lvl1: pick(t.Lvl1, incoming.Lvl1),
		Lvl2: pick(t.Lvl2, incoming.Lvl2),
		Lvl3: pick(t.Lvl3, incoming.Lvl3),
		Lvl4: pick(t.Lvl4, incoming.Lvl4),
		Lvl5: pick(t.Lvl5, incoming.Lvl5),
	}
}

// Point is a sampling point. VConcMl is the concentrated sample volume in
// millilitres and VOrigL the original water volume in litres.
type Point struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	VConcMl *float64 `json:"vConcMl,omitempty"`
	VOrigL  float64  `json:"vOrigL"`
	Site    *string  `json:"site,omitempty"`
	DepthM  *float64 `json:"depthM,omitempty"`
}

// Species is an observed taxon with its per-point counts. A missing entry in
// CountsByPointID means zero.
type Species struct {
	ID              string         `json:"id"`
	NameCn          string         `json:"nameCn"`
	NameLatin       string         `json:"nameLatin"`
	Taxonomy        Taxonomy       `json:"taxonomy"`
	AvgWetWeightMg  *float64       `json:"avgWetWeightMg,omitempty"`
	CountsByPointID map[string]int `json:"countsByPointId"`
}

// Count returns the count at pointID, zero when absent.
func (s *Species) Count(pointID string) int {
	if s.CountsByPointID == nil {
		return 0
	}
	return s.CountsByPointID[pointID]
}

// SetCount stores v at pointID, clamped at zero.
func (s *Species) SetCount(pointID string, v int) {
	if v < 0 {
		v = 0
	}
	if s.CountsByPointID == nil {
		s.CountsByPointID = make(map[string]int)
	}
	s.CountsByPointID[pointID] = v
}

// Dataset is one survey table: sampling points and observed species.
type Dataset struct {
	ID               string     `json:"id"`
	TitlePrefix      string     `json:"titlePrefix"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Points           []Point    `json:"points"`
	Species          []Species  `json:"species"`
	ReadOnly         bool       `json:"readOnly"`
	SnapshotAt       *time.Time `json:"snapshotAt,omitempty"`
	SnapshotSourceID string     `json:"snapshotSourceId,omitempty"`
}

// Summary is the list-view projection of a Dataset.
type Summary struct {
	ID               string     `json:"id"`
	TitlePrefix      string     `json:"titlePrefix"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ReadOnly         bool       `json:"readOnly"`
	SnapshotAt       *time.Time `json:"snapshotAt,omitempty"`
	SnapshotSourceID string     `json:"snapshotSourceId,omitempty"`
	PointsCount      int        `json:"pointsCount"`
	SpeciesCount     int        `json:"speciesCount"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return common.NewID().String()
}

// NewDataset creates a dataset holding a single point labelled "1".
func NewDataset(titlePrefix string, defaultVOrigL float64) *Dataset {
	now := time.Now().UTC()
	site := "1"
	return &Dataset{
		ID:          NewID(),
		TitlePrefix: titlePrefix,
		CreatedAt:   now,
		UpdatedAt:   now,
		Points: []Point{{
			ID:     NewID(),
			Label:  "1",
			VOrigL: defaultVOrigL,
			Site:   &site,
		}},
		Species: []Species{},
	}
}

// Summary returns the list-view projection.
func (d *Dataset) Summary() Summary {
	return Summary{
		ID:               d.ID,
		TitlePrefix:      d.TitlePrefix,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		ReadOnly:         d.ReadOnly,
		SnapshotAt:       d.SnapshotAt,
		SnapshotSourceID: d.SnapshotSourceID,
		PointsCount:      len(d.Points),
		SpeciesCount:     len(d.Species),
	}
}

// Clone returns a deep copy. Mutating the copy never affects d.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := *d
	out.Points = make([]Point, len(d.Points))
	for i, p := range d.Points {
		out.Points[i] = p.Clone()
	}
	out.Species = make([]Species, len(d.Species))
	for i, s := range d.Species {
		out.Species[i] = s.Clone()
	}
	if d.SnapshotAt != nil {
		t := *d.SnapshotAt
		out.SnapshotAt = &t
	}
	return &out
}

// Clone returns a deep copy of the point.
func (p Point) Clone() Point {
	out := p
	out.VConcMl = cloneFloat(p.VConcMl)
	out.DepthM = cloneFloat(p.DepthM)
	if p.Site != nil {
		s := *p.Site
		out.Site = &s
	}
	return out
}

// Clone returns a deep copy of the species.
func (s Species) Clone() Species {
	out := s
	out.AvgWetWeightMg = cloneFloat(s.AvgWetWeightMg)
	out.CountsByPointID = make(map[string]int, len(s.CountsByPointID))
	for k, v := range s.CountsByPointID {
		out.CountsByPointID[k] = v
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// PointIndex returns the index of the point with id, or -1.
func (d *Dataset) PointIndex(id string) int {
	for i := range d.Points {
		if d.Points[i].ID == id {
			return i
		}
	}
	return -1
}

// SpeciesIndex returns the index of the species with id, or -1.
func (d *Dataset) SpeciesIndex(id string) int {
	for i := range d.Species {
		if d.Species[i].ID == id {
			return i
		}
	}
	return -1
}

// SpeciesIndexByName returns the index of the first species whose trimmed
// Chinese name equals the trimmed name, or -1.
func (d *Dataset) SpeciesIndexByName(name string) int {
	key := strings.TrimSpace(name)
	for i := range d.Species {
		if strings.TrimSpace(d.Species[i].NameCn) == key {
			return i
		}
	}
	return -1
}

// FindSpeciesByName returns the first species with the given trimmed name.
func (d *Dataset) FindSpeciesByName(name string) *Species {
	if i := d.SpeciesIndexByName(name); i >= 0 {
		return &d.Species[i]
	}
	return nil
}

// EnsureSpecies returns the index of the species named name, appending a new
// species with zero counts at every point when none exists.
func (d *Dataset) EnsureSpecies(name string) int {
	if i := d.SpeciesIndexByName(name); i >= 0 {
		return i
	}
	counts := make(map[string]int, len(d.Points))
	for _, p := range d.Points {
		counts[p.ID] = 0
	}
	d.Species = append(d.Species, Species{
		ID:              NewID(),
		NameCn:          strings.TrimSpace(name),
		CountsByPointID: counts,
	})
	return len(d.Species) - 1
}

// AddPoint appends p and seeds a zero count for it on every species.
func (d *Dataset) AddPoint(p Point) {
	d.Points = append(d.Points, p)
	for i := range d.Species {
		if _, ok := d.Species[i].CountsByPointID[p.ID]; !ok {
			d.Species[i].SetCount(p.ID, 0)
		}
	}
}

// RemovePoint drops the point with id and its count entries.
func (d *Dataset) RemovePoint(id string) bool {
	idx := d.PointIndex(id)
	if idx < 0 {
		return false
	}
	d.Points = append(d.Points[:idx], d.Points[idx+1:]...)
	for i := range d.Species {
		delete(d.Species[i].CountsByPointID, id)
	}
	return true
}

// RemoveSpecies drops the species with id.
func (d *Dataset) RemoveSpecies(id string) bool {
	idx := d.SpeciesIndex(id)
	if idx < 0 {
		return false
	}
	d.Species = append(d.Species[:idx], d.Species[idx+1:]...)
	return true
}

// Validate checks structural integrity of an imported or loaded document.
func (d *Dataset) Validate() error {
	if d == nil {
		return errors.New(errors.ErrCodeDatasetInvalid, "dataset is nil")
	}
	if strings.TrimSpace(d.ID) == "" {
		return errors.New(errors.ErrCodeDatasetInvalid, "dataset id is required")
	}
	seen := make(map[string]struct{}, len(d.Points))
	for _, p := range d.Points {
		if p.ID == "" {
			return errors.New(errors.ErrCodeDatasetInvalid, "point id is required").WithDetail("label=" + p.Label)
		}
		if _, dup := seen[p.ID]; dup {
			return errors.New(errors.ErrCodeDatasetInvalid, "duplicate point id").WithDetail("id=" + p.ID)
		}
		seen[p.ID] = struct{}{}
		if math.IsNaN(p.VOrigL) || math.IsInf(p.VOrigL, 0) {
			return errors.New(errors.ErrCodeDatasetInvalid, "point volume is not finite").WithDetail("id=" + p.ID)
		}
	}
	for _, s := range d.Species {
		if s.ID == "" {
			return errors.New(errors.ErrCodeDatasetInvalid, "species id is required").WithDetail("name=" + s.NameCn)
		}
		for pid, v := range s.CountsByPointID {
			if v < 0 {
				return errors.New(errors.ErrCodeDatasetInvalid, "negative count").
					WithDetail("species=" + s.NameCn + " point=" + pid)
			}
		}
	}
	return nil
}
