package batchedit

import (
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

// KindTaxonomySet tags resolved taxonomy writes. It is produced by autofill
// during commit and is not accepted as an action kind.
const KindTaxonomySet ActionKind = "taxonomy.set"

// ResolvedEdit is an action whose references are bound to concrete entities.
// It is the only input the committer consumes.
type ResolvedEdit interface {
	Kind() ActionKind
	resolvedEdit()
}

type AddPointEdit struct {
	Point dataset.Point
}

type DeletePointEdit struct {
	PointID string
	Label   string
}

// RenamePointEdit carries the site and depth derived from the new label.
type RenamePointEdit struct {
	PointID string
	Label   string
	Site    *string
	DepthM  *float64
}

// UpdatePointEdit changes the volumes that are non-nil.
type UpdatePointEdit struct {
	PointID string
	Vc      *float64
	Vo      *float64
}

type AddSpeciesEdit struct {
	NameCn string
}

// DeleteSpeciesEdit is only applied when the caller confirms deletion.
type DeleteSpeciesEdit struct {
	SpeciesID string
	NameCn    string
}

// RenameSpeciesEdit renames a species. A collision with an existing name is
// merged by the committer's final duplicate pass.
type RenameSpeciesEdit struct {
	SpeciesID string
	NameCn    string
}

// SetCountEdit is idempotent: applying it twice leaves the same count.
type SetCountEdit struct {
	PointID       string
	SpeciesNameCn string
	Value         int
}

// DeltaCountEdit is additive: applying it twice doubles its effect.
type DeltaCountEdit struct {
	PointID       string
	SpeciesNameCn string
	Delta         int
}

type SetWetWeightEdit struct {
	SpeciesNameCn string
	Value         float64
	NameLatin     string
	WriteToDb     bool
	OnlyIfBlank   bool
}

type SetTaxonomyEdit struct {
	SpeciesNameCn string
	Taxonomy      dataset.Taxonomy
	NameLatin     string
	WriteToDb     bool
	OnlyIfBlank   bool
}

// AutofillWetWeightEdit is turned into a SetWetWeightEdit during commit.
type AutofillWetWeightEdit struct {
	SpeciesNameCn string
	Source        FillSource
	WriteToDb     bool
}

// AutofillTaxonomyEdit is turned into a SetTaxonomyEdit during commit.
type AutofillTaxonomyEdit struct {
	SpeciesNameCn string
	Source        FillSource
	WriteToDb     bool
}

func (AddPointEdit) Kind() ActionKind          { return KindPointAdd }
func (DeletePointEdit) Kind() ActionKind       { return KindPointDelete }
func (RenamePointEdit) Kind() ActionKind       { return KindPointRename }
func (UpdatePointEdit) Kind() ActionKind       { return KindPointUpdate }
func (AddSpeciesEdit) Kind() ActionKind        { return KindSpeciesAdd }
func (DeleteSpeciesEdit) Kind() ActionKind     { return KindSpeciesDelete }
func (RenameSpeciesEdit) Kind() ActionKind     { return KindSpeciesRename }
func (SetCountEdit) Kind() ActionKind          { return KindCountSet }
func (DeltaCountEdit) Kind() ActionKind        { return KindCountDelta }
func (SetWetWeightEdit) Kind() ActionKind      { return KindWetWeightSet }
func (SetTaxonomyEdit) Kind() ActionKind       { return KindTaxonomySet }
func (AutofillWetWeightEdit) Kind() ActionKind { return KindWetWeightAutofill }
func (AutofillTaxonomyEdit) Kind() ActionKind  { return KindTaxonomyAutofill }

func (AddPointEdit) resolvedEdit()          {}
func (DeletePointEdit) resolvedEdit()       {}
func (RenamePointEdit) resolvedEdit()       {}
func (UpdatePointEdit) resolvedEdit()       {}
func (AddSpeciesEdit) resolvedEdit()        {}
func (DeleteSpeciesEdit) resolvedEdit()     {}
func (RenameSpeciesEdit) resolvedEdit()     {}
func (SetCountEdit) resolvedEdit()          {}
func (DeltaCountEdit) resolvedEdit()        {}
func (SetWetWeightEdit) resolvedEdit()      {}
func (SetTaxonomyEdit) resolvedEdit()       {}
func (AutofillWetWeightEdit) resolvedEdit() {}
func (AutofillTaxonomyEdit) resolvedEdit()  {}

// HasDeletes reports whether edits contain a species deletion, which needs
// explicit confirmation before it is applied.
func HasDeletes(edits []ResolvedEdit) bool {
	for _, e := range edits {
		if _, ok := e.(DeleteSpeciesEdit); ok {
			return true
		}
	}
	return false
}
