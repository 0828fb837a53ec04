package reference

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Builtin is a read-only reference set shipped alongside the service.
type Builtin struct {
	WetWeights []WetWeightEntry `json:"wetWeights"`
	Taxonomies []TaxonomyRecord `json:"taxonomies"`

	wetIndex map[string]int
	taxIndex map[string]int
}

// NewBuiltin indexes the given entries. The first entry per name wins.
func NewBuiltin(wet []WetWeightEntry, tax []TaxonomyRecord) *Builtin {
	b := &Builtin{WetWeights: wet, Taxonomies: tax}
	b.index()
	return b
}

// LoadBuiltin decodes a builtin reference document.
func LoadBuiltin(r io.Reader) (*Builtin, error) {
	var b Builtin
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode builtin reference library")
	}
	b.index()
	return &b, nil
}

func (b *Builtin) index() {
	b.wetIndex = make(map[string]int, len(b.WetWeights))
	for i, e := range b.WetWeights {
		k := strings.TrimSpace(e.NameCn)
		if _, dup := b.wetIndex[k]; k != "" && !dup {
			b.wetIndex[k] = i
		}
	}
	b.taxIndex = make(map[string]int, len(b.Taxonomies))
	for i, r := range b.Taxonomies {
		k := strings.TrimSpace(r.NameCn)
		if _, dup := b.taxIndex[k]; k != "" && !dup {
			b.taxIndex[k] = i
		}
	}
}

func (b *Builtin) wet(name string) *WetWeightEntry {
	if b == nil {
		return nil
	}
	if i, ok := b.wetIndex[strings.TrimSpace(name)]; ok {
		e := b.WetWeights[i]
		return &e
	}
	return nil
}

func (b *Builtin) tax(name string) *TaxonomyRecord {
	if b == nil {
		return nil
	}
	if i, ok := b.taxIndex[strings.TrimSpace(name)]; ok {
		r := b.Taxonomies[i]
		return &r
	}
	return nil
}

// LayeredWetWeights consults the custom library first, then the builtin set.
// Writes always go to the custom library.
type LayeredWetWeights struct {
	Custom  WetWeightLibrary
	Builtin *Builtin
}

// FindWetWeight implements WetWeightLibrary.
func (l *LayeredWetWeights) FindWetWeight(ctx context.Context, nameCn string) (*WetWeightEntry, error) {
	if l.Custom != nil {
		e, err := l.Custom.FindWetWeight(ctx, nameCn)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if e != nil {
			return e, nil
		}
	}
	if e := l.Builtin.wet(nameCn); e != nil {
		return e, nil
	}
	return nil, nil
}

// ListWetWeightNames implements WetWeightLibrary.
func (l *LayeredWetWeights) ListWetWeightNames(ctx context.Context) ([]string, error) {
	var names []string
	if l.Builtin != nil {
		for _, e := range l.Builtin.WetWeights {
			names = append(names, e.NameCn)
		}
	}
	if l.Custom != nil {
		custom, err := l.Custom.ListWetWeightNames(ctx)
		if err != nil {
			return names, err
		}
		names = append(names, custom...)
	}
	return names, nil
}

// UpsertWetWeight implements WetWeightLibrary.
func (l *LayeredWetWeights) UpsertWetWeight(ctx context.Context, e WetWeightEntry) error {
	if l.Custom == nil {
		return errors.New(errors.ErrCodeFeatureDisabled, "no writable wet weight library")
	}
	return l.Custom.UpsertWetWeight(ctx, e)
}

// LayeredTaxonomy consults the custom library first, then the builtin set.
type LayeredTaxonomy struct {
	Custom  TaxonomyLibrary
	Builtin *Builtin
}

// FindTaxonomy implements TaxonomyLibrary.
func (l *LayeredTaxonomy) FindTaxonomy(ctx context.Context, nameCn string) (*TaxonomyRecord, error) {
	if l.Custom != nil {
		r, err := l.Custom.FindTaxonomy(ctx, nameCn)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	if r := l.Builtin.tax(nameCn); r != nil {
		return r, nil
	}
	return nil, nil
}

// ListTaxonomyNames implements TaxonomyLibrary.
func (l *LayeredTaxonomy) ListTaxonomyNames(ctx context.Context) ([]string, error) {
	var names []string
	if l.Builtin != nil {
		for _, r := range l.Builtin.Taxonomies {
			names = append(names, r.NameCn)
		}
	}
	if l.Custom != nil {
		custom, err := l.Custom.ListTaxonomyNames(ctx)
		if err != nil {
			return names, err
		}
		names = append(names, custom...)
	}
	return names, nil
}

// UpsertTaxonomy implements TaxonomyLibrary.
func (l *LayeredTaxonomy) UpsertTaxonomy(ctx context.Context, r TaxonomyRecord) error {
	if l.Custom == nil {
		return errors.New(errors.ErrCodeFeatureDisabled, "no writable taxonomy library")
	}
	return l.Custom.UpsertTaxonomy(ctx, r)
}
