// Package reference defines the read/write lookup services consulted by the
// batch-edit pipeline: the alias table, the wet-weight and taxonomy reference
// libraries, and the provenance-tagged species-info cache.
package reference

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

// Origin values recorded on custom wet-weight entries.
const (
	OriginManual      = "manual"
	OriginAutoMatched = "auto_matched"
	OriginImported    = "imported"
)

// Alias maps a user spelling to a canonical species name.
type Alias struct {
	Alias     string    `json:"alias"`
	Canonical string    `json:"canonical"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WetWeightEntry is an average wet weight record in mg per individual.
type WetWeightEntry struct {
	NameCn      string    `json:"nameCn"`
	NameLatin   string    `json:"nameLatin,omitempty"`
	WetWeightMg float64   `json:"wetWeightMg"`
	GroupName   string    `json:"groupName,omitempty"`
	SubName     string    `json:"subName,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaxonomyRecord is a taxonomy reference entry.
type TaxonomyRecord struct {
	NameCn    string           `json:"nameCn"`
	NameLatin string           `json:"nameLatin,omitempty"`
	Taxonomy  dataset.Taxonomy `json:"taxonomy"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// SpeciesInfo is the normalized answer of a species-info lookup.
type SpeciesInfo struct {
	NameLatin   string           `json:"nameLatin,omitempty"`
	WetWeightMg *float64         `json:"wetWeightMg,omitempty"`
	Taxonomy    dataset.Taxonomy `json:"taxonomy"`
}

// CachedSpeciesInfo is a species-info cache entry with its provenance.
type CachedSpeciesInfo struct {
	APITag    string      `json:"apiTag"`
	NameCn    string      `json:"nameCn"`
	Info      SpeciesInfo `json:"info"`
	Prompt    string      `json:"prompt"`
	Raw       string      `json:"raw"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// AliasStore reads and writes the alias table.
type AliasStore interface {
	ListAliases(ctx context.Context) ([]Alias, error)
	UpsertAlias(ctx context.Context, a Alias) error
	DeleteAlias(ctx context.Context, alias string) error
}

// WetWeightLibrary looks up and records wet weights. Find returns nil, nil
// when the name is unknown.
type WetWeightLibrary interface {
	FindWetWeight(ctx context.Context, nameCn string) (*WetWeightEntry, error)
	ListWetWeightNames(ctx context.Context) ([]string, error)
	UpsertWetWeight(ctx context.Context, e WetWeightEntry) error
}

// TaxonomyLibrary looks up and records taxonomy entries. Find returns nil,
// nil when the name is unknown.
type TaxonomyLibrary interface {
	FindTaxonomy(ctx context.Context, nameCn string) (*TaxonomyRecord, error)
	ListTaxonomyNames(ctx context.Context) ([]string, error)
	UpsertTaxonomy(ctx context.Context, r TaxonomyRecord) error
}

// SpeciesInfoCache stores assistant answers keyed by (apiTag, nameCn). Get
// returns nil, nil on a miss.
type SpeciesInfoCache interface {
	GetSpeciesInfo(ctx context.Context, apiTag, nameCn string) (*CachedSpeciesInfo, error)
	PutSpeciesInfo(ctx context.Context, entry CachedSpeciesInfo) error
	Clear(ctx context.Context) (int64, error)
}

// AliasMap loads the alias table as trimmed alias -> canonical. Lookup
// failures yield an empty map so resolution degrades to exact and fuzzy
// matching.
func AliasMap(ctx context.Context, store AliasStore) map[string]string {
	out := make(map[string]string)
	if store == nil {
		return out
	}
	list, err := store.ListAliases(ctx)
	if err != nil {
		return out
	}
	for _, a := range list {
		k := strings.TrimSpace(a.Alias)
		v := strings.TrimSpace(a.Canonical)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// LookupNames returns name and, when different, its alias canonical form.
func LookupNames(name string, aliases map[string]string) []string {
	key := strings.TrimSpace(name)
	if key == "" {
		return nil
	}
	names := []string{key}
	if c := aliases[key]; c != "" && c != key {
		names = append(names, c)
	}
	return names
}

// NameCandidates collects the names a new-species hint may point at: the
// dataset's species plus every reference library name. Blank names are
// dropped and order is first-seen.
func NameCandidates(ctx context.Context, d *dataset.Dataset, wet WetWeightLibrary, tax TaxonomyLibrary) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if d != nil {
		for _, sp := range d.Species {
			add(sp.NameCn)
		}
	}
	if tax != nil {
		if names, err := tax.ListTaxonomyNames(ctx); err == nil {
			for _, n := range names {
				add(n)
			}
		}
	}
	if wet != nil {
		if names, err := wet.ListWetWeightNames(ctx); err == nil {
			for _, n := range names {
				add(n)
			}
		}
	}
	return out
}
