// Package memory holds process-local implementations of the dataset
// repository, the reference stores, the species-info cache and the dataset
// lock. They back storage.driver=memory, the CLI dry runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Store keeps datasets and custom reference entries in maps. Values are
// cloned on the way in and out.
type Store struct {
	mu         sync.RWMutex
	datasets   map[string]*dataset.Dataset
	aliases    map[string]reference.Alias
	wetWeights map[string]reference.WetWeightEntry
	taxonomies map[string]reference.TaxonomyRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		datasets:   make(map[string]*dataset.Dataset),
		aliases:    make(map[string]reference.Alias),
		wetWeights: make(map[string]reference.WetWeightEntry),
		taxonomies: make(map[string]reference.TaxonomyRecord),
	}
}

// Get implements dataset.Repository.
func (s *Store) Get(_ context.Context, id string) (*dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeDatasetNotFound, "dataset not found").WithDetail(id)
	}
	return d.Clone(), nil
}

// Save implements dataset.Repository.
func (s *Store) Save(_ context.Context, d *dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatasetInvalid, "invalid dataset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[d.ID] = d.Clone()
	return nil
}

// Delete implements dataset.Repository.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return errors.New(errors.ErrCodeDatasetNotFound, "dataset not found").WithDetail(id)
	}
	delete(s.datasets, id)
	return nil
}

// List implements dataset.Repository, newest first.
func (s *Store) List(_ context.Context, limit, offset int) ([]dataset.Summary, int64, error) {
	s.mu.RLock()
	out := make([]dataset.Summary, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	total := int64(len(out))
	if offset >= len(out) {
		return []dataset.Summary{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// ListAliases implements reference.AliasStore.
func (s *Store) ListAliases(_ context.Context) ([]reference.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]reference.Alias, 0, len(s.aliases))
	for _, a := range s.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

// UpsertAlias implements reference.AliasStore.
func (s *Store) UpsertAlias(_ context.Context, a reference.Alias) error {
	key := strings.TrimSpace(a.Alias)
	if key == "" || strings.TrimSpace(a.Canonical) == "" {
		return errors.InvalidParam("alias and canonical are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Alias = key
	s.aliases[key] = a
	return nil
}

// DeleteAlias implements reference.AliasStore.
func (s *Store) DeleteAlias(_ context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aliases, strings.TrimSpace(alias))
	return nil
}

// FindWetWeight implements reference.WetWeightLibrary.
func (s *Store) FindWetWeight(_ context.Context, nameCn string) (*reference.WetWeightEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.wetWeights[strings.TrimSpace(nameCn)]; ok {
		return &e, nil
	}
	return nil, nil
}

// ListWetWeightNames implements reference.WetWeightLibrary.
func (s *Store) ListWetWeightNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.wetWeights), nil
}

// UpsertWetWeight implements reference.WetWeightLibrary.
func (s *Store) UpsertWetWeight(_ context.Context, e reference.WetWeightEntry) error {
	key := strings.TrimSpace(e.NameCn)
	if key == "" {
		return errors.InvalidParam("nameCn is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.NameCn = key
	s.wetWeights[key] = e
	return nil
}

// FindTaxonomy implements reference.TaxonomyLibrary.
func (s *Store) FindTaxonomy(_ context.Context, nameCn string) (*reference.TaxonomyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.taxonomies[strings.TrimSpace(nameCn)]; ok {
		return &r, nil
	}
	return nil, nil
}

// ListTaxonomyNames implements reference.TaxonomyLibrary.
func (s *Store) ListTaxonomyNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.taxonomies), nil
}

// UpsertTaxonomy implements reference.TaxonomyLibrary.
func (s *Store) UpsertTaxonomy(_ context.Context, r reference.TaxonomyRecord) error {
	key := strings.TrimSpace(r.NameCn)
	if key == "" {
		return errors.InvalidParam("nameCn is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.NameCn = key
	s.taxonomies[key] = r
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
