package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/plankton-batchedit/pkg/errors"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "plankton.db")
	s, err := Open(config.SQLiteConfig{Path: path}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_DatasetLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	d := dataset.NewDataset("洱海", 20)
	idx := d.EnsureSpecies("轮虫")
	d.Species[idx].SetCount(d.Points[0].ID, 4)
	require.NoError(t, s.Save(ctx, d))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "洱海", got.TitlePrefix)
	assert.Equal(t, 4, got.Species[0].Count(d.Points[0].ID))

	d.TitlePrefix = "洱海-2"
	require.NoError(t, s.Save(ctx, d))
	got, err = s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "洱海-2", got.TitlePrefix)

	require.NoError(t, s.Delete(ctx, d.ID))
	_, err = s.Get(ctx, d.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatasetNotFound))
	assert.True(t, apperrors.IsCode(s.Delete(ctx, d.ID), apperrors.ErrCodeDatasetNotFound))
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.Save(context.Background(), &dataset.Dataset{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatasetInvalid))
}

func TestStore_ListOrderAndSnapshots(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	var last *dataset.Dataset
	for i, prefix := range []string{"a", "b", "c"} {
		d := dataset.NewDataset(prefix, 20)
		d.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Save(ctx, d))
		last = d
	}
	snap := dataset.NewSnapshot(last, "批量编辑前", base.Add(90*time.Minute))
	require.NoError(t, s.Save(ctx, snap))

	list, total, err := s.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, list, 4)
	assert.Equal(t, "c", list[0].TitlePrefix)
	assert.True(t, list[1].ReadOnly)
	assert.Equal(t, last.ID, list[1].SnapshotSourceID)
	require.NotNil(t, list[1].SnapshotAt)
	assert.True(t, list[1].SnapshotAt.Equal(base.Add(90*time.Minute)))
	assert.Equal(t, 1, list[0].PointsCount)

	page, _, err := s.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[1].TitlePrefix)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)
	d := dataset.NewDataset("reopen", 20)
	require.NoError(t, s.Save(ctx, d))
	require.NoError(t, s.UpsertAlias(ctx, reference.Alias{Alias: "轮虫", Canonical: "臂尾轮虫"}))
	require.NoError(t, s.Close())

	again, err := Open(config.SQLiteConfig{Path: path}, nil)
	require.NoError(t, err)
	defer again.Close()

	_, err = again.Get(ctx, d.ID)
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"轮虫": "臂尾轮虫"}, reference.AliasMap(ctx, again))
}

func TestStore_ReferenceLibraries(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	assert.Error(t, s.UpsertAlias(ctx, reference.Alias{Alias: "x"}))
	require.NoError(t, s.UpsertAlias(ctx, reference.Alias{Alias: " 轮虫 ", Canonical: "臂尾轮虫"}))
	require.NoError(t, s.UpsertAlias(ctx, reference.Alias{Alias: "轮虫", Canonical: "晶囊轮虫"}))
	assert.Equal(t, map[string]string{"轮虫": "晶囊轮虫"}, reference.AliasMap(ctx, s))
	require.NoError(t, s.DeleteAlias(ctx, "轮虫"))
	assert.Empty(t, reference.AliasMap(ctx, s))

	miss, err := s.FindWetWeight(ctx, "桡足类")
	require.NoError(t, err)
	assert.Nil(t, miss)
	require.NoError(t, s.UpsertWetWeight(ctx, reference.WetWeightEntry{NameCn: "桡足类", WetWeightMg: 0.05}))
	hit, err := s.FindWetWeight(ctx, "桡足类")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.InDelta(t, 0.05, hit.WetWeightMg, 1e-12)
	assert.Equal(t, reference.OriginManual, hit.Origin)
	assert.False(t, hit.UpdatedAt.IsZero())

	require.NoError(t, s.UpsertTaxonomy(ctx, reference.TaxonomyRecord{
		NameCn: "晶囊轮虫", NameLatin: "Asplanchna", Taxonomy: dataset.Taxonomy{Lvl1: "轮虫类", Lvl4: "晶囊轮虫科"},
	}))
	tax, err := s.FindTaxonomy(ctx, " 晶囊轮虫")
	require.NoError(t, err)
	require.NotNil(t, tax)
	assert.Equal(t, "晶囊轮虫科", tax.Taxonomy.Lvl4)

	names, err := s.ListWetWeightNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"桡足类"}, names)
	cands := reference.NameCandidates(ctx, nil, s, s)
	assert.ElementsMatch(t, []string{"桡足类", "晶囊轮虫"}, cands)
}

func TestStore_SpeciesInfoCache(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	got, err := s.GetSpeciesInfo(ctx, "api1", "轮虫")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.PutSpeciesInfo(ctx, reference.CachedSpeciesInfo{NameCn: "轮虫"}))
	require.NoError(t, s.PutSpeciesInfo(ctx, reference.CachedSpeciesInfo{
		APITag: "api1", NameCn: "轮虫", Info: reference.SpeciesInfo{NameLatin: "Rotifera"}, Raw: "raw",
	}))
	got, err = s.GetSpeciesInfo(ctx, "api1", "轮虫")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Rotifera", got.Info.NameLatin)

	other, err := s.GetSpeciesInfo(ctx, "api2", "轮虫")
	require.NoError(t, err)
	assert.Nil(t, other)

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
