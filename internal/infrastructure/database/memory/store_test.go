package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

func TestStore_DatasetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := dataset.NewDataset("太湖", 20)

	require.NoError(t, s.Save(ctx, d))
	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.TitlePrefix, got.TitlePrefix)

	got.Points[0].Label = "changed"
	again, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Points[0].Label, "stored copy must not alias callers")

	require.NoError(t, s.Delete(ctx, d.ID))
	_, err = s.Get(ctx, d.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetNotFound))
	assert.True(t, errors.IsCode(s.Delete(ctx, d.ID), errors.ErrCodeDatasetNotFound))
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	err := NewStore().Save(context.Background(), &dataset.Dataset{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetInvalid))
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, prefix := range []string{"a", "b", "c"} {
		d := dataset.NewDataset(prefix, 20)
		d.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Save(ctx, d))
	}

	list, total, err := s.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].TitlePrefix)
	assert.Equal(t, "b", list[1].TitlePrefix)

	list, _, err = s.List(ctx, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReferenceLibraries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.UpsertAlias(ctx, reference.Alias{Alias: " 轮虫 ", Canonical: "臂尾轮虫"}))
	assert.Error(t, s.UpsertAlias(ctx, reference.Alias{Alias: "x"}))
	assert.Equal(t, map[string]string{"轮虫": "臂尾轮虫"}, reference.AliasMap(ctx, s))
	require.NoError(t, s.DeleteAlias(ctx, "轮虫"))
	assert.Empty(t, reference.AliasMap(ctx, s))

	miss, err := s.FindWetWeight(ctx, "桡足类")
	require.NoError(t, err)
	assert.Nil(t, miss)
	require.NoError(t, s.UpsertWetWeight(ctx, reference.WetWeightEntry{NameCn: "桡足类", WetWeightMg: 0.05}))
	hit, err := s.FindWetWeight(ctx, "桡足类")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.InDelta(t, 0.05, hit.WetWeightMg, 1e-9)

	require.NoError(t, s.UpsertTaxonomy(ctx, reference.TaxonomyRecord{NameCn: "晶囊轮虫", Taxonomy: dataset.Taxonomy{Lvl1: "轮虫类"}}))
	names, err := s.ListTaxonomyNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"晶囊轮虫"}, names)
}

func TestSpeciesInfoCache(t *testing.T) {
	ctx := context.Background()
	c := NewSpeciesInfoCache()

	got, err := c.GetSpeciesInfo(ctx, "api1", "轮虫")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.PutSpeciesInfo(ctx, reference.CachedSpeciesInfo{APITag: "api1", NameCn: "轮虫", Raw: "{}"}))
	got, err = c.GetSpeciesInfo(ctx, "api1", "轮虫")
	require.NoError(t, err)
	require.NotNil(t, got)

	other, err := c.GetSpeciesInfo(ctx, "api2", "轮虫")
	require.NoError(t, err)
	assert.Nil(t, other, "entries are scoped by provenance")

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestLocker_SerializesPerDataset(t *testing.T) {
	ctx := context.Background()
	l := NewLocker()

	release, err := l.Acquire(ctx, "d1")
	require.NoError(t, err)

	other, err := l.Acquire(ctx, "d2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "d1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetLocked))

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		r, err := l.Acquire(ctx, "d1")
		if err == nil {
			close(acquired)
			_ = r(ctx)
		}
	}()
	require.NoError(t, release(ctx))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	wg.Wait()
	assert.Error(t, release(ctx), "double release is reported")
}
