package batchedit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/memory"
)

func TestStoreArchiver_SavesReadOnlyCopy(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := dataset.NewDataset("洱海", 20)
	require.NoError(t, store.Save(ctx, d))

	a := NewStoreArchiver(store)
	a.now = func() time.Time { return time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC) }

	key, err := a.Archive(ctx, d, snapshotReasonBatchEdit)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "dataset:"))

	snap, err := store.Get(ctx, strings.TrimPrefix(key, "dataset:"))
	require.NoError(t, err)
	assert.True(t, snap.ReadOnly)
	assert.Equal(t, d.ID, snap.SnapshotSourceID)
	assert.Equal(t, "快照 2024-07-01 09:30 批量编辑前 - 洱海", snap.TitlePrefix)

	_, err = a.Archive(ctx, nil, "x")
	assert.Error(t, err)
}
