package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/plankton-batchedit/pkg/errors"
)

func newLockClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c := NewClientFromUniversal(rdb, "", logging.NewNopLogger())
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestDatasetLocker_AcquireRelease(t *testing.T) {
	mr, client := newLockClient(t)
	locker := NewDatasetLocker(client, logging.NewNopLogger(), WithLockTTL(time.Second))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ds-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("plankton:lock:dataset:ds-1"))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("plankton:lock:dataset:ds-1"))

	err = release(ctx)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeConflict))
}

func TestDatasetLocker_Contention(t *testing.T) {
	_, client := newLockClient(t)
	locker := NewDatasetLocker(client, logging.NewNopLogger(),
		WithRetryCount(2), WithRetryDelay(10*time.Millisecond))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ds-1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "ds-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDatasetLocked))

	other, err := locker.Acquire(ctx, "ds-2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "ds-1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestDatasetLocker_ContextCancelStopsWaiting(t *testing.T) {
	_, client := newLockClient(t)
	locker := NewDatasetLocker(client, logging.NewNopLogger(), WithRetryDelay(5*time.Millisecond))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ds-1")
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(short, "ds-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDatasetLocked))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDatasetLocker_WatchdogExtendsTTL(t *testing.T) {
	mr, client := newLockClient(t)
	locker := NewDatasetLocker(client, logging.NewNopLogger(),
		WithLockTTL(time.Second), WithWatchdogInterval(20*time.Millisecond))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ds-1")
	require.NoError(t, err)

	// miniredis only moves its clock on FastForward, so a renewed PEXPIRE
	// shows up as the TTL snapping back to the full second.
	mr.FastForward(600 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("plankton:lock:dataset:ds-1") > 900*time.Millisecond
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, release(ctx))
}

func TestDatasetLocker_LostLockReportsNotHeld(t *testing.T) {
	mr, client := newLockClient(t)
	locker := NewDatasetLocker(client, logging.NewNopLogger())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ds-1")
	require.NoError(t, err)
	mr.Del("plankton:lock:dataset:ds-1")

	err = release(ctx)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeConflict))
}
