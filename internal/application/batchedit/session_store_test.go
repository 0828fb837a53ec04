package batchedit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func TestSessionStore_ExpiresIdleSessions(t *testing.T) {
	clock := newClock()
	st := NewSessionStore(time.Minute, 10, clock.Now)
	st.Put(domainbatch.NewParseSession("a", "ds", clock.Now()), nil)

	clock.Advance(50 * time.Second)
	_, err := st.Get("a")
	require.NoError(t, err, "access extends the lifetime")

	clock.Advance(50 * time.Second)
	_, err = st.Get("a")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	_, err = st.Get("a")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionNotFound))
	assert.Equal(t, 0, st.Len())
}

func TestSessionStore_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := newClock()
	st := NewSessionStore(time.Hour, 2, clock.Now)
	st.Put(domainbatch.NewParseSession("a", "ds", clock.Now()), nil)
	clock.Advance(time.Second)
	st.Put(domainbatch.NewParseSession("b", "ds", clock.Now()), nil)
	clock.Advance(time.Second)
	_, err := st.Get("a")
	require.NoError(t, err)

	st.Put(domainbatch.NewParseSession("c", "ds", clock.Now()), nil)
	assert.Equal(t, 2, st.Len())
	_, err = st.Get("b")
	assert.Error(t, err)
	_, err = st.Get("a")
	assert.NoError(t, err)
}

func TestSessionStore_SweepAndDelete(t *testing.T) {
	clock := newClock()
	st := NewSessionStore(time.Minute, 0, clock.Now)
	st.Put(domainbatch.NewParseSession("a", "ds", clock.Now()), nil)
	st.Put(domainbatch.NewParseSession("b", "ds", clock.Now()), nil)
	assert.True(t, st.Delete("b"))
	assert.False(t, st.Delete("b"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, st.Sweep())
	assert.Equal(t, 0, st.Len())
}

func TestSessionStore_RunStopsWithContext(t *testing.T) {
	st := NewSessionStore(time.Minute, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestSessionStore_SweepKeepsRecency(t *testing.T) {
	clock := newClock()
	st := NewSessionStore(time.Hour, 2, clock.Now)
	st.Put(domainbatch.NewParseSession("a", "ds", clock.Now()), nil)
	st.Put(domainbatch.NewParseSession("b", "ds", clock.Now()), nil)

	assert.Zero(t, st.Sweep())
	st.Put(domainbatch.NewParseSession("c", "ds", clock.Now()), nil)

	_, err := st.Get("a")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionNotFound), "a was least recently used")
	_, err = st.Get("b")
	assert.NoError(t, err)
	_, err = st.Get("c")
	assert.NoError(t, err)
}
