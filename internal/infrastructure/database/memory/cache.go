package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// SpeciesInfoCache is an in-process reference.SpeciesInfoCache.
type SpeciesInfoCache struct {
	mu      sync.RWMutex
	entries map[string]reference.CachedSpeciesInfo
}

// NewSpeciesInfoCache creates an empty cache.
func NewSpeciesInfoCache() *SpeciesInfoCache {
	return &SpeciesInfoCache{entries: make(map[string]reference.CachedSpeciesInfo)}
}

func cacheKey(apiTag, nameCn string) string {
	return apiTag + "::" + strings.TrimSpace(nameCn)
}

// GetSpeciesInfo implements reference.SpeciesInfoCache.
func (c *SpeciesInfoCache) GetSpeciesInfo(_ context.Context, apiTag, nameCn string) (*reference.CachedSpeciesInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[cacheKey(apiTag, nameCn)]; ok {
		return &e, nil
	}
	return nil, nil
}

// PutSpeciesInfo implements reference.SpeciesInfoCache.
func (c *SpeciesInfoCache) PutSpeciesInfo(_ context.Context, e reference.CachedSpeciesInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(e.APITag, e.NameCn)] = e
	return nil
}

// Clear implements reference.SpeciesInfoCache.
func (c *SpeciesInfoCache) Clear(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.entries))
	c.entries = make(map[string]reference.CachedSpeciesInfo)
	return n, nil
}

// Locker serializes work per dataset inside one process. Acquire waits
// until the dataset is free or ctx ends.
type Locker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]chan struct{})}
}

// Acquire blocks until datasetID is free and returns its release func.
func (l *Locker) Acquire(ctx context.Context, datasetID string) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[datasetID]
		if !busy {
			done := make(chan struct{})
			l.held[datasetID] = done
			l.mu.Unlock()
			return l.releaser(datasetID, done), nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeDatasetLocked, "dataset lock not acquired")
		case <-wait:
		}
	}
}

func (l *Locker) releaser(datasetID string, done chan struct{}) func(context.Context) error {
	var once sync.Once
	return func(context.Context) error {
		released := false
		once.Do(func() {
			l.mu.Lock()
			if l.held[datasetID] == done {
				delete(l.held, datasetID)
			}
			l.mu.Unlock()
			close(done)
			released = true
		})
		if !released {
			return errors.New(errors.ErrCodeConflict, "dataset lock already released")
		}
		return nil
	}
}
