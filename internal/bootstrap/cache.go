package bootstrap

import (
	"context"

	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
)

// CacheObserver receives species-info cache lookups.
type CacheObserver interface {
	RecordCacheLookup(cache string, hit bool)
}

// meteredCache reports hits and misses of the wrapped cache.
type meteredCache struct {
	reference.SpeciesInfoCache
	name     string
	observer CacheObserver
}

func newMeteredCache(inner reference.SpeciesInfoCache, name string, observer CacheObserver) reference.SpeciesInfoCache {
	if observer == nil {
		return inner
	}
	return &meteredCache{SpeciesInfoCache: inner, name: name, observer: observer}
}

func (c *meteredCache) GetSpeciesInfo(ctx context.Context, apiTag, nameCn string) (*reference.CachedSpeciesInfo, error) {
	got, err := c.SpeciesInfoCache.GetSpeciesInfo(ctx, apiTag, nameCn)
	if err == nil {
		c.observer.RecordCacheLookup(c.name, got != nil)
	}
	return got, err
}
