package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const (
	speciesInfoNamespace = "species_info"
	defaultCacheTTL      = 30 * 24 * time.Hour
	scanBatch            = 200
)

// SpeciesInfoCache stores assistant species-info answers as JSON strings
// under <prefix>species_info:<apiTag>:<nameCn>. Concurrent reads of the same
// key share one round trip.
type SpeciesInfoCache struct {
	client *Client
	ttl    time.Duration
	group  singleflight.Group
	logger logging.Logger
}

// CacheOption configures a SpeciesInfoCache.
type CacheOption func(*SpeciesInfoCache)

// WithTTL sets the base entry lifetime. Zero keeps entries forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *SpeciesInfoCache) { c.ttl = ttl }
}

// NewSpeciesInfoCache returns a reference.SpeciesInfoCache backed by client.
func NewSpeciesInfoCache(client *Client, log logging.Logger, opts ...CacheOption) *SpeciesInfoCache {
	c := &SpeciesInfoCache{client: client, ttl: defaultCacheTTL, logger: log}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	return c
}

func (c *SpeciesInfoCache) key(apiTag, nameCn string) string {
	return c.client.Key(speciesInfoNamespace, apiTag, strings.TrimSpace(nameCn))
}

// jitterTTL spreads expiry by +/-10% so entries written together do not
// expire together.
func (c *SpeciesInfoCache) jitterTTL() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitter := float64(c.ttl) * 0.1 * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(jitter)
}

// GetSpeciesInfo implements reference.SpeciesInfoCache.
func (c *SpeciesInfoCache) GetSpeciesInfo(ctx context.Context, apiTag, nameCn string) (*reference.CachedSpeciesInfo, error) {
	key := c.key(apiTag, nameCn)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		data, err := c.client.GetUnderlyingClient().Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read species info")
		}
		var entry reference.CachedSpeciesInfo
		if err := json.Unmarshal(data, &entry); err != nil {
			c.logger.Warn("Dropping undecodable species info entry", logging.String("key", key), logging.Err(err))
			return nil, nil
		}
		return &entry, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	entry := *v.(*reference.CachedSpeciesInfo)
	return &entry, nil
}

// PutSpeciesInfo implements reference.SpeciesInfoCache.
func (c *SpeciesInfoCache) PutSpeciesInfo(ctx context.Context, entry reference.CachedSpeciesInfo) error {
	if strings.TrimSpace(entry.APITag) == "" || strings.TrimSpace(entry.NameCn) == "" {
		return errors.InvalidParam("apiTag and nameCn are required")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode species info")
	}
	key := c.key(entry.APITag, entry.NameCn)
	if err := c.client.GetUnderlyingClient().Set(ctx, key, data, c.jitterTTL()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write species info")
	}
	return nil
}

// Clear implements reference.SpeciesInfoCache. It deletes every entry under
// the namespace and reports how many keys went away.
func (c *SpeciesInfoCache) Clear(ctx context.Context) (int64, error) {
	rdb := c.client.GetUnderlyingClient()
	match := c.client.Key(speciesInfoNamespace, "*")
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan species info")
		}
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete species info")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("Species info cache cleared", logging.Int64("deleted", deleted))
	return deleted, nil
}
