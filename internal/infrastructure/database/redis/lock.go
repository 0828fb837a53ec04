package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeDatasetLocked, "dataset is locked by another writer")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "dataset lock not held by this owner")
)

type LockOption func(*lockConfig)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

func WithRetryDelay(delay time.Duration) LockOption {
	return func(c *lockConfig) { c.retryDelay = delay }
}

// WithRetryCount bounds the SetNX attempts. Zero retries until ctx ends.
func WithRetryCount(count int) LockOption {
	return func(c *lockConfig) { c.retryCount = count }
}

func WithWatchdogInterval(interval time.Duration) LockOption {
	return func(c *lockConfig) { c.watchdogInterval = interval }
}

type lockConfig struct {
	ttl              time.Duration
	retryDelay       time.Duration
	retryCount       int
	watchdogInterval time.Duration
}

// DatasetLocker holds one redis mutex per dataset while a batch edit is
// committed. A watchdog keeps the key alive for long commits.
type DatasetLocker struct {
	client *Client
	config lockConfig
	logger logging.Logger
}

// NewDatasetLocker creates a locker. The default TTL is 30s with the
// watchdog extending it every ttl/3.
func NewDatasetLocker(client *Client, log logging.Logger, opts ...LockOption) *DatasetLocker {
	cfg := lockConfig{
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = 30 * time.Second
	}
	if cfg.watchdogInterval <= 0 {
		cfg.watchdogInterval = cfg.ttl / 3
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &DatasetLocker{client: client, config: cfg, logger: log}
}

var mutexUnlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var mutexExtendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (l *DatasetLocker) lockKey(datasetID string) string {
	return l.client.Key("lock", "dataset", datasetID)
}

// Acquire takes the dataset lock and returns its release func.
func (l *DatasetLocker) Acquire(ctx context.Context, datasetID string) (func(context.Context) error, error) {
	m := &datasetMutex{
		rdb:    l.client.GetUnderlyingClient(),
		key:    l.lockKey(datasetID),
		value:  uuid.New().String(),
		config: l.config,
		logger: l.logger.With(logging.DatasetID(datasetID)),
	}
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	return m.unlock, nil
}

type datasetMutex struct {
	rdb    redis.UniversalClient
	key    string
	value  string
	config lockConfig
	logger logging.Logger

	mu             sync.Mutex
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
	released       bool
}

func (m *datasetMutex) lock(ctx context.Context) error {
	for attempt := 0; m.config.retryCount == 0 || attempt < m.config.retryCount; attempt++ {
		ok, err := m.rdb.SetNX(ctx, m.key, m.value, m.config.ttl).Result()
		if err != nil && err != redis.Nil {
			return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set dataset lock")
		}
		if ok {
			m.startWatchdog()
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrLockNotAcquired.WithCause(ctx.Err())
		case <-time.After(m.config.retryDelay):
		}
	}
	return ErrLockNotAcquired
}

func (m *datasetMutex) unlock(ctx context.Context) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return ErrLockNotHeld
	}
	m.released = true
	m.mu.Unlock()

	m.stopWatchdog()
	res, err := mutexUnlockScript.Run(ctx, m.rdb, []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release dataset lock")
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (m *datasetMutex) extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := mutexExtendScript.Run(ctx, m.rdb, []string{m.key}, m.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (m *datasetMutex) startWatchdog() {
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})
	go runWatchdog(ctx, m.extend, m.config.watchdogInterval, m.config.ttl, m.logger, m.watchdogDone)
}

func (m *datasetMutex) stopWatchdog() {
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		<-m.watchdogDone
		m.watchdogCancel = nil
	}
}

func runWatchdog(ctx context.Context, extendFn func(context.Context, time.Duration) (bool, error), interval, ttl time.Duration, log logging.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := extendFn(ctx, ttl)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("Watchdog failed to extend dataset lock", logging.Err(err))
				}
				return
			}
			if !ok {
				log.Warn("Watchdog lost dataset lock")
				return
			}
		}
	}
}
