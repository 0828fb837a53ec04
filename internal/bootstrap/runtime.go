// Package bootstrap assembles the batch-edit service and its adapters from
// configuration. The API server, the audit worker and the CLI share it.
package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	appbatch "github.com/turtacn/plankton-batchedit/internal/application/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/config"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/memory"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/postgres"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/redis"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/sqlite"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/storage/minio"
	"github.com/turtacn/plankton-batchedit/internal/intelligence/assistant"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Check is one named dependency check.
type Check struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck builds a check.
func NewCheck(name string, fn func(ctx context.Context) error) Check {
	return Check{name: name, fn: fn}
}

// Name returns the component name.
func (c Check) Name() string { return c.name }

// Check runs the check.
func (c Check) Check(ctx context.Context) error { return c.fn(ctx) }

// Runtime holds every wired component. Optional adapters are nil when their
// section is disabled.
type Runtime struct {
	Config *config.Config
	Logger logging.Logger

	Datasets   dataset.Repository
	Aliases    reference.AliasStore
	WetWeights reference.WetWeightLibrary
	Taxonomy   reference.TaxonomyLibrary
	Cache      reference.SpeciesInfoCache

	Sessions  *appbatch.SessionStore
	Service   appbatch.Service
	Parser    *domainbatch.Parser
	API1      *assistant.Client
	API2      *assistant.Client
	Snapshots *minio.SnapshotArchive
	Audit     *minio.AuditLog
	Producer  *kafka.Producer

	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics

	Checks []Check

	closers []func() error
}

// Options tune New.
type Options struct {
	// SkipAssistant leaves both endpoints unconfigured.
	SkipAssistant bool
	// SkipEvents disables the Kafka publisher even when configured.
	SkipEvents bool
	Now        func() time.Time
}

// New wires the runtime described by cfg. On error everything opened so far
// is closed again.
func New(ctx context.Context, cfg *config.Config, log logging.Logger, opts Options) (_ *Runtime, err error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	rt := &Runtime{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		collector, cerr := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableGoMetrics:      true,
			EnableProcessMetrics: true,
		}, log)
		if cerr != nil {
			return nil, errors.Wrap(cerr, errors.ErrCodeInternal, "failed to create metrics collector")
		}
		rt.Collector = collector
		rt.Metrics = prometheus.NewAppMetrics(collector)
	}

	if err = rt.openStorage(ctx); err != nil {
		return nil, err
	}
	if err = rt.layerBuiltin(); err != nil {
		return nil, err
	}

	var locker appbatch.Locker = memory.NewLocker()
	if cfg.Redis.Enabled {
		client, rerr := redis.NewClient(cfg.Redis, log)
		if rerr != nil {
			return nil, rerr
		}
		rt.closers = append(rt.closers, client.Close)
		rt.Checks = append(rt.Checks, NewCheck("redis", client.Ping))
		rt.Cache = redis.NewSpeciesInfoCache(client, log, redis.WithTTL(cfg.Redis.CacheTTL))
		locker = redis.NewDatasetLocker(client, log, redis.WithLockTTL(cfg.Redis.LockTTL))
	}
	cacheName := cfg.Storage.Driver
	if cfg.Redis.Enabled {
		cacheName = "redis"
	}
	if rt.Cache == nil {
		rt.Cache = memory.NewSpeciesInfoCache()
		cacheName = "memory"
	}
	if rt.Metrics != nil {
		rt.Cache = newMeteredCache(rt.Cache, cacheName, rt.Metrics)
	}

	var archiver appbatch.SnapshotArchiver = appbatch.NewStoreArchiver(rt.Datasets)
	if cfg.MinIO.Enabled {
		client, merr := minio.NewClient(ctx, cfg.MinIO, log)
		if merr != nil {
			return nil, merr
		}
		if merr = client.EnsureBucket(ctx); merr != nil {
			return nil, merr
		}
		rt.closers = append(rt.closers, client.Close)
		rt.Checks = append(rt.Checks, NewCheck("minio", client.HealthCheck))
		rt.Snapshots = minio.NewSnapshotArchive(client, log)
		rt.Audit = minio.NewAuditLog(client, log)
		archiver = rt.Snapshots
	}

	var events appbatch.EventPublisher
	if cfg.Kafka.Enabled && !opts.SkipEvents {
		producer, kerr := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), log)
		if kerr != nil {
			return nil, kerr
		}
		rt.Producer = producer
		rt.closers = append(rt.closers, producer.Close)
		events = kafka.NewEditsPublisher(producer, kafka.TopicEditsApplied, log)
	}

	if !opts.SkipAssistant {
		var observer assistant.CallObserver
		if rt.Metrics != nil {
			observer = rt.Metrics
		}
		if rt.API1, rt.API2, err = assistant.NewEndpoints(ctx, cfg.Assistant, observer, log); err != nil {
			return nil, err
		}
	}
	rt.Parser = assistant.Parser(rt.API1, rt.API2)

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	rt.Sessions = appbatch.NewSessionStore(cfg.BatchEdit.SessionTTL, cfg.BatchEdit.MaxSessions, now)

	deps := appbatch.Dependencies{
		Datasets:   rt.Datasets,
		Aliases:    rt.Aliases,
		WetWeights: rt.WetWeights,
		Taxonomy:   rt.Taxonomy,
		Cache:      rt.Cache,
		Parser:     rt.Parser,
		Locker:     locker,
		Archiver:   archiver,
		Events:     events,
		Sessions:   rt.Sessions,
		Logger:     log,
		Now:        now,
	}
	if rt.Metrics != nil {
		deps.Metrics = rt.Metrics
	}
	rt.Service = appbatch.NewService(deps, SettingsFrom(cfg.BatchEdit))

	log.Info("Runtime assembled",
		logging.String("storage", cfg.Storage.Driver),
		logging.Bool("redis", cfg.Redis.Enabled),
		logging.Bool("minio", cfg.MinIO.Enabled),
		logging.Bool("kafka", events != nil),
		logging.Bool("api1", rt.API1 != nil),
		logging.Bool("api2", rt.API2 != nil),
	)
	return rt, nil
}

func (rt *Runtime) openStorage(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.Storage.Driver {
	case "memory":
		store := memory.NewStore()
		rt.Datasets, rt.Aliases, rt.WetWeights, rt.Taxonomy = store, store, store, store
		return nil

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite, rt.Logger)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, store.Close)
		rt.Checks = append(rt.Checks, NewCheck("sqlite", store.Ping))
		rt.Datasets, rt.Aliases, rt.WetWeights, rt.Taxonomy = store, store, store, store
		if !cfg.Redis.Enabled {
			rt.Cache = store
		}
		return nil

	case "postgres":
		conn, err := postgres.NewConnection(cfg.Database, rt.Logger)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, conn.Close)
		rt.Checks = append(rt.Checks, NewCheck("postgres", conn.HealthCheck))
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(cfg.Database, rt.Logger).Up(); err != nil {
				return err
			}
		}
		pool, err := postgres.NewConnectionPool(ctx, cfg.Database, rt.Logger)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

		refs := repositories.NewReferenceRepository(conn, rt.Logger)
		rt.Datasets = repositories.NewDatasetRepository(pool, rt.Logger)
		rt.Aliases, rt.WetWeights, rt.Taxonomy = refs, refs, refs
		return nil

	default:
		return errors.InvalidParam("unsupported storage driver").WithDetail(cfg.Storage.Driver)
	}
}

// layerBuiltin puts the builtin reference document under the custom
// libraries when one is configured.
func (rt *Runtime) layerBuiltin() error {
	path := strings.TrimSpace(rt.Config.Storage.ReferencePath)
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeNotFound, "failed to open reference library").WithDetail(path)
	}
	defer f.Close()
	builtin, err := reference.LoadBuiltin(f)
	if err != nil {
		return err
	}
	rt.WetWeights = &reference.LayeredWetWeights{Custom: rt.WetWeights, Builtin: builtin}
	rt.Taxonomy = &reference.LayeredTaxonomy{Custom: rt.Taxonomy, Builtin: builtin}
	rt.Logger.Info("Builtin reference library loaded",
		logging.String("path", path),
		logging.Int("wet_weights", len(builtin.WetWeights)),
		logging.Int("taxonomies", len(builtin.Taxonomies)),
	)
	return nil
}

// Close releases every opened adapter in reverse order and returns the
// first error.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}

// SettingsFrom maps the batch-edit configuration section to domain settings.
func SettingsFrom(cfg config.BatchEditConfig) domainbatch.Settings {
	return domainbatch.Settings{
		RequireConfirm:     cfg.RequireConfirm,
		AutoCorrect:        cfg.AutoCorrect,
		DefaultVOrigL:      cfg.DefaultVOrigL,
		AutoMatchWriteToDb: cfg.AutoMatchWriteToDb,
	}
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (logging.Logger, error) {
	return logging.NewLogger(logging.LogConfig{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Output,
	})
}
