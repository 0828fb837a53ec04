// Worker entry point: consumes edits-applied events from Kafka and writes
// the audit log to object storage.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/internal/bootstrap"
	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/plankton-batchedit/internal/interfaces/http"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/handlers"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const (
	defaultHealthPort = 8081
	statsInterval     = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file (default: ./config.yaml, ./configs/config.yaml)")
	healthPort := flag.Int("health-port", defaultHealthPort, "port of the health and metrics endpoints")
	ensureTopics := flag.Bool("ensure-topics", true, "create missing topics on start")
	replication := flag.Int("replication", 1, "replication factor of created topics")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeFeatureDisabled, "kafka is disabled").WithDetail("set kafka.enabled")
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}
	logger = logger.Named("worker")
	defer func() { _ = logger.Sync() }()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The worker only reads events, so it neither publishes nor parses.
	rt, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{SkipAssistant: true, SkipEvents: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Runtime close failed", logging.Err(err))
		}
	}()
	if rt.Audit == nil {
		return errors.New(errors.ErrCodeFeatureDisabled, "audit log needs object storage").WithDetail("set minio.enabled")
	}

	if *ensureTopics {
		if err := createTopics(ctx, cfg.Kafka, *replication, logger); err != nil {
			return err
		}
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka, kafka.TopicEditsApplied), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("Consumer close failed", logging.Err(err))
		}
	}()

	var observer consumeObserver
	if rt.Metrics != nil {
		observer = rt.Metrics
	}
	recorder := newAuditRecorder(rt.Audit, observer, logger)
	if err := consumer.Subscribe(kafka.TopicEditsApplied, recorder.Handle); err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	srv := healthServer(rt, *healthPort)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("Audit worker started",
		logging.String("version", Version),
		logging.String("commit", GitCommit),
		logging.String("topic", kafka.TopicEditsApplied),
		logging.String("group", cfg.Kafka.GroupID),
	)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			s := consumer.Stats()
			logger.Info("Consumer stats",
				logging.Int64("consumed", s["consumed"]),
				logging.Int64("processed", s["processed"]),
				logging.Int64("dead_lettered", s["dead_lettered"]),
				logging.Int64("lag", s["lag"]),
			)
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			return srv.Stop(context.Background())
		}
	}
}

func createTopics(ctx context.Context, cfg config.KafkaConfig, replication int, logger logging.Logger) error {
	tm, err := kafka.TopicManagerFrom(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tm.Close() }()
	return tm.EnsureTopics(ctx, kafka.DefaultTopics(replication))
}

// healthServer serves the health endpoints and, when enabled, the metrics endpoint.
func healthServer(rt *bootstrap.Runtime, port int) *httpserver.Server {
	checkers := make([]handlers.HealthChecker, 0, len(rt.Checks))
	for _, c := range rt.Checks {
		checkers = append(checkers, c)
	}
	health := handlers.NewHealthHandler(Version, checkers...)
	rc := httpserver.RouterConfig{
		HealthHandler: health,
		Logger:        rt.Logger,
		MetricsPath:   rt.Config.Metrics.Path,
	}
	if rt.Collector != nil {
		rc.MetricsCollector = rt.Collector
	}
	if rt.Metrics != nil {
		health.WithObserver(rt.Metrics)
	}
	srvCfg := config.ServerConfig{
		Port:            port,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
	return httpserver.NewServer(srvCfg, httpserver.NewRouter(rc), rt.Logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(config.WithConfigPath(path))
	}
	cfg, err := config.Load(config.WithSearchPaths(".", "configs", "/etc/batchedit"))
	if stderrors.Is(err, config.ErrConfigFileNotFound) {
		return config.Load()
	}
	return cfg, err
}
