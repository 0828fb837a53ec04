// API server entry point for the plankton batch-edit service.
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
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/plankton-batchedit/internal/interfaces/http"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file (default: ./config.yaml, ./configs/config.yaml)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Runtime close failed", logging.Err(err))
		}
	}()

	limiter := newLimiter(rt)
	if limiter != nil {
		go limiter.Run(ctx, time.Minute)
	}
	go sweepSessions(ctx, rt, sweepInterval(cfg.BatchEdit.SessionTTL))

	if *configPath != "" {
		err := config.Watch(*configPath, func(next *config.Config) {
			rt.Service.UpdateSettings(bootstrap.SettingsFrom(next.BatchEdit))
			logger.Info("Batch-edit settings reloaded", logging.String("path", *configPath))
		}, func(err error) {
			logger.Warn("Ignoring invalid config change", logging.Err(err))
		})
		if err != nil {
			logger.Warn("Config watch disabled", logging.Err(err))
		}
	}

	srv := httpserver.NewServer(cfg.Server, httpserver.NewRouter(routerConfig(rt, limiter)), logger)
	logger.Info("Starting batch-edit API server",
		logging.String("version", Version),
		logging.String("commit", GitCommit),
		logging.Int("port", cfg.Server.Port),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received")
	return srv.Stop(context.Background())
}

// loadConfig reads path, or searches the default locations and falls back
// to built-in defaults when no file exists.
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
