package main

import (
	"context"
	"time"

	appbatch "github.com/turtacn/plankton-batchedit/internal/application/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/bootstrap"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/plankton-batchedit/internal/interfaces/http"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/handlers"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/middleware"
)

// routerConfig mounts every handler on the runtime. limiter may be nil.
func routerConfig(rt *bootstrap.Runtime, limiter *middleware.KeyedLimiter) httpserver.RouterConfig {
	cfg := rt.Config
	log := rt.Logger

	var archiver appbatch.SnapshotArchiver = appbatch.NewStoreArchiver(rt.Datasets)
	if rt.Snapshots != nil {
		archiver = rt.Snapshots
	}

	checkers := make([]handlers.HealthChecker, 0, len(rt.Checks))
	for _, c := range rt.Checks {
		checkers = append(checkers, c)
	}
	health := handlers.NewHealthHandler(Version, checkers...)

	rc := httpserver.RouterConfig{
		BatchEditHandler: handlers.NewBatchEditHandler(rt.Service, log),
		DatasetHandler: handlers.NewDatasetHandler(rt.Datasets, archiver, func() float64 {
			return rt.Service.Settings().DefaultVOrigL
		}, log),
		ReferenceHandler: handlers.NewReferenceHandler(handlers.ReferenceDeps{
			Aliases:    rt.Aliases,
			WetWeights: rt.WetWeights,
			Taxonomy:   rt.Taxonomy,
			Cache:      rt.Cache,
		}, log),
		HealthHandler: health,
		Logging:       middleware.DefaultLoggingConfig(),
		RateLimit:     middleware.DefaultRateLimitConfig(),
		APIKeys:       cfg.Server.APIKeys,
		MaxBodySize:   cfg.Server.MaxBodySize,
		Logger:        log,
		MetricsPath:   cfg.Metrics.Path,
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.CORSOrigins
		cors.AllowWildcard = true
		rc.CORS = &cors
	}
	if limiter != nil {
		rc.RateLimiter = limiter
	}
	if rt.Collector != nil {
		rc.MetricsCollector = rt.Collector
	}
	if rt.Metrics != nil {
		health.WithObserver(rt.Metrics)
		rc.Recorder = rt.Metrics
	}
	return rc
}

// newLimiter returns nil when rate limiting is off.
func newLimiter(rt *bootstrap.Runtime) *middleware.KeyedLimiter {
	s := rt.Config.Server
	if s.RateLimit <= 0 {
		return nil
	}
	return middleware.NewKeyedLimiter(s.RateLimit, s.RateBurst, 10*time.Minute)
}

// sweepSessions drops expired batch-edit sessions every interval and
// publishes the live count.
func sweepSessions(ctx context.Context, rt *bootstrap.Runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rt.Sessions.Sweep(); n > 0 {
				rt.Logger.Debug("Expired sessions removed", logging.Int("count", n))
			}
			if rt.Metrics != nil {
				rt.Metrics.SetSessionsActive(rt.Sessions.Len())
			}
		}
	}
}

// sweepInterval is half the session TTL, at least a second.
func sweepInterval(ttl time.Duration) time.Duration {
	if iv := ttl / 2; iv >= time.Second {
		return iv
	}
	return time.Second
}
