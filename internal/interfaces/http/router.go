package http

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/handlers"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/middleware"
)

// APIPrefix is the mount point of the versioned API.
const APIPrefix = "/api/v1"

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree. Nil handlers leave their routes unregistered.
type RouterConfig struct {
	// Handlers
	BatchEditHandler *handlers.BatchEditHandler
	DatasetHandler   *handlers.DatasetHandler
	ReferenceHandler *handlers.ReferenceHandler
	HealthHandler    *handlers.HealthHandler

	// Middleware
	Logging     middleware.LoggingConfig
	CORS        *middleware.CORSConfig
	RateLimiter middleware.RateLimiter
	RateLimit   middleware.RateLimitConfig
	APIKeys     []string
	MaxBodySize int64

	// Infrastructure
	Logger           logging.Logger
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string
	Recorder         middleware.HTTPRecorder
}

// NewRouter builds the gin engine: global middleware, public health and
// metrics endpoints, then the API group behind key auth and rate limiting.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger, cfg.Logging, cfg.Recorder))
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.MaxBodySize > 0 {
		r.Use(middleware.MaxBodySize(cfg.MaxBodySize))
	}

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	api := r.Group(APIPrefix)
	api.Use(middleware.APIKeyAuth(cfg.APIKeys))
	if cfg.RateLimiter != nil {
		api.Use(middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit))
	}
	if cfg.BatchEditHandler != nil {
		cfg.BatchEditHandler.RegisterRoutes(api)
	}
	if cfg.DatasetHandler != nil {
		cfg.DatasetHandler.RegisterRoutes(api)
	}
	if cfg.ReferenceHandler != nil {
		cfg.ReferenceHandler.RegisterRoutes(api)
	}
	return r
}
