package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
)

// HTTPRecorder receives one observation per completed request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, statusCode int, d time.Duration)
}

// LoggingConfig holds configuration for the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are not logged. They are still recorded.
	SkipPaths []string

	// SlowThreshold logs successful requests above it at Warn.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig skips the health endpoints.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// RequestLogging logs every request once it completes and reports it to
// recorder, which may be nil. Metrics are labelled with the route template
// so path parameters do not explode label cardinality.
func RequestLogging(logger logging.Logger, config LoggingConfig, recorder HTTPRecorder) gin.HandlerFunc {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if recorder != nil {
			recorder.RecordHTTPRequest(c.Request.Method, route, status, duration)
		}
		if skipSet[c.Request.URL.Path] {
			return
		}

		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.String("route", route),
			logging.Int("status", status),
			logging.Duration("duration", duration),
			logging.Int("bytes", max(c.Writer.Size(), 0)),
			logging.String("client_ip", c.ClientIP()),
			logging.String(logging.KeyRequestID, GetRequestID(c)),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, logging.String("user_agent", ua))
		}
		if keyID := GetAPIKeyID(c); keyID != "" {
			fields = append(fields, logging.String("api_key_id", keyID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logging.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request completed with server error", fields...)
		case status >= 400:
			logger.Warn("HTTP request completed with client error", fields...)
		case config.SlowThreshold > 0 && duration >= config.SlowThreshold:
			logger.Warn("HTTP request completed (slow)", fields...)
		default:
			logger.Info("HTTP request completed", fields...)
		}
	}
}
