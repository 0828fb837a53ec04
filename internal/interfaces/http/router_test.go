package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appbatch "github.com/turtacn/plankton-batchedit/internal/application/batchedit"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/memory"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/handlers"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, mutate func(cfg *RouterConfig)) (*gin.Engine, *prometheus.AppMetrics) {
	t.Helper()
	store := memory.NewStore()
	svc := appbatch.NewService(appbatch.Dependencies{Datasets: store}, domainbatch.Settings{})

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "router_test"}, logging.NewNopLogger())
	require.NoError(t, err)
	metrics := prometheus.NewAppMetrics(collector)

	cfg := RouterConfig{
		BatchEditHandler: handlers.NewBatchEditHandler(svc, nil),
		DatasetHandler:   handlers.NewDatasetHandler(store, appbatch.NewStoreArchiver(store), nil, nil),
		ReferenceHandler: handlers.NewReferenceHandler(handlers.ReferenceDeps{Aliases: store}, nil),
		HealthHandler:    handlers.NewHealthHandler("test"),
		Logging:          middleware.DefaultLoggingConfig(),
		MetricsCollector: collector,
		Recorder:         metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(cfg), metrics
}

func get(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRouter_PublicEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, func(cfg *RouterConfig) { cfg.APIKeys = []string{"secret"} })

	w := get(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, http.StatusOK, get(r, "/readyz").Code)

	get(r, APIPrefix+"/datasets", middleware.HeaderAPIKey, "secret")
	w = get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `router_test_http_requests_total{method="GET",path="/api/v1/datasets",status_code="200"} 1`)
}

func TestNewRouter_APIRequiresKey(t *testing.T) {
	r, _ := newTestRouter(t, func(cfg *RouterConfig) { cfg.APIKeys = []string{"secret"} })

	assert.Equal(t, http.StatusUnauthorized, get(r, APIPrefix+"/datasets").Code)
	assert.Equal(t, http.StatusOK, get(r, APIPrefix+"/datasets", middleware.HeaderAPIKey, "secret").Code)
	assert.Equal(t, http.StatusOK, get(r, APIPrefix+"/aliases", "Authorization", "Bearer secret").Code)
}

func TestNewRouter_RoutesRegistered(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	want := map[string]bool{
		"POST " + APIPrefix + "/sessions":                        true,
		"GET " + APIPrefix + "/sessions/:sessionID":              true,
		"PATCH " + APIPrefix + "/sessions/:sessionID":            true,
		"DELETE " + APIPrefix + "/sessions/:sessionID":           true,
		"POST " + APIPrefix + "/sessions/:sessionID/reparse":     true,
		"POST " + APIPrefix + "/sessions/:sessionID/corrections": true,
		"POST " + APIPrefix + "/sessions/:sessionID/apply":       true,
		"GET " + APIPrefix + "/settings":                         true,
		"PUT " + APIPrefix + "/settings":                         true,
		"GET " + APIPrefix + "/datasets":                         true,
		"POST " + APIPrefix + "/datasets/:datasetID/snapshots":   true,
		"PUT " + APIPrefix + "/aliases/:alias":                   true,
		"GET /healthz/detail":                                    true,
		"GET /metrics":                                           true,
	}
	got := map[string]bool{}
	for _, route := range r.Routes() {
		got[route.Method+" "+route.Path] = true
	}
	for k := range want {
		assert.True(t, got[k], "missing route %s", k)
	}
	assert.False(t, got["GET "+APIPrefix+"/wetweights"], "nil stores leave routes out")
}

func TestNewRouter_MethodNotAllowedAndNotFound(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/nowhere").Code)
}

func TestNewRouter_RateLimit(t *testing.T) {
	r, _ := newTestRouter(t, func(cfg *RouterConfig) {
		cfg.RateLimiter = middleware.NewKeyedLimiter(0.001, 2, time.Minute)
		cfg.RateLimit = middleware.DefaultRateLimitConfig()
	})
	assert.Equal(t, http.StatusOK, get(r, APIPrefix+"/datasets").Code)
	assert.Equal(t, http.StatusOK, get(r, APIPrefix+"/datasets").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, APIPrefix+"/datasets").Code)
	assert.Equal(t, http.StatusOK, get(r, "/healthz").Code, "health endpoints sit outside the limited group")
}

func TestNewRouter_MaxBodySize(t *testing.T) {
	r, _ := newTestRouter(t, func(cfg *RouterConfig) { cfg.MaxBodySize = 16 })
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/sessions",
		strings.NewReader(`{"datasetId":"x","input":"1号点的轮虫改为5"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too large")
}

func TestServer_ServeAndStop(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	srv := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, r, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alive")

	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, <-done)
	assert.Same(t, r, srv.Handler())
}
