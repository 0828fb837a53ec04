package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                  { return s.name }
func (s stubChecker) Check(_ context.Context) error { return s.err }

type healthLog struct {
	mu     sync.Mutex
	states map[string]bool
}

func (h *healthLog) SetHealth(component string, up bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[component] = up
}

func serveHealth(t *testing.T, h *HealthHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthHandler_Liveness(t *testing.T) {
	w := serveHealth(t, NewHealthHandler("1.2.3", stubChecker{"db", assert.AnError}), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[LivenessResponse](t, w)
	assert.Equal(t, "alive", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestHealthHandler_Readiness(t *testing.T) {
	w := serveHealth(t, NewHealthHandler("dev"), "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode[ReadinessResponse](t, w).Status)

	w = serveHealth(t, NewHealthHandler("dev", stubChecker{name: "sqlite"}), "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)

	obs := &healthLog{states: map[string]bool{}}
	h := NewHealthHandler("dev", stubChecker{name: "sqlite"}, stubChecker{"redis", assert.AnError}).WithObserver(obs)
	w = serveHealth(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[ReadinessResponse](t, w)
	assert.Equal(t, "not_ready", body.Status)
	require.Contains(t, body.Components, "redis")
	assert.Equal(t, "unhealthy", body.Components["redis"].Status)
	assert.Equal(t, assert.AnError.Error(), body.Components["redis"].Error)
	assert.Equal(t, map[string]bool{"sqlite": true, "redis": false}, obs.states)
}

func TestHealthHandler_Detailed(t *testing.T) {
	w := serveHealth(t, NewHealthHandler("dev", stubChecker{name: "minio"}), "/healthz/detail")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[DetailedResponse](t, w)
	assert.Equal(t, "healthy", body.Status)
	assert.NotEmpty(t, body.Components["minio"].Latency)

	w = serveHealth(t, NewHealthHandler("dev", stubChecker{"minio", assert.AnError}), "/healthz/detail")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode[DetailedResponse](t, w).Status)
}
