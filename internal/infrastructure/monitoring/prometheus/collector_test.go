package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, c MetricsCollector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewMetricsCollector_RequiresNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{Subsystem: "unit"}, nil)
	assert.Error(t, err)
}

func TestNewMetricsCollector_WithRuntimeMetrics(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", EnableGoMetrics: true, EnableProcessMetrics: true}, nil)
	require.NoError(t, err)
	out := scrapeMetrics(t, c)
	assert.Contains(t, out, "go_goroutines")
}

func TestRegisterCounter_Duplicate(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("dup_total", "help", "kind").WithLabelValues("a").Inc()
	c.RegisterCounter("dup_total", "help", "kind").WithLabelValues("a").Add(2)

	expected := `
# HELP test_unit_dup_total help
# TYPE test_unit_dup_total counter
test_unit_dup_total{kind="a"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(c.Gatherer(), strings.NewReader(expected), "test_unit_dup_total"))
}

func TestRegister_TypeMismatchFallsBackToNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("shared", "help").WithLabelValues().Inc()
	g := c.RegisterGauge("shared", "help")
	assert.NotPanics(t, func() { g.WithLabelValues().Set(4) })

	n, err := testutil.GatherAndCount(c.Gatherer(), "test_unit_shared")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	out := scrapeMetrics(t, c)
	assert.Contains(t, out, "test_unit_shared 1")
	assert.NotContains(t, out, "test_unit_shared 4")
}

func TestRegisterHistogram_DefaultBuckets(t *testing.T) {
	c := newTestCollector(t)
	h := c.RegisterHistogram("latency_seconds", "help", nil, "op")
	timer := NewTimer(h.WithLabelValues("get"))
	time.Sleep(time.Millisecond)
	timer.ObserveDuration()

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_latency_seconds_count{op="get"} 1`)
	assert.Contains(t, out, `le="0.005"`)

	NewTimer(nil).ObserveDuration()
}
