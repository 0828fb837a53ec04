package prometheus

import (
	"strconv"
	"time"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
)

// Default buckets.
var (
	DefaultHTTPDurationBuckets      = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultApplyDurationBuckets     = []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5}
	DefaultAssistantDurationBuckets = []float64{.5, 1, 2, 5, 10, 30, 60, 120}
	DefaultCountBuckets             = []float64{0, 1, 2, 5, 10, 20, 50, 100, 200}
)

// AppMetrics holds every metric of the batch-edit service.
type AppMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Batch-edit sessions
	SessionsStarted    CounterVec
	SessionsActive     GaugeVec
	ParseTotal         CounterVec
	ParseWarnings      HistogramVec
	PreviewLines       CounterVec
	PendingItems       HistogramVec
	PendingCorrections HistogramVec
	ApplyTotal         CounterVec
	ApplyDuration      HistogramVec
	EditsApplied       CounterVec
	EditsFailed        CounterVec

	// Assistant
	AssistantRequests CounterVec
	AssistantDuration HistogramVec

	// Infrastructure
	CacheLookups   CounterVec
	EventsConsumed CounterVec
	HealthCheckUp  GaugeVec
}

// NewAppMetrics registers all metrics on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests")

	m.SessionsStarted = collector.RegisterCounter("sessions_started_total", "Batch-edit sessions started", "mode")
	m.SessionsActive = collector.RegisterGauge("sessions_active", "Open batch-edit sessions")
	m.ParseTotal = collector.RegisterCounter("parse_total", "Parses by requested and effective mode", "requested", "used")
	m.ParseWarnings = collector.RegisterHistogram("parse_warnings", "Parser warnings per parse", DefaultCountBuckets)
	m.PreviewLines = collector.RegisterCounter("preview_lines_total", "Preview lines by severity", "severity")
	m.PendingItems = collector.RegisterHistogram("pending_items", "Pending items per preview", DefaultCountBuckets)
	m.PendingCorrections = collector.RegisterHistogram("pending_corrections", "Pending corrections per preview", DefaultCountBuckets)
	m.ApplyTotal = collector.RegisterCounter("apply_total", "Apply attempts by outcome", "outcome")
	m.ApplyDuration = collector.RegisterHistogram("apply_duration_seconds", "Apply duration", DefaultApplyDurationBuckets, "outcome")
	m.EditsApplied = collector.RegisterCounter("edits_applied_total", "Edits committed")
	m.EditsFailed = collector.RegisterCounter("edits_failed_total", "Edits that failed during commit")

	m.AssistantRequests = collector.RegisterCounter("assistant_requests_total", "Assistant calls", "endpoint", "operation", "status")
	m.AssistantDuration = collector.RegisterHistogram("assistant_request_duration_seconds", "Assistant call duration", DefaultAssistantDurationBuckets, "endpoint", "operation")

	m.CacheLookups = collector.RegisterCounter("cache_lookups_total", "Cache lookups", "cache", "result")
	m.EventsConsumed = collector.RegisterCounter("events_consumed_total", "Consumed events by result", "topic", "result")
	m.HealthCheckUp = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")

	return m
}

// RecordSessionStarted counts a new session.
func (m *AppMetrics) RecordSessionStarted(mode string) {
	m.SessionsStarted.WithLabelValues(mode).Inc()
}

// SetSessionsActive publishes the number of open sessions.
func (m *AppMetrics) SetSessionsActive(n int) {
	m.SessionsActive.WithLabelValues().Set(float64(n))
}

// RecordParse counts a parse and its warnings.
func (m *AppMetrics) RecordParse(requested, used string, warnings int) {
	m.ParseTotal.WithLabelValues(requested, used).Inc()
	m.ParseWarnings.WithLabelValues().Observe(float64(warnings))
}

// RecordPreview counts preview lines by severity and the open items.
func (m *AppMetrics) RecordPreview(lines []domainbatch.PreviewLine, pending, corrections int) {
	counts := make(map[domainbatch.Severity]int, 3)
	for _, l := range lines {
		counts[l.Severity]++
	}
	for sev, n := range counts {
		m.PreviewLines.WithLabelValues(string(sev)).Add(float64(n))
	}
	m.PendingItems.WithLabelValues().Observe(float64(pending))
	m.PendingCorrections.WithLabelValues().Observe(float64(corrections))
}

// RecordApply counts an apply attempt.
func (m *AppMetrics) RecordApply(outcome string, applied, failed int, d time.Duration) {
	m.ApplyTotal.WithLabelValues(outcome).Inc()
	m.ApplyDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if applied > 0 {
		m.EditsApplied.WithLabelValues().Add(float64(applied))
	}
	if failed > 0 {
		m.EditsFailed.WithLabelValues().Add(float64(failed))
	}
}

// RecordAssistantCall counts one assistant call.
func (m *AppMetrics) RecordAssistantCall(endpoint, operation string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AssistantRequests.WithLabelValues(endpoint, operation, status).Inc()
	m.AssistantDuration.WithLabelValues(endpoint, operation).Observe(d.Seconds())
}

// RecordHTTPRequest counts one served request.
func (m *AppMetrics) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordCacheLookup counts a cache hit or miss.
func (m *AppMetrics) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordEventConsumed counts a consumed event.
func (m *AppMetrics) RecordEventConsumed(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsConsumed.WithLabelValues(topic, result).Inc()
}

// SetHealth publishes a component health flag.
func (m *AppMetrics) SetHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckUp.WithLabelValues(component).Set(v)
}
