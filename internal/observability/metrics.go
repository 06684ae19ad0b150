package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	poolTasks    *prometheus.CounterVec
	poolInFlight prometheus.Gauge
	poolDuration prometheus.Histogram

	queueMessages *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec
	webhookItems  *prometheus.CounterVec
}

// NewMetrics builds collectors and registers them with reg.
// A nil registerer leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
			[]string{"path", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"path", "method"},
		),
		httpErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_errors_total", Help: "HTTP errors by domain error code."},
			[]string{"path", "method", "code"},
		),
		poolTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dispatch_pool_tasks_total", Help: "Background task outcomes."},
			[]string{"pool", "outcome"}, // ok | error | panic | dropped
		),
		poolInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "dispatch_pool_inflight", Help: "Background tasks currently running."},
		),
		poolDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_pool_task_duration_seconds",
				Help:    "Background task latency.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		queueMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "queue_messages_total", Help: "Queue message handling outcomes."},
			[]string{"queue", "outcome"}, // ok | retry | dead_letter
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "upstream_calls_total", Help: "Remote messaging API calls."},
			[]string{"operation", "outcome"},
		),
		webhookItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "webhook_items_total", Help: "Webhook items processed by kind."},
			[]string{"kind", "outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.httpRequests, m.httpDuration, m.httpErrors,
			m.poolTasks, m.poolInFlight, m.poolDuration,
			m.queueMessages, m.upstreamCalls, m.webhookItems,
		)
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(path, method, code).Inc()
}

// TaskStarted marks a pool task as running.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.poolInFlight.Inc()
}

// TaskFinished records a pool task outcome.
func (m *Metrics) TaskFinished(pool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.poolInFlight.Dec()
	m.poolTasks.WithLabelValues(pool, outcome).Inc()
	m.poolDuration.Observe(duration.Seconds())
}

// TaskDropped records a task rejected because the pool was saturated.
func (m *Metrics) TaskDropped(pool string) {
	if m == nil {
		return
	}
	m.poolTasks.WithLabelValues(pool, "dropped").Inc()
}

// RecordQueueMessage records the outcome of one consumed queue message.
func (m *Metrics) RecordQueueMessage(queue, outcome string) {
	if m == nil {
		return
	}
	m.queueMessages.WithLabelValues(queue, outcome).Inc()
}

// RecordUpstream records a remote API call.
func (m *Metrics) RecordUpstream(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstreamCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordWebhookItem records one fanned-out webhook item.
func (m *Metrics) RecordWebhookItem(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.webhookItems.WithLabelValues(kind, outcome).Inc()
}
