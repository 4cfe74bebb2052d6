package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Flow metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	busySignals       *prometheus.GaugeVec

	// Relay HTTP metrics
	relayRequestDuration *prometheus.HistogramVec
	relayRequestsTotal   *prometheus.CounterVec

	// Notification metrics
	notificationsPublished *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instapay_operations_total",
				Help: "Total number of connect, approve and send operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "instapay_operation_duration_seconds",
				Help:    "Duration of connect, approve and send operations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		busySignals: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "instapay_busy",
				Help: "1 while an operation of the given kind is in flight",
			},
			[]string{"signal"},
		),

		relayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_request_duration_seconds",
				Help:    "Duration of relay HTTP requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method", "status"},
		),
		relayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Total number of relay HTTP requests",
			},
			[]string{"method", "status"},
		),

		notificationsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_published_total",
				Help: "Total number of notifications published on the bus",
			},
			[]string{"event"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Flow metric helpers

// RecordOperation records the outcome of a connect, approve or send.
// Rejected operations never started, so their duration is not observed.
func (m *Metrics) RecordOperation(operation, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	if outcome != OutcomeRejected {
		m.operationDuration.WithLabelValues(operation).Observe(duration)
	}
}

// SetBusy records whether a busy signal is raised.
func (m *Metrics) SetBusy(signal string, busy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if busy {
		v = 1
	}
	m.busySignals.WithLabelValues(signal).Set(v)
}

// Relay metric helpers

// RecordRelayRequest records a relay HTTP request with duration.
func (m *Metrics) RecordRelayRequest(method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.relayRequestDuration.WithLabelValues(method, status).Observe(duration)
	m.relayRequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records a notification published on the bus.
func (m *Metrics) RecordNotification(event string) {
	if m == nil {
		return
	}
	m.notificationsPublished.WithLabelValues(event).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
