package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger RPC Metrics
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec

	// Submission Metrics
	submissionsTotal       *prometheus.CounterVec
	submissionDuration     *prometheus.HistogramVec
	confirmationWait       *prometheus.HistogramVec
	signatureResolvesTotal *prometheus.CounterVec

	// Upload Metrics
	uploadsTotal   *prometheus.CounterVec
	uploadBytes    *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec

	// Workflow Metrics
	transferWorkflowDuration        *prometheus.HistogramVec
	transferWorkflowExecutionsTotal *prometheus.CounterVec
	transferActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

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
		// Ledger RPC Metrics
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "network"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "network"},
		),

		// Submission Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_total",
				Help: "Total number of transaction submissions by outcome (success or error kind)",
			},
			[]string{"network", "outcome"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submission_duration_seconds",
				Help:    "End-to-end duration of a submission, from validation to confirmation",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"network", "outcome"},
		),
		confirmationWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_wait_seconds",
				Help:    "Time spent polling for a signature to reach the requested level",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"network", "level"},
		),
		signatureResolvesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_resolves_total",
				Help: "Total number of timed-out submissions resolved by re-query, by final status",
			},
			[]string{"network", "status"},
		),

		// Upload Metrics
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uploads_total",
				Help: "Total number of asset uploads by backend and status",
			},
			[]string{"backend", "status"},
		),
		uploadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_bytes_total",
				Help: "Total bytes uploaded by backend",
			},
			[]string{"backend"},
		),
		uploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upload_duration_seconds",
				Help:    "Duration of asset uploads in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"backend"},
		),

		// Workflow Metrics
		transferWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_workflow_duration_seconds",
				Help:    "Duration of transfer workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"network", "status"},
		),
		transferWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_workflow_executions_total",
				Help: "Total number of transfer workflow executions",
			},
			[]string{"network", "status"},
		),
		transferActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_activity_duration_seconds",
				Help:    "Duration of transfer workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
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

// Ledger RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, network string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, network).Inc()
	m.rpcCallDuration.WithLabelValues(method, network).Observe(duration)
}

// Submission metric helpers

// RecordSubmission records a finished submission. outcome is "success" or the
// error kind.
func (m *Metrics) RecordSubmission(network, outcome string, duration float64) {
	m.submissionsTotal.WithLabelValues(network, outcome).Inc()
	m.submissionDuration.WithLabelValues(network, outcome).Observe(duration)
}

// RecordConfirmationWait records time spent waiting for a confirmation level.
func (m *Metrics) RecordConfirmationWait(network, level string, duration float64) {
	m.confirmationWait.WithLabelValues(network, level).Observe(duration)
}

// RecordSignatureResolve records the outcome of re-querying a timed-out signature.
func (m *Metrics) RecordSignatureResolve(network, status string) {
	m.signatureResolvesTotal.WithLabelValues(network, status).Inc()
}

// Upload metric helpers

// RecordUpload records an asset upload.
func (m *Metrics) RecordUpload(backend string, size int, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.uploadBytes.WithLabelValues(backend).Add(float64(size))
	}
	m.uploadsTotal.WithLabelValues(backend, status).Inc()
	m.uploadDuration.WithLabelValues(backend).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(network, status string, duration float64) {
	m.transferWorkflowDuration.WithLabelValues(network, status).Observe(duration)
	m.transferWorkflowExecutionsTotal.WithLabelValues(network, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transferActivityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
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
