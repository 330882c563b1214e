// Package metrics defines the Prometheus metrics of the case report service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the case report service
type Metrics struct {
	// Report pipeline metrics
	ReportsGenerated  prometheus.Counter
	ReportFailures    *prometheus.CounterVec
	ReportDuration    prometheus.Histogram
	ReportLength      prometheus.Histogram
	ValidationErrors  *prometheus.CounterVec
	UploadedFileBytes *prometheus.HistogramVec

	// Coze API metrics
	CozeRequests        *prometheus.CounterVec
	CozeRequestDuration *prometheus.HistogramVec
	CozeRetries         *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Report pipeline metrics
		ReportsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "case_report_generated_total",
			Help: "Total number of reports generated",
		}),
		ReportFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "case_report_failures_total",
			Help: "Total number of failed report generations by stage",
		}, []string{"stage"}),
		ReportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_report_duration_seconds",
			Help:    "End-to-end duration of report generation",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		ReportLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_report_length_chars",
			Help:    "Length of generated report text in characters",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10), // 64 to ~32k chars
		}),
		ValidationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "case_report_validation_errors_total",
			Help: "Total number of rejected uploads by file class",
		}, []string{"kind"}),
		UploadedFileBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "case_report_uploaded_file_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KB to ~256MB
		}, []string{"kind"}),

		// Coze API metrics
		CozeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "case_report_coze_requests_total",
			Help: "Total number of Coze API requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		CozeRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "case_report_coze_request_duration_seconds",
			Help:    "Duration of Coze API requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}, []string{"operation"}),
		CozeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "case_report_coze_retries_total",
			Help: "Total number of Coze API retries by operation",
		}, []string{"operation"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "case_report_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "case_report_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "case_report_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordReportGenerated records a successful report
func (m *Metrics) RecordReportGenerated(duration time.Duration, length int) {
	m.ReportsGenerated.Inc()
	m.ReportDuration.Observe(duration.Seconds())
	m.ReportLength.Observe(float64(length))
}

// RecordReportFailure records a failed report at the given stage
func (m *Metrics) RecordReportFailure(stage string, duration time.Duration) {
	m.ReportFailures.WithLabelValues(stage).Inc()
	m.ReportDuration.Observe(duration.Seconds())
}

// RecordValidationError increments the rejected upload counter
func (m *Metrics) RecordValidationError(kind string) {
	m.ValidationErrors.WithLabelValues(kind).Inc()
}

// RecordUpload records the size of an accepted upload
func (m *Metrics) RecordUpload(kind string, sizeBytes int64) {
	m.UploadedFileBytes.WithLabelValues(kind).Observe(float64(sizeBytes))
}

// ObserveCozeRequest records one Coze round trip
func (m *Metrics) ObserveCozeRequest(op, outcome string, duration time.Duration) {
	m.CozeRequests.WithLabelValues(op, outcome).Inc()
	m.CozeRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCozeRetry increments the retry counter
func (m *Metrics) RecordCozeRetry(op string) {
	m.CozeRetries.WithLabelValues(op).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
