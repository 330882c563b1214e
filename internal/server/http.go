package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyzno1/medical-case-report/internal/config"
	"github.com/lyzno1/medical-case-report/internal/coze"
	"github.com/lyzno1/medical-case-report/internal/logging"
	"github.com/lyzno1/medical-case-report/internal/metrics"
	"github.com/lyzno1/medical-case-report/internal/report"
)

const (
	serviceName    = "medical-case-report"
	serviceVersion = "1.0.0"

	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
)

// CozeStatus exposes the remote client state shown by /health.
type CozeStatus interface {
	BaseURL() string
	GetStats() coze.ClientStats
}

// HTTPServer provides the report API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	service  *report.Service
	coze     CozeStatus
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// baseCtx is the parent of every request context; Stop cancels it.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	startTime time.Time
	now       func() time.Time
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the
// default Prometheus registry on /metrics.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, service *report.Service,
	cozeStatus CozeStatus, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		service:    service,
		coze:       cozeStatus,
		metrics:    m,
		gatherer:   gatherer,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		startTime:  time.Now(),
		now:        time.Now,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  appConfig.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	return h
}

// Handler returns the routed handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Report API
	mux.HandleFunc("/api/test-coze", h.withMetrics("/api/test-coze", h.handleTestCoze))
	mux.HandleFunc("/api/generate-report", h.withMetrics("/api/generate-report", h.handleGenerateReport))
	mux.HandleFunc("/api/upload-file", h.withMetrics("/api/upload-file", h.handleUploadFile))
	mux.HandleFunc("/api/run-workflow", h.withMetrics("/api/run-workflow", h.handleRunWorkflow))
	mux.HandleFunc("/api/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe))
	mux.HandleFunc("/api/download-report", h.withMetrics("/api/download-report", h.handleDownloadReport))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection and attaches a
// request-scoped logger carrying the request id.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := h.logger.With(
			slog.String("request_id", requestID),
			slog.String("endpoint", endpoint),
		)
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime)
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration.Seconds())

			if ww.statusCode >= 400 {
				errorType := "client_error"
				if ww.statusCode >= 500 {
					errorType = "server_error"
				}
				h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
			}
		}

		logger.Debug("Request handled",
			slog.String("method", r.Method),
			slog.Int("status", ww.statusCode),
			slog.Duration("duration", duration),
		)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Requests still running when ctx
// expires have their contexts cancelled.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	err := h.server.Shutdown(ctx)
	h.cancelBase()
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
