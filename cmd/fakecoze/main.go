// Command fakecoze serves an in-memory stand-in for the Coze upload and
// workflow endpoints, for running the service locally without credentials.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lyzno1/medical-case-report/internal/coze/cozetest"
	"github.com/lyzno1/medical-case-report/internal/logging"
)

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	apiKey := flag.String("api-key", "", "Required bearer token (empty accepts any)")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time per request")
	failUploads := flag.Int("fail-uploads", 0, "Answer the first N uploads with HTTP 500")
	failWorkflows := flag.Int("fail-workflows", 0, "Answer the first N workflow runs with HTTP 500")
	data := flag.String("data", "", "Fixed JSON value returned as the workflow data field")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(logging.Options{Level: *logLevel, Format: "text", Output: "stderr"})

	fake := cozetest.New()
	fake.APIKey = *apiKey
	if *failUploads > 0 {
		fake.FailUploads(*failUploads, http.StatusInternalServerError)
	}
	if *failWorkflows > 0 {
		fake.FailWorkflows(*failWorkflows, http.StatusInternalServerError)
	}
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			fmt.Fprintf(os.Stderr, "-data is not valid JSON: %s\n", *data)
			os.Exit(1)
		}
		fake.SetWorkflowData(json.RawMessage(*data))
	}

	handler := withLatency(*latency, withLogging(logger, fake))

	logger.Info("Fake Coze server starting",
		slog.String("address", *addr),
		slog.String("base_url", fmt.Sprintf("http://localhost%s/v1", *addr)),
	)
	logger.Info("Point the service at it with COZE_BASE_URL")

	if err := http.ListenAndServe(*addr, handler); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func withLatency(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int64("content_length", r.ContentLength),
			slog.Duration("duration", time.Since(startTime)),
		)
	})
}
