package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lyzno1/medical-case-report/internal/app"
	"github.com/lyzno1/medical-case-report/internal/config"
	"github.com/lyzno1/medical-case-report/internal/logging"
	"github.com/lyzno1/medical-case-report/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env.local"
	serviceName       = "medical-case-report"
	serviceVersion    = "1.0.0"
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults)")
	envFile := flag.String("env", defaultEnvFile, "Path to an optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile, ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", path),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.String("coze_base_url", cfg.Coze.BaseURL),
		slog.String("coze_api_key", logging.RedactValue(cfg.Coze.APIKey)),
		slog.String("bot_id", cfg.Coze.BotID),
		slog.String("workflow_id", cfg.Coze.WorkflowID),
		slog.Duration("attempt_timeout", cfg.Coze.GetTimeoutDuration()),
		slog.Int("max_retries", cfg.Coze.MaxRetries),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics on a dedicated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	application, err := app.New(cfg, logger, app.Options{Registerer: registry})
	if err != nil {
		logger.Error("Failed to initialize service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Coze client initialized",
		slog.String("base_url", application.Client.BaseURL()),
		slog.Int("max_concurrent", cfg.Coze.MaxConcurrent),
	)

	httpServer := server.NewHTTPServer(cfg, logger, application.Service, application.Client,
		application.Metrics, registry)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stats := application.Client.GetStats()
	logger.Info("Final Coze client statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Float64("success_rate", stats.SuccessRate),
	)

	logger.Info("Service stopped")
}
