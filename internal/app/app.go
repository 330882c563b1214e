// Package app wires configuration, metrics, the Coze client and the report
// service together for the binaries.
package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyzno1/medical-case-report/internal/config"
	"github.com/lyzno1/medical-case-report/internal/coze"
	"github.com/lyzno1/medical-case-report/internal/metrics"
	"github.com/lyzno1/medical-case-report/internal/report"
	"github.com/lyzno1/medical-case-report/internal/retry"
)

// App holds the assembled components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Client  *coze.Client
	Service *report.Service
}

// Options adjusts the assembly.
type Options struct {
	// Registerer receives the metrics. Nil uses the default registerer.
	Registerer prometheus.Registerer

	// Retry overrides the policy derived from the configuration.
	Retry *retry.Policy
}

// New builds the client and service described by cfg.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	m := metrics.NewMetrics(opts.Registerer)

	client, err := coze.NewClient(ClientConfig(cfg), logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create coze client: %w", err)
	}

	serviceConfig := ServiceConfig(cfg, logger)
	if opts.Retry != nil {
		serviceConfig.Retry = *opts.Retry
	}

	service, err := report.NewService(serviceConfig, client, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create report service: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Client:  client,
		Service: service,
	}, nil
}

// ClientConfig maps the coze and workflow sections onto the client config.
func ClientConfig(cfg *config.Config) coze.Config {
	return coze.Config{
		BaseURL:       cfg.Coze.BaseURL,
		APIKey:        cfg.Coze.APIKey,
		BotID:         cfg.Coze.BotID,
		Timeout:       cfg.Coze.GetTimeoutDuration(),
		MaxConcurrent: cfg.Coze.MaxConcurrent,
		ResultFields:  cfg.Workflow.ResultFields,
	}
}

// ServiceConfig maps the configuration onto the report service config. The
// coze timeout bounds every attempt.
func ServiceConfig(cfg *config.Config, logger *slog.Logger) report.Config {
	return report.Config{
		WorkflowID: cfg.Coze.WorkflowID,
		BotID:      cfg.Coze.BotID,
		SpaceID:    cfg.Coze.SpaceID,
		AudioParam: cfg.Workflow.AudioParam,
		DocParam:   cfg.Workflow.DocParam,
		Limits: report.Limits{
			Audio: report.ClassLimit{
				Extensions: cfg.Upload.AudioExtensions,
				MaxBytes:   cfg.Upload.AudioMaxBytes(),
			},
			Document: report.ClassLimit{
				Extensions: cfg.Upload.DocumentExtensions,
				MaxBytes:   cfg.Upload.DocumentMaxBytes(),
			},
		},
		Retry: retry.Policy{
			MaxRetries:     cfg.Coze.MaxRetries,
			BaseDelay:      cfg.Coze.GetBaseDelayDuration(),
			AttemptTimeout: cfg.Coze.GetTimeoutDuration(),
			Logger:         logger,
		},
	}
}
