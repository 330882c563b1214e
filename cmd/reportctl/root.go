package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lyzno1/medical-case-report/internal/config"
	"github.com/lyzno1/medical-case-report/internal/logging"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "reportctl",
		Short:         "Generate medical case reports through a Coze workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file (empty for defaults)")
	flags.StringVar(&opts.envFile, "env", ".env.local", "Path to an optional .env file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	cmd.AddCommand(
		newGenerateCommand(opts),
		newRunCommand(opts),
		newCheckCommand(opts),
	)

	return cmd
}

// loadConfig reads the env file and configuration. With validate false an
// incomplete configuration is returned together with its validation error.
func (o *rootOptions) loadConfig(validate bool) (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile, ".env"); err != nil {
		return nil, err
	}

	cfg, err := config.LoadUnvalidated(o.configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		if validate {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return cfg, err
	}

	return cfg, nil
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	return logging.NewWithWriter(logging.Options{Level: o.logLevel, Format: "text"}, w)
}
