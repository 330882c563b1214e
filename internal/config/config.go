package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lyzno1/medical-case-report/internal/logging"
)

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Coze     CozeConfig     `yaml:"coze"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Upload   UploadConfig   `yaml:"upload"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// CozeConfig contains Coze open API configuration
type CozeConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	BotID         string `yaml:"bot_id"`
	SpaceID       string `yaml:"space_id"`
	WorkflowID    string `yaml:"workflow_id"`
	Timeout       int    `yaml:"timeout"` // seconds, per attempt
	MaxRetries    int    `yaml:"max_retries"`
	BaseDelay     int    `yaml:"base_delay"` // milliseconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// WorkflowConfig names the workflow input variables
type WorkflowConfig struct {
	AudioParam   string   `yaml:"audio_param"`
	DocParam     string   `yaml:"doc_param"`
	ResultFields []string `yaml:"result_fields"`
}

// UploadConfig contains per-class file restrictions
type UploadConfig struct {
	AudioExtensions    []string `yaml:"audio_extensions"`
	AudioMaxMB         int      `yaml:"audio_max_mb"`
	DocumentExtensions []string `yaml:"document_extensions"`
	DocumentMaxMB      int      `yaml:"document_max_mb"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Environment variables that override the file.
const (
	EnvAPIKey     = "COZE_API_KEY"
	EnvBotID      = "COZE_BOT_ID"
	EnvSpaceID    = "COZE_SPACE_ID"
	EnvWorkflowID = "COZE_WORKFLOW_ID"
	EnvBaseURL    = "COZE_BASE_URL"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         3000,
			Address:      "0.0.0.0",
			ReadTimeout:  60,
			WriteTimeout: 600,
		},
		Coze: CozeConfig{
			BaseURL:       "https://api.coze.cn/v1",
			Timeout:       60,
			MaxRetries:    3,
			BaseDelay:     1000,
			MaxConcurrent: 10,
		},
		Workflow: WorkflowConfig{
			AudioParam:   "BLaudio",
			DocParam:     "BLdoc",
			ResultFields: []string{"output", "result", "content", "text", "response", "answer"},
		},
		Upload: UploadConfig{
			AudioExtensions:    []string{"mp3", "wav", "m4a"},
			AudioMaxMB:         50,
			DocumentExtensions: []string{"docx", "doc"},
			DocumentMaxMB:      10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	config, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadUnvalidated is Load without the final validation.
func LoadUnvalidated(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	return config, nil
}

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides Coze identifiers with non-empty environment values.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		EnvAPIKey:     &c.Coze.APIKey,
		EnvBotID:      &c.Coze.BotID,
		EnvSpaceID:    &c.Coze.SpaceID,
		EnvWorkflowID: &c.Coze.WorkflowID,
		EnvBaseURL:    &c.Coze.BaseURL,
	}
	for name, target := range overrides {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Coze.Validate(); err != nil {
		return fmt.Errorf("coze config: %w", err)
	}

	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	return nil
}

// Validate validates Coze configuration
func (c *CozeConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL, got '%s'", c.BaseURL)
	}

	if c.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set %s)", EnvAPIKey)
	}

	if c.WorkflowID == "" {
		return fmt.Errorf("workflow_id cannot be empty (set %s)", EnvWorkflowID)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}

	if c.BaseDelay < 0 {
		return fmt.Errorf("base_delay cannot be negative, got %d", c.BaseDelay)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	return nil
}

// Validate validates workflow configuration
func (w *WorkflowConfig) Validate() error {
	if w.AudioParam == "" {
		return fmt.Errorf("audio_param cannot be empty")
	}

	if w.DocParam == "" {
		return fmt.Errorf("doc_param cannot be empty")
	}

	if w.AudioParam == w.DocParam {
		return fmt.Errorf("audio_param and doc_param must differ, both are '%s'", w.AudioParam)
	}

	if len(w.ResultFields) == 0 {
		return fmt.Errorf("result_fields cannot be empty")
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if len(u.AudioExtensions) == 0 {
		return fmt.Errorf("audio_extensions cannot be empty")
	}

	if len(u.DocumentExtensions) == 0 {
		return fmt.Errorf("document_extensions cannot be empty")
	}

	if u.AudioMaxMB < 1 {
		return fmt.Errorf("audio_max_mb must be at least 1, got %d", u.AudioMaxMB)
	}

	if u.DocumentMaxMB < 1 {
		return fmt.Errorf("document_max_mb must be at least 1, got %d", u.DocumentMaxMB)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the per-attempt Coze timeout as a time.Duration
func (c *CozeConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetBaseDelayDuration returns the retry base delay as a time.Duration
func (c *CozeConfig) GetBaseDelayDuration() time.Duration {
	return time.Duration(c.BaseDelay) * time.Millisecond
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// AudioMaxBytes returns the audio size limit in bytes
func (u *UploadConfig) AudioMaxBytes() int64 {
	return int64(u.AudioMaxMB) << 20
}

// DocumentMaxBytes returns the document size limit in bytes
func (u *UploadConfig) DocumentMaxBytes() int64 {
	return int64(u.DocumentMaxMB) << 20
}

// Sanitized returns the configuration with the API key redacted, for
// display by the API and the CLI.
func (c *Config) Sanitized() map[string]interface{} {
	return map[string]interface{}{
		"http": map[string]interface{}{
			"port":          c.HTTP.Port,
			"address":       c.HTTP.Address,
			"read_timeout":  c.HTTP.ReadTimeout,
			"write_timeout": c.HTTP.WriteTimeout,
		},
		"coze": map[string]interface{}{
			"base_url":       c.Coze.BaseURL,
			"api_key":        logging.RedactValue(c.Coze.APIKey),
			"bot_id":         c.Coze.BotID,
			"space_id":       c.Coze.SpaceID,
			"workflow_id":    c.Coze.WorkflowID,
			"timeout":        c.Coze.Timeout,
			"max_retries":    c.Coze.MaxRetries,
			"base_delay":     c.Coze.BaseDelay,
			"max_concurrent": c.Coze.MaxConcurrent,
		},
		"workflow": map[string]interface{}{
			"audio_param":   c.Workflow.AudioParam,
			"doc_param":     c.Workflow.DocParam,
			"result_fields": c.Workflow.ResultFields,
		},
		"upload": map[string]interface{}{
			"audio_extensions":    c.Upload.AudioExtensions,
			"audio_max_mb":        c.Upload.AudioMaxMB,
			"document_extensions": c.Upload.DocumentExtensions,
			"document_max_mb":     c.Upload.DocumentMaxMB,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}
}
