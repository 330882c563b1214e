package app

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyzno1/medical-case-report/internal/config"
	"github.com/lyzno1/medical-case-report/internal/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Coze.APIKey = "pat_test"
	cfg.Coze.WorkflowID = "7507431636469776421"
	cfg.Coze.BotID = "7507807163864219688"
	cfg.Coze.Timeout = 30
	cfg.Coze.BaseDelay = 250
	cfg.Upload.AudioMaxMB = 20
	return cfg
}

func TestServiceConfig(t *testing.T) {
	sc := ServiceConfig(testConfig(), logging.Discard())

	if sc.Retry.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", sc.Retry.MaxRetries)
	}
	if sc.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms base delay, got %v", sc.Retry.BaseDelay)
	}
	if sc.Retry.AttemptTimeout != 30*time.Second {
		t.Errorf("Expected 30s attempt timeout, got %v", sc.Retry.AttemptTimeout)
	}
	if sc.Limits.Audio.MaxBytes != 20<<20 {
		t.Errorf("Expected 20MB audio limit, got %d", sc.Limits.Audio.MaxBytes)
	}
	if sc.AudioParam != "BLaudio" || sc.DocParam != "BLdoc" {
		t.Errorf("Unexpected parameter names: %s, %s", sc.AudioParam, sc.DocParam)
	}
}

func TestClientConfig(t *testing.T) {
	cc := ClientConfig(testConfig())

	if cc.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cc.Timeout)
	}
	if cc.BotID != "7507807163864219688" {
		t.Errorf("Expected bot id, got %q", cc.BotID)
	}
	if len(cc.ResultFields) != 6 {
		t.Errorf("Expected 6 result fields, got %v", cc.ResultFields)
	}
}

func TestNew(t *testing.T) {
	a, err := New(testConfig(), logging.Discard(), Options{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.Client.BaseURL() != "https://api.coze.cn/v1" {
		t.Errorf("Unexpected base URL: %s", a.Client.BaseURL())
	}

	cfg := testConfig()
	cfg.Coze.APIKey = ""
	if _, err := New(cfg, logging.Discard(), Options{Registerer: prometheus.NewRegistry()}); err == nil {
		t.Error("Expected error without API key")
	}
}
