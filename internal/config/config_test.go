package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "mediarelay.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Delivery.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Delivery.MaxAttempts)
	}
	want := []time.Duration{0, 10 * time.Second, 40 * time.Second}
	if len(cfg.Delivery.RetrySchedule) != len(want) {
		t.Fatalf("expected schedule %v, got %v", want, cfg.Delivery.RetrySchedule)
	}
	for i := range want {
		if cfg.Delivery.RetrySchedule[i] != want[i] {
			t.Errorf("schedule[%d]: expected %s, got %s", i, want[i], cfg.Delivery.RetrySchedule[i])
		}
	}
	if cfg.Egress.FailureThreshold != 3 || cfg.Egress.Cooldown != time.Minute {
		t.Errorf("unexpected egress defaults: %+v", cfg.Egress)
	}
	if cfg.Extractor.SocketTimeoutMin != 8*time.Second || cfg.Extractor.SocketTimeoutMax != 12*time.Second {
		t.Errorf("unexpected socket timeout bounds: %s..%s", cfg.Extractor.SocketTimeoutMin, cfg.Extractor.SocketTimeoutMax)
	}
	if cfg.Gateway.Timeout != 15*time.Second || cfg.Gateway.UploadTimeout != 10*time.Minute {
		t.Errorf("unexpected gateway timeouts: %+v", cfg.Gateway)
	}
}

func TestLoadEndpointsAndOperators(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "mediarelay.yaml")
	body := `
egress:
  endpoints:
    - id: de-1
      scheme: socks5
      host: 10.0.0.1
      port: 1080
    - id: nl-1
      scheme: http
      host: 10.0.0.2
      port: 3128
      username: bot
      password: secret
escalation:
  operators: [1001, 1002]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(cfg.Egress.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.Egress.Endpoints))
	}
	if cfg.Egress.Endpoints[0].ID != "de-1" || cfg.Egress.Endpoints[1].Port != 3128 {
		t.Errorf("unexpected endpoints: %+v", cfg.Egress.Endpoints)
	}
	if cfg.Egress.Endpoints[1].Username != "bot" {
		t.Errorf("expected username bot, got %q", cfg.Egress.Endpoints[1].Username)
	}
	if len(cfg.Escalation.Operators) != 2 || cfg.Escalation.Operators[1] != 1002 {
		t.Errorf("unexpected operators: %v", cfg.Escalation.Operators)
	}
}
