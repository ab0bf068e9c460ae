package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
env: dev
gateway:
  wsURL: wss://exchange.test/stream
  authToken: tok
  accountIndex: 3
  apiKeyStart: 1
  apiKeyEnd: 3
market:
  marketID: 1
  tickSize: 0.01
  baseQty: 2
  maxExposureQty: 10
strategy:
  variant: mark_bound
  params:
    halfSpreadPct: 0.0005
    markFreshForMs: 200
    maxDriftTicks: 4
engine:
  minHopTicks: 1
  guardTicks: 30
  minRequoteMs: 120
  forceRefreshMs: 400
logging:
  level: info
  outputs: [stdout]
  format: json
monitor:
  enabled: true
  listenAddr: ":9100"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Gateway.WSURL != "wss://exchange.test/stream" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Strategy.Variant != "mark_bound" || cfg.Strategy.Params.MaxDriftTicks != 4 {
		t.Fatalf("strategy config not parsed: %+v", cfg.Strategy)
	}
	if cfg.Market.TickSize != 0.01 || cfg.Market.BaseQty != 2 {
		t.Fatalf("market config not parsed: %+v", cfg.Market)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("QE_GATEWAY_WS_URL", "wss://override.test/stream")
	t.Setenv("QE_GATEWAY_AUTH_TOKEN", "env-token")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.WSURL != "wss://override.test/stream" || cfg.Gateway.AuthToken != "env-token" {
		t.Fatalf("env overrides not applied: %+v", cfg.Gateway)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidateRejectsUnknownVariant(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Strategy.Variant = "twap"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown variant")
	}
}

func TestValidateRejectsBadKeyRange(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Gateway.APIKeyStart = 5
	cfg.Gateway.APIKeyEnd = 2
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for inverted key range")
	}
}
