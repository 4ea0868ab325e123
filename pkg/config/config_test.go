package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "chatsync.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Send.AckTimeoutMs != DefaultAckTimeoutMs || cfg.Send.MaxRetries != DefaultMaxRetries {
		t.Fatalf("send defaults: %+v", cfg.Send)
	}
	if cfg.Timeline.Cap != DefaultTimelineCap {
		t.Fatalf("timeline cap = %d", cfg.Timeline.Cap)
	}
	if cfg.Backend.Adapter != "nethttp" {
		t.Fatalf("adapter = %q", cfg.Backend.Adapter)
	}
	if cfg.AckTimeout() != 1200*time.Millisecond {
		t.Fatalf("AckTimeout = %v", cfg.AckTimeout())
	}
	if cfg.Log.ShipLevel != "warn" {
		t.Fatalf("ship level = %q", cfg.Log.ShipLevel)
	}
}

func TestLoadRejectsBadShipLevel(t *testing.T) {
	p := writeConfig(t, "log:\n  ship_level: loud\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected ship level error")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	p := writeConfig(t, `
backend:
  base_url: https://api.example.test
  adapter: fasthttp
send:
  ack_timeout_ms: 800
timeline:
  cap: 200
`)
	t.Setenv("CHATSYNC_ACK_TIMEOUT_MS", "300")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.test" || cfg.Backend.Adapter != "fasthttp" {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Send.AckTimeoutMs != 300 {
		t.Fatalf("env did not win: %d", cfg.Send.AckTimeoutMs)
	}
	if cfg.Timeline.Cap != 200 {
		t.Fatalf("timeline cap = %d", cfg.Timeline.Cap)
	}
}

func TestValidateRejectsBadAdapter(t *testing.T) {
	p := writeConfig(t, "backend:\n  adapter: h3\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("bad adapter accepted")
	}
}

func TestValidateRetention(t *testing.T) {
	p := writeConfig(t, `
cache:
  retention:
    enabled: true
    cron: "0 2 * * *"
    period: 720h
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, err := cfg.RetentionPeriod()
	if err != nil || d != 720*time.Hour {
		t.Fatalf("period = %v err=%v", d, err)
	}

	bad := writeConfig(t, `
cache:
  retention:
    enabled: true
    cron: "not a cron"
    period: 720h
`)
	if _, err := Load(bad); err == nil {
		t.Fatalf("invalid cron accepted")
	}

	noPeriod := writeConfig(t, "cache:\n  retention:\n    enabled: true\n")
	if _, err := Load(noPeriod); err == nil {
		t.Fatalf("missing period accepted")
	}
}
