package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8380" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Fatalf("heartbeat = %v", cfg.HeartbeatInterval())
	}
	if cfg.CacheTTL() != time.Hour {
		t.Fatalf("ttl = %v", cfg.CacheTTL())
	}
	if cfg.Cache.SweepSpec != "*/5 * * * *" {
		t.Fatalf("sweep spec = %q", cfg.Cache.SweepSpec)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("provider = %q", cfg.LLM.Provider)
	}
	if !cfg.HistoryEnabled() {
		t.Fatal("history should default to enabled")
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := writeConfig(t, `
listen: 0.0.0.0:9000
log_level: debug
allow_origins:
  - app.example.com
heartbeat:
  interval_seconds: 10
cache:
  ttl_seconds: 120
  sweep_spec: "*/1 * * * *"
llm:
  provider: anthropic
  model: claude-sonnet-4-5
history:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.AllowOrigins) != 1 || cfg.AllowOrigins[0] != "app.example.com" {
		t.Fatalf("allow_origins = %v", cfg.AllowOrigins)
	}
	if cfg.HeartbeatInterval() != 10*time.Second {
		t.Fatalf("heartbeat = %v", cfg.HeartbeatInterval())
	}
	if cfg.CacheTTL() != 2*time.Minute {
		t.Fatalf("ttl = %v", cfg.CacheTTL())
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.HistoryEnabled() {
		t.Fatal("history should be disabled")
	}
}

func TestLoad_NormalizesZeroValues(t *testing.T) {
	path := writeConfig(t, `
heartbeat:
  interval_seconds: 0
cache:
  ttl_seconds: -5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Fatalf("heartbeat = %v, want default", cfg.HeartbeatInterval())
	}
	if cfg.CacheTTL() != time.Hour {
		t.Fatalf("ttl = %v, want default", cfg.CacheTTL())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SQLFORGE_LISTEN", "127.0.0.1:7777")
	t.Setenv("SQLFORGE_LOG_LEVEL", "warn")
	t.Setenv("TEST_LLM_KEY", "sk-from-env")

	path := writeConfig(t, `
listen: 127.0.0.1:8380
llm:
  api_key_env: TEST_LLM_KEY
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7777" {
		t.Fatalf("listen = %q, want env override", cfg.Listen)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log_level = %q, want env override", cfg.LogLevel)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Fatalf("api key = %q, want value from TEST_LLM_KEY", cfg.LLM.APIKey)
	}
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	path := writeConfig(t, "listen: 127.0.0.1:8380\n")
	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("fingerprint should be stable for identical config")
	}

	b.Listen = "127.0.0.1:9999"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint should change when config changes")
	}
}
