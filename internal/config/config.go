// Package config loads the server configuration from config.yaml with
// environment overrides for secrets.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sfotel "github.com/lunagrove/sqlforge/internal/otel"
)

// LLMConfig selects and configures the completion-service provider.
type LLMConfig struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// APIKey is read from APIKeyEnv when empty.
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	// SweepSpec is a 5-field cron expression for the expired-entry sweep.
	SweepSpec string `yaml:"sweep_spec"`
}

// HeartbeatConfig controls the connection liveness sweep.
type HeartbeatConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// HistoryConfig controls the sqlite request-history store.
type HistoryConfig struct {
	Path    string `yaml:"path"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// Config is the root server configuration.
type Config struct {
	Listen       string   `yaml:"listen"`
	AllowOrigins []string `yaml:"allow_origins"`
	LogLevel     string   `yaml:"log_level"`
	LogDir       string   `yaml:"log_dir"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Cache     CacheConfig     `yaml:"cache"`
	LLM       LLMConfig       `yaml:"llm"`
	History   HistoryConfig   `yaml:"history"`
	Otel      sfotel.Config   `yaml:"otel"`
}

// Load reads the config file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Listen:   "127.0.0.1:8380",
		LogLevel: "info",
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 30,
		},
		Cache: CacheConfig{
			TTLSeconds: 3600,
			SweepSpec:  "*/5 * * * *",
		},
		LLM: LLMConfig{
			Provider: "google",
		},
		History: HistoryConfig{
			Path: "sqlforge.db",
		},
	}
}

func (c *Config) normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8380"
	}
	if c.Heartbeat.IntervalSeconds <= 0 {
		c.Heartbeat.IntervalSeconds = 30
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.SweepSpec == "" {
		c.Cache.SweepSpec = "*/5 * * * *"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "google"
	}
	if c.History.Path == "" {
		c.History.Path = "sqlforge.db"
	}
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" && c.LLM.APIKeyEnv != "" {
		c.LLM.APIKey = strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
	}
	if v := os.Getenv("SQLFORGE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SQLFORGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// HeartbeatInterval returns the liveness sweep period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// CacheTTL returns the default response-cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// HistoryEnabled reports whether the request-history store should be opened.
func (c *Config) HistoryEnabled() bool {
	if c.History.Enabled == nil {
		return true
	}
	return *c.History.Enabled
}

// Fingerprint returns a short stable hash of the active config, logged at
// startup and on reload so operators can tell which config a process runs.
func (c *Config) Fingerprint() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "unknown"
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}
