// Package config loads the inference core configuration from an
// optional config.yaml overlaid with SMARTFLOW_-prefixed environment
// variables. Double underscores in env names map to nesting, e.g.
// SMARTFLOW_PRIMARY__BASE_URL -> primary.base_url.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Primary   PrimaryConfig   `koanf:"primary"`
	Secondary SecondaryConfig `koanf:"secondary"`
	Breakers  BreakersConfig  `koanf:"breakers"`
	Cache     CacheConfig     `koanf:"cache"`
	Session   SessionConfig   `koanf:"session"`
	GPU       GPUConfig       `koanf:"gpu"`
	Shortcut  ShortcutConfig  `koanf:"shortcut"`
	Context   ContextConfig   `koanf:"context"`

	// MockMode bypasses all backends and returns deterministic canned
	// responses. Used for demos and transport-layer testing.
	MockMode bool `koanf:"mock_mode"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// APIKey guards the inference and admin surface via X-API-Key.
	// Empty disables the check (single-tenant dev mode).
	APIKey         string        `koanf:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
	JSON  bool   `koanf:"json"`
}

// PrimaryConfig points at the primary chat-completion backend.
type PrimaryConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecondaryConfig points at the keyword backend and its health/wake
// endpoint pair.
type SecondaryConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	HealthPath string        `koanf:"health_path"`
	WakePath   string        `koanf:"wake_path"`
}

// BreakerConfig configures a single circuit breaker. A zero Window
// switches failure counting from a sliding window to consecutive
// failures.
type BreakerConfig struct {
	Threshold    int           `koanf:"threshold"`
	ResetTimeout time.Duration `koanf:"reset_timeout"`
	Window       time.Duration `koanf:"window"`
}

type BreakersConfig struct {
	Primary   BreakerConfig `koanf:"primary"`
	Secondary BreakerConfig `koanf:"secondary"`
	Wake      BreakerConfig `koanf:"wake"`
}

type CacheConfig struct {
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

type SessionConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// MaxMessages caps history at system prompt + last MaxMessages.
	MaxMessages int `koanf:"max_messages"`
}

type GPUConfig struct {
	HealthTTL        time.Duration `koanf:"health_ttl"`
	WakeTimeout      time.Duration `koanf:"wake_timeout"`
	WakePollInterval time.Duration `koanf:"wake_poll_interval"`
}

type ShortcutConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
}

type ContextConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// Load reads config.yaml (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit config file path, for tests.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("SMARTFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SMARTFLOW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":            8998,
		"server.request_timeout": "30s",

		"log.level": "info",
		"log.json":  true,

		"primary.model":   "personaplex-7b-v1",
		"primary.timeout": "10s",

		"secondary.timeout":     "5s",
		"secondary.health_path": "/health",
		"secondary.wake_path":   "/wake",

		// The primary recovers fast and tolerates noisy transient
		// errors; the GPU-backed paths are slower to trust because
		// cold starts are expensive.
		"breakers.primary.threshold":       5,
		"breakers.primary.reset_timeout":   "15s",
		"breakers.primary.window":          "120s",
		"breakers.secondary.threshold":     3,
		"breakers.secondary.reset_timeout": "30s",
		"breakers.secondary.window":        "60s",
		"breakers.wake.threshold":          3,
		"breakers.wake.reset_timeout":      "30s",
		"breakers.wake.window":             "60s",

		"cache.ttl":         "5m",
		"cache.max_entries": 4096,

		"session.ttl":            "5m",
		"session.sweep_interval": "60s",
		"session.max_messages":   20,

		"gpu.health_ttl":         "30s",
		"gpu.wake_timeout":       "45s",
		"gpu.wake_poll_interval": "2s",

		"shortcut.confidence_threshold": 0.85,

		"context.ttl": "30m",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func (c *Config) validate() error {
	for name, b := range map[string]BreakerConfig{
		"primary":   c.Breakers.Primary,
		"secondary": c.Breakers.Secondary,
		"wake":      c.Breakers.Wake,
	} {
		if b.Threshold <= 0 {
			return fmt.Errorf("breakers.%s.threshold must be positive, got %d", name, b.Threshold)
		}
		if b.ResetTimeout <= 0 {
			return fmt.Errorf("breakers.%s.reset_timeout must be positive, got %s", name, b.ResetTimeout)
		}
	}
	if c.Session.MaxMessages < 2 {
		return fmt.Errorf("session.max_messages must be at least 2, got %d", c.Session.MaxMessages)
	}
	if c.Session.SweepInterval > c.Session.TTL {
		return fmt.Errorf("session.sweep_interval (%s) must not exceed session.ttl (%s)",
			c.Session.SweepInterval, c.Session.TTL)
	}
	if c.Shortcut.ConfidenceThreshold < 0 || c.Shortcut.ConfidenceThreshold > 1 {
		return fmt.Errorf("shortcut.confidence_threshold must be in [0,1], got %g", c.Shortcut.ConfidenceThreshold)
	}
	return nil
}
