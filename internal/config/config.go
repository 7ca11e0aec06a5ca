// Package config provides configuration management for memsync.
// It loads settings from environment variables with the MEMSYNC_ prefix,
// applies sensible defaults, and optionally overlays a YAML file (which is
// also the carrier for per-consumer token budgets and can be hot-reloaded
// through the Watcher).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/memsync/internal/engine"
)

// Config holds all configuration settings for memsync.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Budget  BudgetConfig  `yaml:"budget"`

	// Adapters maps consumer name to its WebSocket sync endpoint. Only the
	// serve command uses this; library embedders register adapters directly.
	Adapters map[string]string `yaml:"adapters"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	// Backend is one of: memory, sqlite, badger, postgres (default: memory).
	Backend string `yaml:"backend"`

	// Path is the SQLite file or Badger directory (default: ./data/memsync.db).
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// EngineConfig tunes the synchronization engine.
type EngineConfig struct {
	QueueSize       int     `yaml:"queue_size"`       // Pending queue buffer (default: 1000)
	DrainInterval   string  `yaml:"drain_interval"`   // Drain loop period (default: 1s)
	ShutdownTimeout string  `yaml:"shutdown_timeout"` // Drain wait on shutdown (default: 30s)
	AuditSize       int     `yaml:"audit_size"`       // Access-audit ring capacity (default: 256)
	DeliveryRate    float64 `yaml:"delivery_rate"`    // Per-adapter deliveries/sec (default: 50)
	DeliveryBurst   int     `yaml:"delivery_burst"`   // Per-adapter burst (default: 10)
}

// BudgetConfig carries token accounting settings.
type BudgetConfig struct {
	// CharsPerToken is the estimator divisor (default: 4).
	CharsPerToken int `yaml:"chars_per_token"`

	// Ceilings maps consumer name to its token ceiling. Consumers absent
	// from the map are unconstrained.
	Ceilings map[string]int `yaml:"ceilings"`
}

// Load builds a Config from environment variables and defaults.
func Load() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: getEnv("MEMSYNC_STORAGE_BACKEND", "memory"),
			Path:    getEnv("MEMSYNC_STORAGE_PATH", "./data/memsync.db"),
			DSN:     getEnv("MEMSYNC_STORAGE_DSN", ""),
		},
		Engine: EngineConfig{
			QueueSize:       getEnvInt("MEMSYNC_QUEUE_SIZE", 1000),
			DrainInterval:   getEnv("MEMSYNC_DRAIN_INTERVAL", "1s"),
			ShutdownTimeout: getEnv("MEMSYNC_SHUTDOWN_TIMEOUT", "30s"),
			AuditSize:       getEnvInt("MEMSYNC_AUDIT_SIZE", 256),
			DeliveryRate:    getEnvFloat("MEMSYNC_DELIVERY_RATE", 50),
			DeliveryBurst:   getEnvInt("MEMSYNC_DELIVERY_BURST", 10),
		},
		Budget: BudgetConfig{
			CharsPerToken: getEnvInt("MEMSYNC_CHARS_PER_TOKEN", 4),
			Ceilings:      make(map[string]int),
		},
	}
}

// LoadFile builds a Config from environment defaults overlaid with the
// YAML file at path. Values present in the file win.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// EngineConfig converts the tuning section into an engine.Config, parsing
// durations and falling back to engine defaults for malformed values.
func (c *Config) EngineConfig() engine.Config {
	out := engine.DefaultConfig()
	if c.Engine.QueueSize > 0 {
		out.QueueSize = c.Engine.QueueSize
	}
	if d, err := time.ParseDuration(c.Engine.DrainInterval); err == nil && d > 0 {
		out.DrainInterval = d
	}
	if d, err := time.ParseDuration(c.Engine.ShutdownTimeout); err == nil && d >= 0 {
		out.ShutdownTimeout = d
	}
	if c.Engine.AuditSize > 0 {
		out.AuditSize = c.Engine.AuditSize
	}
	if c.Engine.DeliveryRate > 0 {
		out.DeliveryRate = c.Engine.DeliveryRate
	}
	if c.Engine.DeliveryBurst > 0 {
		out.DeliveryBurst = c.Engine.DeliveryBurst
	}
	return out
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparsable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparsable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
