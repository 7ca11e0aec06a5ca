// Package engine implements the memory synchronization engine. It
// orchestrates create/update/delete/get across storage, compression, and
// per-consumer token budgets, owns the pending-operation queue, and drains
// deliveries to registered tool adapters with at-least-once semantics.
package engine

import (
	"fmt"
	"time"
)

// Config holds tuning for the synchronization engine.
type Config struct {
	// QueueSize is the pending-operation queue buffer (default: 1000).
	QueueSize int

	// DrainInterval is how often the background loop processes pending
	// operations (default: 1s).
	DrainInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for the drain loop to
	// finish on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// AuditSize is the capacity of the access-audit ring (default: 256).
	AuditSize int

	// DeliveryRate is the per-adapter delivery rate in calls per second
	// (default: 50).
	DeliveryRate float64

	// DeliveryBurst is the per-adapter rate limiter burst (default: 10).
	DeliveryBurst int

	// Breaker tunes the per-adapter circuit breaker.
	Breaker BreakerConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       1000,
		DrainInterval:   time.Second,
		ShutdownTimeout: 30 * time.Second,
		AuditSize:       256,
		DeliveryRate:    50,
		DeliveryBurst:   10,
		Breaker:         DefaultBreakerConfig(),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.DrainInterval <= 0 {
		return fmt.Errorf("DrainInterval must be > 0, got %v", c.DrainInterval)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.AuditSize < 1 {
		return fmt.Errorf("AuditSize must be >= 1, got %d", c.AuditSize)
	}
	if c.DeliveryRate <= 0 {
		return fmt.Errorf("DeliveryRate must be > 0, got %v", c.DeliveryRate)
	}
	if c.DeliveryBurst < 1 {
		return fmt.Errorf("DeliveryBurst must be >= 1, got %d", c.DeliveryBurst)
	}
	return nil
}
