package engine

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/scrypster/memsync/pkg/types"
)

// ToolAdapter applies synchronized entries to one consumer's context.
// Adapters receive already-compressed entries and must not need to compress
// further. Any returned error triggers the at-least-once retry policy:
// the operation stays queued and the delivery is retried on a later drain.
type ToolAdapter interface {
	// SyncCreate delivers a newly created entry.
	SyncCreate(ctx context.Context, key string, entry *types.MemoryEntry) error

	// SyncUpdate delivers an updated entry.
	SyncUpdate(ctx context.Context, key string, entry *types.MemoryEntry) error

	// SyncDelete removes the entry from the consumer's context.
	SyncDelete(ctx context.Context, key string) error
}

// registeredAdapter wraps a ToolAdapter with its delivery guards: a circuit
// breaker so a broken consumer stops eating drain time, and a rate limiter
// so a chatty sync burst cannot flood the consumer.
type registeredAdapter struct {
	name    string
	adapter ToolAdapter
	breaker *deliveryBreaker
	limiter *rate.Limiter
}

// deliver runs one adapter call through the rate limiter and breaker.
func (r *registeredAdapter) deliver(ctx context.Context, call func(context.Context) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.breaker.Execute(ctx, func() error { return call(ctx) })
}

// deliveryBreaker wraps gobreaker for adapter calls. After MaxFailures
// consecutive failures the circuit opens and deliveries fail fast until
// Timeout elapses; half-open test calls then close it again.
type deliveryBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

// BreakerConfig tunes the per-adapter circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before half-open probing.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes needed in half-open
	// state to close the circuit again.
	HalfOpenMaxSuccesses uint32
}

// DefaultBreakerConfig returns the delivery breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	}
}

// newDeliveryBreaker builds a breaker for the named adapter.
func newDeliveryBreaker(name string, cfg BreakerConfig) *deliveryBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Interval:    0, // Don't clear counts periodically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &deliveryBreaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker, honoring context cancellation.
func (b *deliveryBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the breaker state as a string: closed, open, or half-open.
func (b *deliveryBreaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
