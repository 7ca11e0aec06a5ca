package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/memsync/internal/budget"
	"github.com/scrypster/memsync/internal/compress"
	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

// UpdateOutcome distinguishes the ways an update can land.
type UpdateOutcome string

// Update outcome constants
const (
	// UpdateApplied means the incoming write replaced the stored entry.
	UpdateApplied UpdateOutcome = "applied"

	// UpdateCreated means the key was absent and the update degenerated
	// to a create.
	UpdateCreated UpdateOutcome = "created"

	// UpdateSuperseded means the incoming write lost conflict resolution:
	// the stored entry was kept and its version bumped to mark the
	// conflict was observed.
	UpdateSuperseded UpdateOutcome = "superseded"
)

// Engine is the synchronization engine. All mutations to a given key
// (storage write, hash-index update, pending-queue enqueue) are applied as
// one serialized unit; reads run concurrently.
type Engine struct {
	config Config

	store   storage.EntryStore
	budgets *budget.Manager

	pending chan *SyncOperation
	audit   *auditRing

	// overflow holds operations that could not be queued because the
	// channel was full. Drained back into the channel ahead of each pass.
	overflowMu sync.Mutex
	overflow   []*SyncOperation

	// mu serializes mutations and guards the consumer/adapter registry
	// and lifecycle flags.
	mu           sync.RWMutex
	consumers    []string
	adapters     map[string]*registeredAdapter
	started      bool
	shuttingDown bool

	drainCancel context.CancelFunc
	drainWG     sync.WaitGroup
}

// New creates a synchronization engine over the given store and budget
// manager. Use DefaultConfig() for sensible defaults.
func New(store storage.EntryStore, budgets *budget.Manager, config Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if budgets == nil {
		return nil, fmt.Errorf("budget manager is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		config:   config,
		store:    store,
		budgets:  budgets,
		pending:  make(chan *SyncOperation, config.QueueSize),
		audit:    newAuditRing(config.AuditSize),
		adapters: make(map[string]*registeredAdapter),
	}, nil
}

// RegisterConsumer declares a consumer as a synchronization target.
// Mutations from other consumers enqueue deliveries toward it even before
// an adapter is attached; deliveries fail (and stay queued) until
// RegisterAdapter is called.
func (e *Engine) RegisterConsumer(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.consumers {
		if c == name {
			return
		}
	}
	e.consumers = append(e.consumers, name)
}

// RegisterAdapter attaches the adapter that delivers entries to the named
// consumer, wrapping it with the delivery breaker and rate limiter.
// The consumer is registered implicitly.
func (e *Engine) RegisterAdapter(name string, adapter ToolAdapter) {
	e.RegisterConsumer(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[name] = &registeredAdapter{
		name:    name,
		adapter: adapter,
		breaker: newDeliveryBreaker(name, e.config.Breaker),
		limiter: rate.NewLimiter(rate.Limit(e.config.DeliveryRate), e.config.DeliveryBurst),
	}
}

// Create persists a new entry under key on behalf of origin and queues
// delivery to the other consumers. Fails only if the storage write fails.
func (e *Engine) Create(ctx context.Context, key string, entry *types.MemoryEntry, origin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createLocked(ctx, key, entry, origin)
}

// Update replaces the entry stored under key, subject to conflict
// resolution: the write with the greater last-modified timestamp wins. A
// stale write is accepted at the storage layer but logically superseded:
// the stored content is kept and only its version is bumped, so the
// conflict stays observable. An absent key degenerates to Create.
//
// Callers needing causal ordering must supply monotonically increasing
// last-modified timestamps on the incoming entry; a zero timestamp is
// taken as "now".
func (e *Engine) Update(ctx context.Context, key string, entry *types.MemoryEntry, origin string) (UpdateOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("update %s: %w", key, err)
		}
		if err := e.createLocked(ctx, key, entry, origin); err != nil {
			return "", err
		}
		return UpdateCreated, nil
	}

	incomingModified := entry.Metadata.LastModified
	if incomingModified.IsZero() {
		incomingModified = time.Now()
	}

	if !incomingModified.After(existing.Metadata.LastModified) {
		// Stale write: keep the stored entry, bump its version to mark
		// the observed conflict.
		existing.Metadata.Version++
		if err := e.store.Save(ctx, key, existing); err != nil {
			return "", fmt.Errorf("update %s: %w", key, err)
		}
		log.Printf("WARNING: stale update for %s from %s superseded (stored=%v, incoming=%v)",
			key, origin, existing.Metadata.LastModified, incomingModified)
		return UpdateSuperseded, nil
	}

	stored := entry.Clone()
	stored.Key = key
	stored.Metadata.SourceTool = origin
	stored.Metadata.LastModified = incomingModified
	stored.Metadata.Version = existing.Metadata.Version + 1

	if err := e.store.Save(ctx, key, stored); err != nil {
		return "", fmt.Errorf("update %s: %w", key, err)
	}

	e.enqueueLocked(newOperation(OpUpdated, key, stored, origin, e.targetsLocked(stored, origin)))
	log.Printf("Updated entry %s (origin=%s, version=%d)", key, origin, stored.Metadata.Version)
	return UpdateApplied, nil
}

// createLocked is the Create body without locking, for reuse by Update's
// degenerate path.
func (e *Engine) createLocked(ctx context.Context, key string, entry *types.MemoryEntry, origin string) error {
	stored := entry.Clone()
	stored.Key = key
	stored.Metadata.SourceTool = origin
	stored.Metadata.LastModified = time.Now()
	stored.Metadata.Version = 1
	if err := e.store.Save(ctx, key, stored); err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	e.enqueueLocked(newOperation(OpCreated, key, stored, origin, e.targetsLocked(stored, origin)))
	log.Printf("Created entry %s (origin=%s, version=%d)", key, origin, stored.Metadata.Version)
	return nil
}

// Get fetches the entry for the given consumer. Expired entries are treated
// as absent. When the consumer is not the entry's origin and the entry does
// not fit its remaining budget, the entry is compressed level by level and
// the best-fitting variant is returned without mutating stored state; if no
// level fits, the most aggressive variant is returned.
//
// Every Get records an accessed operation on the audit ring; access
// operations never require delivery.
func (e *Engine) Get(ctx context.Context, key, consumer string) (*types.MemoryEntry, error) {
	entry, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.IsExpired(time.Now()) {
		return nil, storage.ErrNotFound
	}

	e.audit.Record(newOperation(OpAccessed, key, nil, consumer, nil))

	if consumer == entry.Metadata.SourceTool || e.budgets.CanFit(entry, consumer) {
		return entry, nil
	}
	return e.compressToFit(entry, consumer), nil
}

// compressToFit escalates through the ladder and returns the first variant
// that fits the consumer's remaining budget, or the most aggressive variant
// produced when none fits.
func (e *Engine) compressToFit(entry *types.MemoryEntry, consumer string) *types.MemoryEntry {
	best := entry
	for _, level := range types.Ladder() {
		variant, err := compress.Compress(entry, level)
		if err != nil {
			log.Printf("WARNING: compression at %s failed for %s: %v", level, entry.Key, err)
			continue
		}
		best = variant
		if e.budgets.CanFit(variant, consumer) {
			return variant
		}
	}
	return best
}

// Delete removes the entry and queues delete deliveries. It reports false
// when the key was already absent.
func (e *Engine) Delete(ctx context.Context, key, origin string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}

	if err := e.store.Delete(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}

	e.enqueueLocked(newOperation(OpDeleted, key, nil, origin, e.targetsLocked(entry, origin)))
	log.Printf("Deleted entry %s (origin=%s)", key, origin)
	return true, nil
}

// targetsLocked returns the consumers an operation must be delivered to:
// every registered consumer except the origin for shared entries, nobody
// for tool-specific ones.
func (e *Engine) targetsLocked(entry *types.MemoryEntry, origin string) []string {
	if entry.MemoryType == types.MemoryToolSpecific {
		return nil
	}
	var targets []string
	for _, c := range e.consumers {
		if c != origin {
			targets = append(targets, c)
		}
	}
	return targets
}

// RecentAccesses returns up to n access-audit records, newest first.
func (e *Engine) RecentAccesses(n int) []*SyncOperation {
	return e.audit.Recent(n)
}

// PendingOperations returns the number of operations awaiting delivery,
// queued and spilled alike. This is the primary health signal for
// synchronization lag.
func (e *Engine) PendingOperations() int {
	return len(e.pending) + e.overflowLen()
}

// Start launches the background drain loop, which processes pending
// operations every DrainInterval.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	drainCtx, cancel := context.WithCancel(ctx)
	e.drainCancel = cancel
	e.drainWG.Add(1)
	go e.drainLoop(drainCtx)

	e.started = true
	log.Println("Synchronization engine started")
	return nil
}

// Shutdown stops the drain loop and waits for the in-flight drain to
// finish, bounded by ShutdownTimeout. Undelivered operations stay in the
// queue; they are lost with the process, which at-least-once delivery
// tolerates.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	e.shuttingDown = true
	cancel := e.drainCancel
	e.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		e.drainWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(e.config.ShutdownTimeout):
		log.Printf("WARNING: shutdown timeout reached, %d operations still pending", e.PendingOperations())
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.mu.Lock()
	e.started = false
	e.shuttingDown = false
	e.mu.Unlock()
	log.Println("Synchronization engine stopped")
	return err
}

// drainLoop runs ProcessPendingOperations on a ticker until cancelled.
func (e *Engine) drainLoop(ctx context.Context) {
	defer e.drainWG.Done()

	ticker := time.NewTicker(e.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ProcessPendingOperations(ctx); err != nil {
				log.Printf("WARNING: drain pass failed: %v", err)
			}
		}
	}
}
