package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memsync/pkg/types"
)

// OpType tags a sync operation with the mutation it records.
type OpType string

// Sync operation type constants
const (
	// OpCreated records a new entry awaiting delivery.
	OpCreated OpType = "created"

	// OpUpdated records a changed entry awaiting delivery.
	OpUpdated OpType = "updated"

	// OpDeleted records a removal awaiting delivery.
	OpDeleted OpType = "deleted"

	// OpAccessed records a read. Accessed operations are kept for audit
	// only and never require delivery.
	OpAccessed OpType = "accessed"
)

// SyncOperation is one pending (or audited) synchronization record.
// Operations are created alongside every mutating call and leave the
// pending queue only once delivery to all target consumers succeeds.
type SyncOperation struct {
	// ID uniquely identifies the operation.
	ID string `json:"id"`

	// Type is the mutation being synchronized.
	Type OpType `json:"type"`

	// Key is the entry key the operation refers to.
	Key string `json:"key"`

	// Entry is a snapshot of the entry at enqueue time. Nil for deletes.
	Entry *types.MemoryEntry `json:"entry,omitempty"`

	// Origin is the consumer that issued the mutation.
	Origin string `json:"origin"`

	// Targets lists the consumers still pending delivery.
	Targets []string `json:"targets,omitempty"`

	// EnqueuedAt is when the operation was first queued.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts completed delivery rounds.
	Attempts int `json:"attempts"`
}

// newOperation builds a sync operation with a fresh ID.
func newOperation(opType OpType, key string, entry *types.MemoryEntry, origin string, targets []string) *SyncOperation {
	return &SyncOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		Key:        key,
		Entry:      entry,
		Origin:     origin,
		Targets:    targets,
		EnqueuedAt: time.Now(),
	}
}

// auditRing keeps the most recent access records on a bounded ring so
// reads can be inspected without unbounded growth.
type auditRing struct {
	mu      sync.Mutex
	records []*SyncOperation
	next    int
	size    int
}

// newAuditRing creates a ring holding up to size records.
func newAuditRing(size int) *auditRing {
	if size < 1 {
		size = 1
	}
	return &auditRing{records: make([]*SyncOperation, size)}
}

// Record stores an operation, evicting the oldest once the ring is full.
func (r *auditRing) Record(op *SyncOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = op
	r.next = (r.next + 1) % len(r.records)
	if r.size < len(r.records) {
		r.size++
	}
}

// Recent returns up to n records, newest first.
func (r *auditRing) Recent(n int) []*SyncOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.size {
		n = r.size
	}
	out := make([]*SyncOperation, 0, n)
	idx := r.next - 1
	for len(out) < n {
		if idx < 0 {
			idx = len(r.records) - 1
		}
		out = append(out, r.records[idx])
		idx--
	}
	return out
}
