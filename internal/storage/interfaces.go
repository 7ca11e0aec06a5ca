// Package storage defines the backend-agnostic persistence contract for
// memory entries.
//
// The contract is deliberately small so that backends (in-memory map,
// embedded KV store, SQL database) can be implemented independently and
// swapped through configuration. Every backend keeps a content-hash
// secondary index consistent with the primary store in the same logical
// operation: readers must never observe an index entry pointing at a
// missing or stale primary entry.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/scrypster/memsync/pkg/types"
)

// ErrNotFound is returned when no entry exists for a key or hash.
var ErrNotFound = errors.New("storage: entry not found")

// EntryStore provides keyed persistence for memory entries plus a
// content-hash secondary index. Implementations must be safe for
// concurrent use.
type EntryStore interface {
	// Save persists an entry under key (upsert semantics). The entry's
	// content hash is recomputed and the hash index updated atomically
	// with the primary write.
	Save(ctx context.Context, key string, entry *types.MemoryEntry) error

	// Get retrieves the entry stored under key and, as a side effect,
	// increments its access count and refreshes its last-accessed
	// timestamp. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (*types.MemoryEntry, error)

	// Delete removes the entry and its hash index record.
	// Returns ErrNotFound if the key is absent.
	Delete(ctx context.Context, key string) error

	// ListKeys returns every stored key with the given prefix.
	// An empty prefix lists all keys.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// GetByHash retrieves the entry whose canonical content hashes to the
	// given digest, without touching access metadata. Used for
	// reference-based decompression. Returns ErrNotFound if no entry
	// matches.
	GetByHash(ctx context.Context, hash string) (*types.MemoryEntry, error)

	// Close releases any resources held by the store.
	Close() error
}

// PrepareForSave recomputes the entry's content hash ahead of a persisted
// write. Every backend calls this inside its save path so the stored hash
// always matches the stored content.
func PrepareForSave(entry *types.MemoryEntry) (string, error) {
	hash, err := entry.ComputeContentHash()
	if err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	entry.Metadata.ContentHash = hash
	return hash, nil
}
