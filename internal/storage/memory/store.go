// Package memory implements the reference in-memory storage backend.
// Entries and the content-hash index live in two maps guarded by a single
// mutex, so index updates are atomic with primary writes by construction.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

// Store is an in-memory EntryStore. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*types.MemoryEntry
	byHash  map[string]string // content hash -> key
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*types.MemoryEntry),
		byHash:  make(map[string]string),
	}
}

// Save persists a copy of entry under key, replacing any previous value and
// repointing the hash index in the same critical section.
func (s *Store) Save(_ context.Context, key string, entry *types.MemoryEntry) error {
	stored := entry.Clone()
	stored.Key = key
	hash, err := storage.PrepareForSave(stored)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[key]; ok && prev.Metadata.ContentHash != hash {
		s.dropHashIfOwned(prev.Metadata.ContentHash, key)
	}
	s.entries[key] = stored
	s.byHash[hash] = key
	return nil
}

// dropHashIfOwned removes the hash-index record only while it still points
// at key. Keys with identical content share one hash record; removing it on
// behalf of another key would strand the survivors. Callers hold s.mu.
func (s *Store) dropHashIfOwned(hash, key string) {
	if owner, ok := s.byHash[hash]; ok && owner == key {
		delete(s.byHash, hash)
	}
}

// Get returns a copy of the stored entry and bumps its access metadata.
func (s *Store) Get(_ context.Context, key string) (*types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	entry.RecordAccess(time.Now())
	return entry.Clone(), nil
}

// Delete removes the entry and its hash index record.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return storage.ErrNotFound
	}
	s.dropHashIfOwned(entry.Metadata.ContentHash, key)
	delete(s.entries, key)
	return nil
}

// ListKeys returns every key with the given prefix.
func (s *Store) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// GetByHash returns a copy of the entry whose content hashes to hash,
// without touching access metadata.
func (s *Store) GetByHash(_ context.Context, hash string) (*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byHash[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry.Clone(), nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
