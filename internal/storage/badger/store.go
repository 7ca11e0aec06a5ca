// Package badger implements the EntryStore contract on a Badger embedded
// key-value store. Entry records and hash-index records live under distinct
// key prefixes and are written in a single transaction, keeping the index
// atomic with the primary write.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

const (
	entryPrefix = "entry:"
	hashPrefix  = "hash:"
)

// Store is a Badger-backed EntryStore.
type Store struct {
	db *badger.DB
}

// NewStore opens (or creates) a Badger database in dir.
func NewStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes the entry record and its hash-index record in one transaction.
func (s *Store) Save(_ context.Context, key string, entry *types.MemoryEntry) error {
	stored := entry.Clone()
	stored.Key = key
	hash, err := storage.PrepareForSave(stored)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("badger: failed to marshal entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Drop the previous hash-index record if the content changed.
		if prev, err := readEntry(txn, entryKey(key)); err == nil {
			if prev.Metadata.ContentHash != hash {
				if err := dropHashIfOwned(txn, prev.Metadata.ContentHash, key); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := txn.Set(entryKey(key), payload); err != nil {
			return fmt.Errorf("badger: failed to save entry %s: %w", key, err)
		}
		if err := txn.Set(hashKey(hash), []byte(key)); err != nil {
			return fmt.Errorf("badger: failed to write hash index: %w", err)
		}
		return nil
	})
}

// Get reads the entry and writes back bumped access metadata in one
// transaction.
func (s *Store) Get(_ context.Context, key string) (*types.MemoryEntry, error) {
	var entry *types.MemoryEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		e, err := readEntry(txn, entryKey(key))
		if err != nil {
			return err
		}
		e.RecordAccess(time.Now())
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("badger: failed to marshal entry: %w", err)
		}
		if err := txn.Set(entryKey(key), payload); err != nil {
			return fmt.Errorf("badger: failed to update access metadata for %s: %w", key, err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes the entry and its hash-index record in one transaction.
func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry, err := readEntry(txn, entryKey(key))
		if err != nil {
			return err
		}
		if err := dropHashIfOwned(txn, entry.Metadata.ContentHash, key); err != nil {
			return err
		}
		if err := txn.Delete(entryKey(key)); err != nil {
			return fmt.Errorf("badger: failed to delete entry %s: %w", key, err)
		}
		return nil
	})
}

// dropHashIfOwned deletes the hash-index record only while it still points
// at key. Keys with identical content share one hash record; removing it on
// behalf of another key would strand the survivors.
func dropHashIfOwned(txn *badger.Txn, hash, key string) error {
	item, err := txn.Get(hashKey(hash))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("badger: failed to read hash index: %w", err)
	}
	owner, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("badger: failed to copy index value: %w", err)
	}
	if string(owner) != key {
		return nil
	}
	if err := txn.Delete(hashKey(hash)); err != nil {
		return fmt.Errorf("badger: failed to delete hash index: %w", err)
	}
	return nil
}

// ListKeys returns every stored key with the given prefix.
func (s *Store) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		scan := []byte(entryPrefix + prefix)
		for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			keys = append(keys, strings.TrimPrefix(k, entryPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: failed to list keys: %w", err)
	}
	return keys, nil
}

// GetByHash resolves the hash-index record to a key and returns that entry,
// without touching access metadata.
func (s *Store) GetByHash(_ context.Context, hash string) (*types.MemoryEntry, error) {
	var entry *types.MemoryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(hash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("badger: failed to read hash index: %w", err)
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger: failed to copy index value: %w", err)
		}
		entry, err = readEntry(txn, entryKey(string(key)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(key string) []byte {
	return []byte(entryPrefix + key)
}

func hashKey(hash string) []byte {
	return []byte(hashPrefix + hash)
}

// readEntry fetches and decodes an entry record inside a transaction.
func readEntry(txn *badger.Txn, key []byte) (*types.MemoryEntry, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("badger: failed to read entry: %w", err)
	}
	var entry types.MemoryEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("badger: failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}
