// Package sqlite implements the EntryStore contract on an embedded SQLite
// database. Entries are stored as a JSON payload column keyed by entry key,
// with an indexed content_hash column serving as the reverse hash index.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key          TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_content_hash ON entries(content_hash);
`

// Store is a SQLite-backed EntryStore.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dsn and prepares the schema.
// Use ":memory:" for an ephemeral store.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save upserts the entry; the hash column is written in the same statement
// as the payload, so the index can never point at a stale row.
func (s *Store) Save(ctx context.Context, key string, entry *types.MemoryEntry) error {
	stored := entry.Clone()
	stored.Key = key
	hash, err := storage.PrepareForSave(stored)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (key, content_hash, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content_hash = excluded.content_hash,
			payload = excluded.payload
	`, key, hash, string(payload))
	if err != nil {
		return fmt.Errorf("sqlite: failed to save entry %s: %w", key, err)
	}
	return nil
}

// Get reads the entry and writes back bumped access metadata in one
// transaction.
func (s *Store) Get(ctx context.Context, key string) (*types.MemoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := scanEntry(tx.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE key = ?", key))
	if err != nil {
		return nil, err
	}

	entry.RecordAccess(time.Now())
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to marshal entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE entries SET payload = ? WHERE key = ?", string(payload), key); err != nil {
		return nil, fmt.Errorf("sqlite: failed to update access metadata for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit access update: %w", err)
	}
	return entry, nil
}

// Delete removes the entry row (which carries the hash index column with it).
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete entry %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to read delete result: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListKeys returns every key with the given prefix.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE key LIKE ? || '%' ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetByHash returns the entry whose content hashes to hash, without
// touching access metadata.
func (s *Store) GetByHash(ctx context.Context, hash string) (*types.MemoryEntry, error) {
	return scanEntry(s.db.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE content_hash = ? LIMIT 1", hash))
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry decodes a payload column into a MemoryEntry.
func scanEntry(row *sql.Row) (*types.MemoryEntry, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to scan entry: %w", err)
	}
	var entry types.MemoryEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}
