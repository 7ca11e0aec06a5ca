// Package postgres implements the EntryStore contract on PostgreSQL.
// Entries are stored as a JSONB payload keyed by entry key, with an indexed
// content_hash column serving as the reverse hash index.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key          TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_content_hash ON entries(content_hash);
`

// Store is a PostgreSQL-backed EntryStore.
type Store struct {
	db *sql.DB
}

// NewStore connects to the database identified by dsn (a lib/pq connection
// string) and prepares the schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts the entry; payload and hash column change in one statement.
func (s *Store) Save(ctx context.Context, key string, entry *types.MemoryEntry) error {
	stored := entry.Clone()
	stored.Key = key
	hash, err := storage.PrepareForSave(stored)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (key, content_hash, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			payload = EXCLUDED.payload
	`, key, hash, payload)
	if err != nil {
		return fmt.Errorf("postgres: failed to save entry %s: %w", key, err)
	}
	return nil
}

// Get reads the entry and writes back bumped access metadata in one
// transaction.
func (s *Store) Get(ctx context.Context, key string) (*types.MemoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := scanEntry(tx.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE key = $1 FOR UPDATE", key))
	if err != nil {
		return nil, err
	}

	entry.RecordAccess(time.Now())
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to marshal entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE entries SET payload = $1 WHERE key = $2", payload, key); err != nil {
		return nil, fmt.Errorf("postgres: failed to update access metadata for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit access update: %w", err)
	}
	return entry, nil
}

// Delete removes the entry row.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete entry %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to read delete result: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListKeys returns every key with the given prefix.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE key LIKE $1 || '%' ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetByHash returns the entry whose content hashes to hash, without
// touching access metadata.
func (s *Store) GetByHash(ctx context.Context, hash string) (*types.MemoryEntry, error) {
	return scanEntry(s.db.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE content_hash = $1 LIMIT 1", hash))
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry decodes a payload column into a MemoryEntry.
func scanEntry(row *sql.Row) (*types.MemoryEntry, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to scan entry: %w", err)
	}
	var entry types.MemoryEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}
