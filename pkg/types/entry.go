package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// MemoryEntry is a single unit of memory shared across consumers.
// Content is opaque: either a string or a string-keyed map, the only two
// shapes the compression engine handles.
type MemoryEntry struct {
	Key              string           `json:"key"`
	MemoryType       MemoryType       `json:"memory_type"`
	Scope            Scope            `json:"scope"`
	Priority         int              `json:"priority"`          // Higher is retained preferentially
	CompressionLevel CompressionLevel `json:"compression_level"` // Current compression state
	TTLSeconds       int64            `json:"ttl_seconds"`       // Relative expiry from last modification (0 = no expiry)
	Content          any              `json:"content"`
	StorageTier      StorageTier      `json:"storage_tier"` // Advisory placement hint
	Metadata         MemoryMetadata   `json:"metadata"`
}

// MemoryMetadata carries bookkeeping for a memory entry.
type MemoryMetadata struct {
	// SourceTool identifies the consumer that created (or last won) the entry.
	SourceTool string `json:"source_tool"`

	// LastModified is used for TTL expiry and conflict resolution.
	LastModified time.Time `json:"last_modified"`

	// AccessCount and LastAccessed are updated on every read.
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	// ContextRelevance is a secondary sort key during budget optimization.
	ContextRelevance float64 `json:"context_relevance"`

	// Version increases by exactly 1 on every successful update.
	Version int `json:"version"`

	// SyncStatus maps consumer name to the last version delivered to it.
	SyncStatus map[string]int `json:"sync_status,omitempty"`

	// ContentHash is the SHA-256 of the canonical content serialization.
	// Recomputed on every persisted write; keys the reverse hash index.
	ContentHash string `json:"content_hash,omitempty"`
}

// IsExpired reports whether the entry's TTL has elapsed relative to now.
// Entries with TTLSeconds <= 0 never expire.
func (e *MemoryEntry) IsExpired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.Metadata.LastModified) > time.Duration(e.TTLSeconds)*time.Second
}

// RecordAccess bumps the access counter and timestamp.
func (e *MemoryEntry) RecordAccess(now time.Time) {
	e.Metadata.AccessCount++
	t := now
	e.Metadata.LastAccessed = &t
}

// ContentString returns the content as a string, if it has that shape.
func (e *MemoryEntry) ContentString() (string, bool) {
	s, ok := e.Content.(string)
	return s, ok
}

// ContentMap returns the content as a string-keyed map, if it has that shape.
// JSON round trips produce map[string]any, so that is the canonical map shape.
func (e *MemoryEntry) ContentMap() (map[string]any, bool) {
	m, ok := e.Content.(map[string]any)
	return m, ok
}

// CanonicalContent serializes the content deterministically. encoding/json
// sorts map keys, so the same content always yields the same bytes.
func (e *MemoryEntry) CanonicalContent() ([]byte, error) {
	b, err := json.Marshal(e.Content)
	if err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}
	return b, nil
}

// ComputeContentHash returns the SHA-256 hex digest of the canonical
// content serialization.
func (e *MemoryEntry) ComputeContentHash() (string, error) {
	b, err := e.CanonicalContent()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a copy of the entry that is safe to hand to another
// goroutine. Map content and the sync status map are copied one level deep;
// compression transforms always build fresh maps, so top-level copies are
// sufficient to keep callers from racing on shared state.
func (e *MemoryEntry) Clone() *MemoryEntry {
	if e == nil {
		return nil
	}
	c := *e
	if m, ok := e.Content.(map[string]any); ok {
		mc := make(map[string]any, len(m))
		for k, v := range m {
			mc[k] = v
		}
		c.Content = mc
	}
	if e.Metadata.SyncStatus != nil {
		sc := make(map[string]int, len(e.Metadata.SyncStatus))
		for k, v := range e.Metadata.SyncStatus {
			sc[k] = v
		}
		c.Metadata.SyncStatus = sc
	}
	if e.Metadata.LastAccessed != nil {
		t := *e.Metadata.LastAccessed
		c.Metadata.LastAccessed = &t
	}
	return &c
}
