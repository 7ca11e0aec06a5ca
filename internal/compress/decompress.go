package compress

import (
	"context"
	"errors"
	"fmt"

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

// ErrNotReversible is returned when decompression is requested for a level
// below reference-only. Those levels discard content.
var ErrNotReversible = errors.New("compress: level is not reversible")

// Decompress restores a reference-only entry's original content by looking
// it up through the storage hash index. The returned copy keeps the
// *current* metadata (access and version bookkeeping survive the round
// trip) with the compression level reset to none.
//
// Entries at any other level are lossy and cannot be restored.
func Decompress(ctx context.Context, entry *types.MemoryEntry, store storage.EntryStore) (*types.MemoryEntry, error) {
	if entry.CompressionLevel != types.CompressionReferenceOnly {
		return nil, ErrNotReversible
	}
	if entry.Metadata.ContentHash == "" {
		return nil, fmt.Errorf("compress: entry has no content hash to resolve")
	}

	original, err := store.GetByHash(ctx, entry.Metadata.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("compress: failed to resolve reference %s: %w", entry.Metadata.ContentHash, err)
	}

	out := entry.Clone()
	out.Content = original.Clone().Content
	out.CompressionLevel = types.CompressionNone
	return out, nil
}
