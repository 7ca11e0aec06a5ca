package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/memsync/internal/budget"
	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

// OptimizeContextWindow rebuilds the consumer's view of memory against its
// remaining budget. Required keys come first and are always admitted when
// present; the rest follow in descending (priority, context relevance)
// order through fit-or-compress admission. The result reports both the
// admitted variants and the keys that fit at no compression level.
func (e *Engine) OptimizeContextWindow(ctx context.Context, consumer string, requiredKeys []string) (budget.OptimizeResult, error) {
	entries, err := e.listLive(ctx)
	if err != nil {
		return budget.OptimizeResult{}, fmt.Errorf("optimize context window: %w", err)
	}

	required := make(map[string]bool, len(requiredKeys))
	for _, k := range requiredKeys {
		required[k] = true
	}

	var ordered []*types.MemoryEntry
	for _, k := range requiredKeys {
		for _, entry := range entries {
			if entry.Key == k {
				ordered = append(ordered, entry)
				break
			}
		}
	}

	rest := make([]*types.MemoryEntry, 0, len(entries))
	for _, entry := range entries {
		if !required[entry.Key] {
			rest = append(rest, entry)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Priority != rest[j].Priority {
			return rest[i].Priority > rest[j].Priority
		}
		return rest[i].Metadata.ContextRelevance > rest[j].Metadata.ContextRelevance
	})
	ordered = append(ordered, rest...)

	var result budget.OptimizeResult
	for _, entry := range ordered {
		admitted := e.budgets.AdmitWithCompression(entry, consumer)
		if admitted == nil {
			result.Dropped = append(result.Dropped, entry.Key)
			continue
		}
		result.Admitted = append(result.Admitted, admitted)
	}

	log.Printf("Optimized context window for %s: admitted=%d dropped=%d",
		consumer, len(result.Admitted), len(result.Dropped))
	return result, nil
}

// PurgeExpired deletes every expired entry and returns the count removed.
// Get already treats expired entries as absent, so this pass only
// reclaims storage.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := e.store.ListKeys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}

	now := time.Now()
	purged := 0
	for _, key := range keys {
		entry, err := e.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return purged, fmt.Errorf("purge expired: %w", err)
		}
		if !entry.IsExpired(now) {
			continue
		}
		if err := e.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return purged, fmt.Errorf("purge expired: %w", err)
		}
		purged++
	}
	if purged > 0 {
		log.Printf("Purged %d expired entries", purged)
	}
	return purged, nil
}

// listLive returns every non-expired entry in the store.
func (e *Engine) listLive(ctx context.Context) ([]*types.MemoryEntry, error) {
	keys, err := e.store.ListKeys(ctx, "")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entries := make([]*types.MemoryEntry, 0, len(keys))
	for _, key := range keys {
		entry, err := e.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if entry.IsExpired(now) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
