package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/scrypster/memsync/internal/storage"
)

// ProcessPendingOperations drains the operations queued at the time of the
// call and attempts delivery to each target consumer. Targets are
// dispatched independently, so a slow or unreachable adapter never stalls
// delivery to the others. Operations that fail for any target are requeued
// with only the failed targets remaining: at-least-once, never silently
// dropped.
func (e *Engine) ProcessPendingOperations(ctx context.Context) error {
	e.refill()
	n := len(e.pending)
	for i := 0; i < n; i++ {
		var op *SyncOperation
		select {
		case op = <-e.pending:
		default:
			return nil
		}

		failed := e.deliver(ctx, op)
		op.Attempts++
		if len(failed) == 0 {
			log.Printf("Delivered %s operation for %s (attempt %d)", op.Type, op.Key, op.Attempts)
			continue
		}

		op.Targets = failed
		e.requeue(op)
	}
	return nil
}

// deliver dispatches the operation to every target concurrently and
// returns the targets that failed.
func (e *Engine) deliver(ctx context.Context, op *SyncOperation) []string {
	type outcome struct {
		target string
		err    error
	}

	results := make(chan outcome, len(op.Targets))
	var wg sync.WaitGroup
	for _, target := range op.Targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			results <- outcome{target: target, err: e.deliverToTarget(ctx, op, target)}
		}(target)
	}
	wg.Wait()
	close(results)

	var failed []string
	var succeeded []string
	for res := range results {
		if res.err != nil {
			log.Printf("WARNING: delivery of %s for %s to %s failed: %v",
				op.Type, op.Key, res.target, res.err)
			failed = append(failed, res.target)
			continue
		}
		succeeded = append(succeeded, res.target)
	}

	if len(succeeded) > 0 && op.Type != OpDeleted && op.Entry != nil {
		e.recordSyncStatus(ctx, op, succeeded)
	}
	return failed
}

// deliverToTarget performs one adapter call for one consumer, compressing
// the entry to fit that consumer's budget first.
func (e *Engine) deliverToTarget(ctx context.Context, op *SyncOperation, target string) error {
	e.mu.RLock()
	reg, ok := e.adapters[target]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no adapter registered for %s", target)
	}

	if op.Type == OpDeleted {
		return reg.deliver(ctx, func(ctx context.Context) error {
			return reg.adapter.SyncDelete(ctx, op.Key)
		})
	}

	entry := op.Entry
	if !e.budgets.CanFit(entry, target) {
		entry = e.compressToFit(entry, target)
		if !e.budgets.CanFit(entry, target) {
			return fmt.Errorf("entry does not fit %s's budget at any compression level", target)
		}
	}

	switch op.Type {
	case OpCreated:
		return reg.deliver(ctx, func(ctx context.Context) error {
			return reg.adapter.SyncCreate(ctx, op.Key, entry)
		})
	case OpUpdated:
		return reg.deliver(ctx, func(ctx context.Context) error {
			return reg.adapter.SyncUpdate(ctx, op.Key, entry)
		})
	default:
		return fmt.Errorf("operation type %s requires no delivery", op.Type)
	}
}

// recordSyncStatus persists which consumers have seen which version. The
// write is skipped when the stored entry has moved past the snapshot;
// the newer version's own delivery will record its status.
func (e *Engine) recordSyncStatus(ctx context.Context, op *SyncOperation, delivered []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, err := e.store.Get(ctx, op.Key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("WARNING: failed to record sync status for %s: %v", op.Key, err)
		}
		return
	}
	if stored.Metadata.Version != op.Entry.Metadata.Version {
		return
	}

	if stored.Metadata.SyncStatus == nil {
		stored.Metadata.SyncStatus = make(map[string]int, len(delivered))
	}
	for _, consumer := range delivered {
		stored.Metadata.SyncStatus[consumer] = op.Entry.Metadata.Version
	}
	if err := e.store.Save(ctx, op.Key, stored); err != nil {
		log.Printf("WARNING: failed to record sync status for %s: %v", op.Key, err)
	}
}
