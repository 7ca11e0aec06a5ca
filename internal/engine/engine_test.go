package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/memsync/internal/budget"
	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/internal/storage/memory"
	"github.com/scrypster/memsync/pkg/types"
)

// stubAdapter records delivered operations and can be told to fail.
type stubAdapter struct {
	mu      sync.Mutex
	created map[string]*types.MemoryEntry
	updated map[string]*types.MemoryEntry
	deleted []string
	failErr error
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{
		created: make(map[string]*types.MemoryEntry),
		updated: make(map[string]*types.MemoryEntry),
	}
}

func (a *stubAdapter) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failErr = err
}

func (a *stubAdapter) SyncCreate(_ context.Context, key string, entry *types.MemoryEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.created[key] = entry
	return nil
}

func (a *stubAdapter) SyncUpdate(_ context.Context, key string, entry *types.MemoryEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.updated[key] = entry
	return nil
}

func (a *stubAdapter) SyncDelete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.deleted = append(a.deleted, key)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *budget.Manager) {
	t.Helper()
	store := memory.NewStore()
	budgets := budget.NewManager(budget.DefaultCharsPerToken)
	eng, err := New(store, budgets, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng, store, budgets
}

func sharedEntry(content any) *types.MemoryEntry {
	return &types.MemoryEntry{
		MemoryType: types.MemoryShared,
		Scope:      types.ScopeSession,
		Content:    content,
	}
}

func TestNew_RequiresStoreAndBudgets(t *testing.T) {
	budgets := budget.NewManager(0)
	if _, err := New(nil, budgets, DefaultConfig()); err == nil {
		t.Error("New should reject a nil store")
	}
	if _, err := New(memory.NewStore(), nil, DefaultConfig()); err == nil {
		t.Error("New should reject a nil budget manager")
	}
	bad := DefaultConfig()
	bad.QueueSize = 0
	if _, err := New(memory.NewStore(), budgets, bad); err == nil {
		t.Error("New should reject an invalid config")
	}
}

func TestCreate_SetsVersionAndOrigin(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata.Version != 1 {
		t.Errorf("New entries start at version 1, got %d", got.Metadata.Version)
	}
	if got.Metadata.SourceTool != "tool-a" {
		t.Errorf("Origin not recorded, got %q", got.Metadata.SourceTool)
	}
	if got.Metadata.LastModified.IsZero() {
		t.Error("LastModified not set on create")
	}
}

func TestCreate_EnqueuesForOtherConsumers(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)
	eng.RegisterConsumer("tool-a")
	eng.RegisterConsumer("tool-b")
	eng.RegisterConsumer("tool-c")

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if eng.PendingOperations() != 1 {
		t.Fatalf("Expected 1 pending operation, got %d", eng.PendingOperations())
	}

	op := <-eng.pending
	if op.Type != OpCreated {
		t.Errorf("Expected created operation, got %s", op.Type)
	}
	if len(op.Targets) != 2 {
		t.Errorf("Expected targets tool-b and tool-c, got %v", op.Targets)
	}
	for _, target := range op.Targets {
		if target == "tool-a" {
			t.Error("The origin must never be a delivery target")
		}
	}
}

func TestCreate_ToolSpecificNeedsNoDelivery(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)
	eng.RegisterConsumer("tool-a")
	eng.RegisterConsumer("tool-b")

	entry := sharedEntry("private")
	entry.MemoryType = types.MemoryToolSpecific
	if err := eng.Create(ctx, "k", entry, "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if eng.PendingOperations() != 0 {
		t.Errorf("Tool-specific entries should enqueue nothing, got %d pending", eng.PendingOperations())
	}
}

func TestCreate_IgnoresCallerSuppliedVersion(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	entry := sharedEntry("v")
	entry.Metadata.Version = 7
	if err := eng.Create(ctx, "k", entry, "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata.Version != 1 {
		t.Errorf("Create always starts at version 1, got %d", got.Metadata.Version)
	}
}

func TestUpdate_IncrementsVersionByOne(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry("v1"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	update := sharedEntry("v2")
	update.Metadata.LastModified = time.Now().Add(time.Minute)
	outcome, err := eng.Update(ctx, "k", update, "tool-b")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome != UpdateApplied {
		t.Errorf("Expected applied, got %s", outcome)
	}

	got, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata.Version != 2 {
		t.Errorf("Version must increase by exactly 1, got %d", got.Metadata.Version)
	}
	if got.Content != "v2" {
		t.Errorf("Content not updated, got %v", got.Content)
	}
	if got.Metadata.SourceTool != "tool-b" {
		t.Errorf("Winning origin not recorded, got %q", got.Metadata.SourceTool)
	}
}

func TestUpdate_AbsentKeyDegeneratesToCreate(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	outcome, err := eng.Update(ctx, "k", sharedEntry("v"), "tool-a")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome != UpdateCreated {
		t.Errorf("Expected created, got %s", outcome)
	}

	got, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata.Version != 1 {
		t.Errorf("Degenerate create should start at version 1, got %d", got.Metadata.Version)
	}
}

func TestUpdate_StaleWriteSuperseded(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry("current"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stale := sharedEntry("stale")
	stale.Metadata.LastModified = time.Now().Add(-time.Hour)
	outcome, err := eng.Update(ctx, "k", stale, "tool-b")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome != UpdateSuperseded {
		t.Errorf("Expected superseded, got %s", outcome)
	}

	got, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "current" {
		t.Errorf("Stored content must survive a stale write, got %v", got.Content)
	}
	if got.Metadata.Version != 2 {
		t.Errorf("Superseded conflict must still bump the version, got %d", got.Metadata.Version)
	}
}

func TestUpdate_ConflictResolutionIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(time.Minute)

	run := func(first, second *types.MemoryEntry) any {
		eng, _, _ := newTestEngine(t)
		if err := eng.Create(ctx, "k", sharedEntry("base"), "tool-a"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := eng.Update(ctx, "k", first, "tool-b"); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, err := eng.Update(ctx, "k", second, "tool-c"); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got, err := eng.Get(ctx, "k", "tool-a")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		return got.Content
	}

	early := sharedEntry("early")
	early.Metadata.LastModified = base
	late := sharedEntry("late")
	late.Metadata.LastModified = base.Add(time.Minute)

	forward := run(early.Clone(), late.Clone())
	reverse := run(late.Clone(), early.Clone())

	if forward != "late" || reverse != "late" {
		t.Errorf("The later timestamp must win regardless of arrival order: forward=%v reverse=%v",
			forward, reverse)
	}
}

func TestGet_ExpiredEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	eng, store, _ := newTestEngine(t)

	expired := sharedEntry("old")
	expired.TTLSeconds = 60
	expired.Metadata.LastModified = time.Now().Add(-time.Hour)
	if err := store.Save(ctx, "k", expired); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := eng.Get(ctx, "k", "tool-a")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expired entries must read as absent, got %v", err)
	}
}

func TestGet_CompressesForConstrainedConsumer(t *testing.T) {
	ctx := context.Background()
	eng, _, budgets := newTestEngine(t)

	var sentences []string
	for i := 0; i < 50; i++ {
		sentences = append(sentences, fmt.Sprintf("sentence %d with surrounding words", i))
	}
	if err := eng.Create(ctx, "k", sharedEntry(strings.Join(sentences, ". ")), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	budgets.SetCeiling("tool-b", 50)

	got, err := eng.Get(ctx, "k", "tool-b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CompressionLevel == types.CompressionNone {
		t.Error("A constrained consumer should receive a compressed variant")
	}
	if !budgets.CanFit(got, "tool-b") {
		t.Error("The returned variant should fit the consumer's budget")
	}

	// The stored entry stays at full fidelity.
	full, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if full.CompressionLevel != types.CompressionNone {
		t.Error("Compression on read must not mutate stored state")
	}
}

func TestGet_ReturnsMostAggressiveVariantWhenNothingFits(t *testing.T) {
	ctx := context.Background()
	eng, _, budgets := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry(strings.Repeat("x", 5000)), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	budgets.SetCeiling("tool-b", 1)

	got, err := eng.Get(ctx, "k", "tool-b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CompressionLevel != types.CompressionReferenceOnly {
		t.Errorf("Nothing fits one token, so the reference variant is returned, got %s",
			got.CompressionLevel)
	}
}

func TestGet_OriginReceivesFullEntry(t *testing.T) {
	ctx := context.Background()
	eng, _, budgets := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry(strings.Repeat("x", 5000)), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	budgets.SetCeiling("tool-a", 1)

	got, err := eng.Get(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CompressionLevel != types.CompressionNone {
		t.Error("The origin always reads its own entries at full fidelity")
	}
}

func TestGet_RecordsAccessAudit(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := eng.Get(ctx, "k", "tool-b"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	recent := eng.RecentAccesses(10)
	if len(recent) != 1 {
		t.Fatalf("Expected 1 audit record, got %d", len(recent))
	}
	if recent[0].Type != OpAccessed || recent[0].Key != "k" || recent[0].Origin != "tool-b" {
		t.Errorf("Unexpected audit record: %+v", recent[0])
	}
	if eng.PendingOperations() != 0 {
		t.Error("Access operations never require delivery")
	}
}

func TestDelete_ReportsAbsentKey(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	removed, err := eng.Delete(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !removed {
		t.Error("Delete of a present key reports true")
	}

	removed, err = eng.Delete(ctx, "k", "tool-a")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed {
		t.Error("Delete of an absent key reports false")
	}
}

func TestProcessPendingOperations_DeliversToAdapters(t *testing.T) {
	ctx := context.Background()
	eng, store, _ := newTestEngine(t)

	adapterB := newStubAdapter()
	eng.RegisterAdapter("tool-b", adapterB)

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.ProcessPendingOperations(ctx); err != nil {
		t.Fatalf("ProcessPendingOperations failed: %v", err)
	}

	if _, ok := adapterB.created["k"]; !ok {
		t.Error("The create was not delivered to tool-b")
	}
	if eng.PendingOperations() != 0 {
		t.Errorf("Delivered operations must leave the queue, %d still pending", eng.PendingOperations())
	}

	stored, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Metadata.SyncStatus["tool-b"] != 1 {
		t.Errorf("Delivered version not recorded in sync status: %v", stored.Metadata.SyncStatus)
	}
}

func TestProcessPendingOperations_MissingAdapterStaysQueued(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)
	eng.RegisterConsumer("tool-b")

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.ProcessPendingOperations(ctx); err != nil {
		t.Fatalf("ProcessPendingOperations failed: %v", err)
	}
	if eng.PendingOperations() != 1 {
		t.Fatalf("An undeliverable operation must stay queued, got %d", eng.PendingOperations())
	}

	// Attach the adapter and drain again: at-least-once delivery completes.
	adapterB := newStubAdapter()
	eng.RegisterAdapter("tool-b", adapterB)
	if err := eng.ProcessPendingOperations(ctx); err != nil {
		t.Fatalf("ProcessPendingOperations failed: %v", err)
	}
	if _, ok := adapterB.created["k"]; !ok {
		t.Error("The retried delivery did not reach tool-b")
	}
	if eng.PendingOperations() != 0 {
		t.Errorf("Queue should be empty after the retry, got %d", eng.PendingOperations())
	}
}

func TestProcessPendingOperations_RequeuesOnlyFailedTargets(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	adapterB := newStubAdapter()
	adapterC := newStubAdapter()
	adapterC.fail(errors.New("connection refused"))
	eng.RegisterAdapter("tool-b", adapterB)
	eng.RegisterAdapter("tool-c", adapterC)

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.ProcessPendingOperations(ctx); err != nil {
		t.Fatalf("ProcessPendingOperations failed: %v", err)
	}

	if _, ok := adapterB.created["k"]; !ok {
		t.Error("The healthy target should still receive its delivery")
	}
	if eng.PendingOperations() != 1 {
		t.Fatalf("The failed target's delivery must stay queued, got %d", eng.PendingOperations())
	}

	op := <-eng.pending
	if len(op.Targets) != 1 || op.Targets[0] != "tool-c" {
		t.Errorf("Only the failed target should remain, got %v", op.Targets)
	}
	if op.Attempts != 1 {
		t.Errorf("Expected 1 completed attempt, got %d", op.Attempts)
	}
}

func TestProcessPendingOperations_DeliversDeletes(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	adapterB := newStubAdapter()
	eng.RegisterAdapter("tool-b", adapterB)

	if err := eng.Create(ctx, "k", sharedEntry("v"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := eng.Delete(ctx, "k", "tool-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := eng.ProcessPendingOperations(ctx); err != nil {
		t.Fatalf("ProcessPendingOperations failed: %v", err)
	}

	if len(adapterB.deleted) != 1 || adapterB.deleted[0] != "k" {
		t.Errorf("Delete not delivered, got %v", adapterB.deleted)
	}
}

func TestProcessPendingOperations_CompressesForConstrainedTarget(t *testing.T) {
	ctx := context.Background()
	eng, _, budgets := newTestEngine(t)

	adapterB := newStubAdapter()
	eng.RegisterAdapter("tool-b", adapterB)
	budgets.SetCeiling("tool-b", 25)

	long := strings.Repeat("some sentence with words. ", 80)
	if err := eng.Create(ctx, "k", sharedEntry(long), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.ProcessPendingOperations(ctx); err != nil {
		t.Fatalf("ProcessPendingOperations failed: %v", err)
	}

	delivered, ok := adapterB.created["k"]
	if !ok {
		t.Fatal("The create was not delivered to tool-b")
	}
	if delivered.CompressionLevel == types.CompressionNone {
		t.Error("The delivered entry should have been compressed to fit the target")
	}
}

func TestOptimizeContextWindow_RequiredKeysFirst(t *testing.T) {
	ctx := context.Background()
	eng, _, budgets := newTestEngine(t)

	must := sharedEntry(strings.Repeat("a", 60))
	must.Priority = 0
	big := sharedEntry(strings.Repeat("b", 60))
	big.Priority = 9

	if err := eng.Create(ctx, "must", must, "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Create(ctx, "big", big, "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	budgets.SetCeiling("tool-b", 16)

	result, err := eng.OptimizeContextWindow(ctx, "tool-b", []string{"must"})
	if err != nil {
		t.Fatalf("OptimizeContextWindow failed: %v", err)
	}
	if len(result.Admitted) == 0 || result.Admitted[0].Key != "must" {
		t.Errorf("Required keys must be admitted first, got %+v", result.Admitted)
	}
	if result.Admitted[0].CompressionLevel != types.CompressionNone {
		t.Error("The required entry fits verbatim and should stay uncompressed")
	}
}

func TestOptimizeContextWindow_ReportsDropped(t *testing.T) {
	ctx := context.Background()
	eng, _, budgets := newTestEngine(t)

	if err := eng.Create(ctx, "big", sharedEntry(strings.Repeat("x", 5000)), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	budgets.SetCeiling("tool-b", 1)

	result, err := eng.OptimizeContextWindow(ctx, "tool-b", nil)
	if err != nil {
		t.Fatalf("OptimizeContextWindow failed: %v", err)
	}
	if len(result.Dropped) != 1 || result.Dropped[0] != "big" {
		t.Errorf("Dropped keys must be reported, got %v", result.Dropped)
	}
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	eng, store, _ := newTestEngine(t)

	expired := sharedEntry("old")
	expired.TTLSeconds = 1
	expired.Metadata.LastModified = time.Now().Add(-time.Hour)
	if err := store.Save(ctx, "old", expired); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := eng.Create(ctx, "live", sharedEntry("fresh"), "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	purged, err := eng.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged entry, got %d", purged)
	}
	if _, err := store.Get(ctx, "live"); err != nil {
		t.Error("Live entries must survive the purge")
	}
}

func TestGetMemoryStatus(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)
	eng.RegisterConsumer("tool-b")

	shared := sharedEntry("s")
	if err := eng.Create(ctx, "a", shared, "tool-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	private := sharedEntry("p")
	private.MemoryType = types.MemoryToolSpecific
	private.Scope = types.ScopeGlobal
	if err := eng.Create(ctx, "b", private, "tool-b"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	status, err := eng.GetMemoryStatus(ctx)
	if err != nil {
		t.Fatalf("GetMemoryStatus failed: %v", err)
	}
	if status.EntryCount != 2 {
		t.Errorf("Expected 2 entries, got %d", status.EntryCount)
	}
	if status.ToolCounts["tool-a"] != 1 || status.ToolCounts["tool-b"] != 1 {
		t.Errorf("Unexpected tool counts: %v", status.ToolCounts)
	}
	if status.TypeCounts[types.MemoryShared] != 1 || status.TypeCounts[types.MemoryToolSpecific] != 1 {
		t.Errorf("Unexpected type counts: %v", status.TypeCounts)
	}
	if status.ScopeCounts[types.ScopeSession] != 1 || status.ScopeCounts[types.ScopeGlobal] != 1 {
		t.Errorf("Unexpected scope counts: %v", status.ScopeCounts)
	}
	if status.PendingOperations != 1 {
		t.Errorf("Expected 1 pending operation, got %d", status.PendingOperations)
	}
}

func TestEnqueue_FullQueueSpillsInsteadOfDropping(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	budgets := budget.NewManager(budget.DefaultCharsPerToken)
	config := DefaultConfig()
	config.QueueSize = 1
	eng, err := New(store, budgets, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	adapterB := newStubAdapter()
	eng.RegisterAdapter("tool-b", adapterB)

	for i := 0; i < 3; i++ {
		if err := eng.Create(ctx, fmt.Sprintf("k%d", i), sharedEntry("v"), "tool-a"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if eng.PendingOperations() != 3 {
		t.Fatalf("All 3 operations must stay pending past the channel buffer, got %d",
			eng.PendingOperations())
	}

	for i := 0; i < 5 && eng.PendingOperations() > 0; i++ {
		if err := eng.ProcessPendingOperations(ctx); err != nil {
			t.Fatalf("ProcessPendingOperations failed: %v", err)
		}
	}
	if eng.PendingOperations() != 0 {
		t.Errorf("Spilled operations must drain eventually, %d still pending", eng.PendingOperations())
	}
	if len(adapterB.created) != 3 {
		t.Errorf("Expected all 3 creates delivered, got %d", len(adapterB.created))
	}
}

func TestStartAndShutdown(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng.Start(ctx); err == nil {
		t.Error("Second Start should fail")
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := eng.Shutdown(ctx); err == nil {
		t.Error("Shutdown of a stopped engine should fail")
	}
}

func TestAuditRing_EvictsOldest(t *testing.T) {
	ring := newAuditRing(3)
	for i := 0; i < 5; i++ {
		ring.Record(newOperation(OpAccessed, fmt.Sprintf("k%d", i), nil, "tool", nil))
	}

	recent := ring.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Ring of 3 holds 3 records, got %d", len(recent))
	}
	if recent[0].Key != "k4" || recent[2].Key != "k2" {
		t.Errorf("Recent must be newest first, got %s..%s", recent[0].Key, recent[2].Key)
	}
}
