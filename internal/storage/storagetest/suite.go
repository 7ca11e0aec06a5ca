// Package storagetest provides the conformance suite every EntryStore
// backend must pass. Backend packages call Run from their own tests so the
// contract is checked identically across implementations.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/pkg/types"
)

// Run executes the EntryStore conformance suite against the given store.
func Run(t *testing.T, store storage.EntryStore) {
	t.Run("SaveAndGet", func(t *testing.T) { testSaveAndGet(t, store) })
	t.Run("GetBumpsAccess", func(t *testing.T) { testGetBumpsAccess(t, store) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, store) })
	t.Run("Upsert", func(t *testing.T) { testUpsert(t, store) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, store) })
	t.Run("ListKeys", func(t *testing.T) { testListKeys(t, store) })
	t.Run("GetByHash", func(t *testing.T) { testGetByHash(t, store) })
	t.Run("DuplicateContentKeys", func(t *testing.T) { testDuplicateContentKeys(t, store) })
}

func testSaveAndGet(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	entry := &types.MemoryEntry{
		Key:        "suite/save-get",
		MemoryType: types.MemoryShared,
		Scope:      types.ScopeSession,
		Content:    "hello",
	}
	require.NoError(t, store.Save(ctx, entry.Key, entry))

	got, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, types.MemoryShared, got.MemoryType)
	assert.NotEmpty(t, got.Metadata.ContentHash, "Save must compute the content hash")
}

func testGetBumpsAccess(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	entry := &types.MemoryEntry{Key: "suite/access", Content: "v"}
	require.NoError(t, store.Save(ctx, entry.Key, entry))

	first, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	second, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)

	assert.Equal(t, first.Metadata.AccessCount+1, second.Metadata.AccessCount,
		"Every Get must increment the access count")
	assert.NotNil(t, second.Metadata.LastAccessed)
}

func testGetMissing(t *testing.T, store storage.EntryStore) {
	_, err := store.Get(context.Background(), "suite/no-such-key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpsert(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	key := "suite/upsert"

	first := &types.MemoryEntry{Key: key, Content: "version one"}
	require.NoError(t, store.Save(ctx, key, first))
	oldHash, err := first.ComputeContentHash()
	require.NoError(t, err)

	second := &types.MemoryEntry{Key: key, Content: "version two"}
	require.NoError(t, store.Save(ctx, key, second))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "version two", got.Content)

	// The index must follow the overwrite.
	_, err = store.GetByHash(ctx, oldHash)
	assert.ErrorIs(t, err, storage.ErrNotFound, "Stale hash index record must be dropped")
	byHash, err := store.GetByHash(ctx, got.Metadata.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "version two", byHash.Content)
}

func testDelete(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	key := "suite/delete"
	entry := &types.MemoryEntry{Key: key, Content: "doomed"}
	require.NoError(t, store.Save(ctx, key, entry))

	stored, err := store.Get(ctx, key)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetByHash(ctx, stored.Metadata.ContentHash)
	assert.ErrorIs(t, err, storage.ErrNotFound, "Delete must remove the hash index record")

	assert.ErrorIs(t, store.Delete(ctx, key), storage.ErrNotFound,
		"Deleting an absent key reports not-found")
}

func testListKeys(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	for _, key := range []string{"list/a", "list/b", "other/c"} {
		entry := &types.MemoryEntry{Key: key, Content: key}
		require.NoError(t, store.Save(ctx, key, entry))
	}

	keys, err := store.ListKeys(ctx, "list/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"list/a", "list/b"}, keys)

	all, err := store.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 3, "Empty prefix must list every key")
}

func testGetByHash(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	entry := &types.MemoryEntry{Key: "suite/by-hash", Content: "unique reference content"}
	require.NoError(t, store.Save(ctx, entry.Key, entry))

	stored, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	countAfterGet := stored.Metadata.AccessCount

	byHash, err := store.GetByHash(ctx, stored.Metadata.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "unique reference content", byHash.Content)
	assert.Equal(t, countAfterGet, byHash.Metadata.AccessCount,
		"GetByHash must not bump access metadata")

	_, err = store.GetByHash(ctx, "no-such-hash")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDuplicateContentKeys(t *testing.T, store storage.EntryStore) {
	ctx := context.Background()
	shared := "duplicated content"
	sharedHash, err := (&types.MemoryEntry{Content: shared}).ComputeContentHash()
	require.NoError(t, err)

	for _, key := range []string{"dup/a", "dup/b"} {
		entry := &types.MemoryEntry{Key: key, Content: shared}
		require.NoError(t, store.Save(ctx, key, entry))
	}

	// Deleting one duplicate must not strand the other in the hash index.
	require.NoError(t, store.Delete(ctx, "dup/a"))
	got, err := store.GetByHash(ctx, sharedHash)
	require.NoError(t, err, "Hash lookup must still resolve a live duplicate")
	assert.Equal(t, shared, got.Content)

	// Overwriting a duplicate with new content must not strand the rest.
	require.NoError(t, store.Save(ctx, "dup/c", &types.MemoryEntry{Key: "dup/c", Content: shared}))
	require.NoError(t, store.Save(ctx, "dup/b", &types.MemoryEntry{Key: "dup/b", Content: "changed"}))

	got, err = store.GetByHash(ctx, sharedHash)
	require.NoError(t, err, "Hash lookup must survive an overwrite of a duplicate")
	assert.Equal(t, shared, got.Content)
}
