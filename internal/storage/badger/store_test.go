package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memsync/internal/storage/badger"
	"github.com/scrypster/memsync/internal/storage/storagetest"
	"github.com/scrypster/memsync/pkg/types"
)

func openTestStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_Contract(t *testing.T) {
	storagetest.Run(t, openTestStore(t))
}

func TestBadgerStore_KeyPrefixesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// An entry key that looks like an index key must stay a plain entry.
	entry := &types.MemoryEntry{Key: "hash:abc", Content: "v"}
	require.NoError(t, store.Save(ctx, "hash:abc", entry))

	keys, err := store.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, keys, "hash:abc")

	got, err := store.Get(ctx, "hash:abc")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Content)
}
