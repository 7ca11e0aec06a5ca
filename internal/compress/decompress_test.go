package compress

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scrypster/memsync/internal/storage"
	"github.com/scrypster/memsync/internal/storage/memory"
	"github.com/scrypster/memsync/pkg/types"
)

func TestDecompress_ReferenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	original := strings.Repeat("the original content. ", 100)
	entry := &types.MemoryEntry{Key: "k", Content: original}
	if err := store.Save(ctx, "k", entry); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stored, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ref, err := Compress(stored, types.CompressionReferenceOnly)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	restored, err := Decompress(ctx, ref, store)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if restored.Content != original {
		t.Error("Decompress should restore the original content")
	}
	if restored.CompressionLevel != types.CompressionNone {
		t.Errorf("Restored entry should be uncompressed, got %s", restored.CompressionLevel)
	}
}

func TestDecompress_KeepsCurrentMetadata(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	entry := &types.MemoryEntry{Key: "k", Content: "payload"}
	if err := store.Save(ctx, "k", entry); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	stored, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ref, err := Compress(stored, types.CompressionReferenceOnly)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	ref.Metadata.Version = 7
	ref.Metadata.AccessCount = 12

	restored, err := Decompress(ctx, ref, store)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if restored.Metadata.Version != 7 || restored.Metadata.AccessCount != 12 {
		t.Error("Decompress must preserve the reference entry's current metadata")
	}
}

func TestDecompress_LossyLevelsNotReversible(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	for _, level := range []types.CompressionLevel{
		types.CompressionLight,
		types.CompressionMedium,
		types.CompressionHigh,
		types.CompressionExtreme,
	} {
		entry := &types.MemoryEntry{Key: "k", Content: "v", CompressionLevel: level}
		if _, err := Decompress(ctx, entry, store); !errors.Is(err, ErrNotReversible) {
			t.Errorf("Level %s should not be reversible, got %v", level, err)
		}
	}
}

func TestDecompress_MissingReference(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	entry := &types.MemoryEntry{
		Key:              "k",
		Content:          "[reference:deadbeef]",
		CompressionLevel: types.CompressionReferenceOnly,
		Metadata:         types.MemoryMetadata{ContentHash: "deadbeef"},
	}
	_, err := Decompress(ctx, entry, store)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Dangling reference should surface not-found, got %v", err)
	}
}
