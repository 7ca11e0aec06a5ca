package budget_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memsync/internal/budget"
	"github.com/scrypster/memsync/pkg/types"
)

func entryWithContent(key string, content any) *types.MemoryEntry {
	return &types.MemoryEntry{Key: key, Content: content}
}

func TestEstimateTokens_ScalesWithContent(t *testing.T) {
	m := budget.NewManager(4)

	small := m.EstimateTokens(entryWithContent("s", "abcd"))
	large := m.EstimateTokens(entryWithContent("l", strings.Repeat("abcd", 100)))

	assert.Greater(t, large, small, "More content must cost more tokens")
}

func TestEstimateTokens_NonEmptyContentCostsAtLeastOne(t *testing.T) {
	m := budget.NewManager(1000)
	cost := m.EstimateTokens(entryWithContent("tiny", "x"))
	assert.Equal(t, 1, cost, "Non-empty content must cost at least one token")
}

func TestAdmit_UnconfiguredConsumerIsUnconstrained(t *testing.T) {
	m := budget.NewManager(4)
	huge := entryWithContent("h", strings.Repeat("x", 1_000_000))

	assert.True(t, m.Admit(huge, "unconfigured"))
	assert.Equal(t, -1, m.Available("unconfigured"))
}

func TestAdmit_NeverExceedsCeiling(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 10)

	// 24 canonical bytes (22 chars + quotes) -> 6 tokens.
	entry := entryWithContent("e", strings.Repeat("a", 22))
	cost := m.EstimateTokens(entry)
	require.Equal(t, 6, cost)

	assert.True(t, m.Admit(entry, "tool"))
	assert.False(t, m.Admit(entry, "tool"), "Second admit would exceed the ceiling")
	assert.Equal(t, cost, m.Usage("tool"), "Failed admit must charge nothing")
}

func TestRelease_RefundsAndClamps(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 100)

	entry := entryWithContent("e", strings.Repeat("a", 38))
	require.True(t, m.Admit(entry, "tool"))
	m.Release(entry, "tool")
	assert.Equal(t, 0, m.Usage("tool"))

	m.Release(entry, "tool")
	assert.Equal(t, 0, m.Usage("tool"), "Usage must clamp at zero")
}

func TestReset_ClearsUsage(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 100)
	require.True(t, m.Admit(entryWithContent("e", "some content here"), "tool"))

	m.Reset("tool")
	assert.Equal(t, 0, m.Usage("tool"))
	assert.Equal(t, 100, m.Available("tool"))
}

func TestAdmitWithCompression_CompressesToFit(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 50)

	long := strings.Repeat("many words in a long sentence. ", 100)
	admitted := m.AdmitWithCompression(entryWithContent("e", long), "tool")

	require.NotNil(t, admitted, "A compressible entry must be admitted at some level")
	assert.Greater(t, int(admitted.CompressionLevel), int(types.CompressionNone))
	assert.LessOrEqual(t, m.Usage("tool"), 50, "Tracked usage must never exceed the ceiling")
}

func TestAdmitWithCompression_VerbatimWhenItFits(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 1000)

	entry := entryWithContent("e", "fits easily")
	admitted := m.AdmitWithCompression(entry, "tool")
	require.NotNil(t, admitted)
	assert.Equal(t, types.CompressionNone, admitted.CompressionLevel)
	assert.Equal(t, entry, admitted, "Fitting entries are admitted verbatim")
}

func TestAdmitWithCompression_NothingFits(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 1)

	// Even the reference pointer costs more than one token.
	long := strings.Repeat("x", 5000)
	admitted := m.AdmitWithCompression(entryWithContent("e", long), "tool")
	assert.Nil(t, admitted)
	assert.Equal(t, 0, m.Usage("tool"), "A dropped entry must charge nothing")
}

func TestOptimizeForTool_PriorityOrder(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 20)

	low := entryWithContent("low", strings.Repeat("a", 30))
	low.Priority = 1
	high := entryWithContent("high", strings.Repeat("b", 30))
	high.Priority = 9

	result := m.OptimizeForTool([]*types.MemoryEntry{low, high}, "tool")

	require.NotEmpty(t, result.Admitted)
	assert.Equal(t, "high", result.Admitted[0].Key, "Higher priority entries admit first")
}

func TestOptimizeForTool_RelevanceBreaksTies(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 1000)

	a := entryWithContent("a", "content a")
	a.Priority = 5
	a.Metadata.ContextRelevance = 0.2
	b := entryWithContent("b", "content b")
	b.Priority = 5
	b.Metadata.ContextRelevance = 0.9

	result := m.OptimizeForTool([]*types.MemoryEntry{a, b}, "tool")

	require.Len(t, result.Admitted, 2)
	assert.Equal(t, "b", result.Admitted[0].Key, "Context relevance breaks priority ties")
}

func TestOptimizeForTool_ReportsDropped(t *testing.T) {
	m := budget.NewManager(4)
	m.SetCeiling("tool", 1)

	big := entryWithContent("big", strings.Repeat("x", 5000))
	result := m.OptimizeForTool([]*types.MemoryEntry{big}, "tool")

	assert.Empty(t, result.Admitted)
	assert.Equal(t, []string{"big"}, result.Dropped, "Dropped keys must be reported explicitly")
}
