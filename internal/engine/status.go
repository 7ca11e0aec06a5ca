package engine

import (
	"context"
	"fmt"

	"github.com/scrypster/memsync/pkg/types"
)

// MemoryStatus is a read-only snapshot of the engine for dashboards and
// CLIs. PendingOperations is the primary health signal of synchronization
// lag: persistent adapter failures accumulate there.
type MemoryStatus struct {
	EntryCount        int                            `json:"entry_count"`
	ToolCounts        map[string]int                 `json:"tool_counts"`
	ScopeCounts       map[types.Scope]int            `json:"scope_counts"`
	TypeCounts        map[types.MemoryType]int       `json:"type_counts"`
	CompressionCounts map[types.CompressionLevel]int `json:"compression_counts"`
	TokenUsage        map[string]int                 `json:"token_usage"`
	PendingOperations int                            `json:"pending_operations"`
	BreakerStates     map[string]string              `json:"breaker_states,omitempty"`
}

// GetMemoryStatus aggregates counts across all live entries plus the
// current token usage, queue depth, and delivery breaker states.
func (e *Engine) GetMemoryStatus(ctx context.Context) (*MemoryStatus, error) {
	entries, err := e.listLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory status: %w", err)
	}

	status := &MemoryStatus{
		EntryCount:        len(entries),
		ToolCounts:        make(map[string]int),
		ScopeCounts:       make(map[types.Scope]int),
		TypeCounts:        make(map[types.MemoryType]int),
		CompressionCounts: make(map[types.CompressionLevel]int),
		TokenUsage:        e.budgets.UsageSnapshot(),
		PendingOperations: e.PendingOperations(),
		BreakerStates:     make(map[string]string),
	}

	for _, entry := range entries {
		status.ToolCounts[entry.Metadata.SourceTool]++
		status.ScopeCounts[entry.Scope]++
		status.TypeCounts[entry.MemoryType]++
		status.CompressionCounts[entry.CompressionLevel]++
	}

	e.mu.RLock()
	for name, reg := range e.adapters {
		status.BreakerStates[name] = reg.breaker.State()
	}
	e.mu.RUnlock()

	return status, nil
}
