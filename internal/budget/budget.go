// Package budget implements per-consumer token accounting. Every consumer
// has a fixed token ceiling; the manager estimates entry cost, admits and
// releases entries against the ceiling, and optimizes candidate sets to fit
// through progressive compression.
//
// The budget is the system's only backpressure mechanism: entries that
// cannot fit a consumer's window are excluded, never force-queued.
package budget

import (
	"log"
	"sort"
	"sync"

	"github.com/scrypster/memsync/internal/compress"
	"github.com/scrypster/memsync/pkg/types"
)

// DefaultCharsPerToken is the canonical-bytes-per-token divisor used when
// no estimator tuning is configured. Exactness is not required, only
// monotonicity with content size.
const DefaultCharsPerToken = 4

// Manager tracks token ceilings and running usage per consumer.
// Safe for concurrent use.
type Manager struct {
	mu            sync.RWMutex
	ceilings      map[string]int
	usage         map[string]int
	charsPerToken int
}

// NewManager creates a Manager with the given estimator divisor.
// A divisor <= 0 falls back to DefaultCharsPerToken.
func NewManager(charsPerToken int) *Manager {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Manager{
		ceilings:      make(map[string]int),
		usage:         make(map[string]int),
		charsPerToken: charsPerToken,
	}
}

// SetCeiling configures a consumer's token ceiling. Consumers without a
// configured ceiling are unconstrained.
func (m *Manager) SetCeiling(tool string, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ceilings[tool] = tokens
}

// Ceiling returns the consumer's ceiling and whether one is configured.
func (m *Manager) Ceiling(tool string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.ceilings[tool]
	return c, ok
}

// Usage returns the consumer's current tracked token usage.
func (m *Manager) Usage(tool string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[tool]
}

// Available returns ceiling minus usage, or -1 for unconstrained consumers.
func (m *Manager) Available(tool string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ceiling, ok := m.ceilings[tool]
	if !ok {
		return -1
	}
	avail := ceiling - m.usage[tool]
	if avail < 0 {
		avail = 0
	}
	return avail
}

// EstimateTokens approximates the token cost of an entry by dividing the
// canonical content length by the configured divisor. Content that cannot
// be serialized costs zero.
func (m *Manager) EstimateTokens(entry *types.MemoryEntry) int {
	b, err := entry.CanonicalContent()
	if err != nil {
		return 0
	}
	tokens := len(b) / m.charsPerToken
	if tokens == 0 && len(b) > 0 {
		tokens = 1
	}
	return tokens
}

// CanFit reports whether the entry fits the consumer's remaining budget.
func (m *Manager) CanFit(entry *types.MemoryEntry, tool string) bool {
	cost := m.EstimateTokens(entry)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fitsLocked(cost, tool)
}

// fitsLocked checks cost against the ceiling with m.mu held.
func (m *Manager) fitsLocked(cost int, tool string) bool {
	ceiling, ok := m.ceilings[tool]
	if !ok {
		return true
	}
	return m.usage[tool]+cost <= ceiling
}

// Admit charges the entry's cost to the consumer. It returns false (and
// charges nothing) when the entry does not fit, so tracked usage can never
// exceed the ceiling.
func (m *Manager) Admit(entry *types.MemoryEntry, tool string) bool {
	cost := m.EstimateTokens(entry)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fitsLocked(cost, tool) {
		return false
	}
	m.usage[tool] += cost
	return true
}

// Release refunds the entry's cost, clamping usage at zero.
func (m *Manager) Release(entry *types.MemoryEntry, tool string) {
	cost := m.EstimateTokens(entry)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[tool] -= cost
	if m.usage[tool] < 0 {
		m.usage[tool] = 0
	}
}

// Reset clears the consumer's tracked usage.
func (m *Manager) Reset(tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[tool] = 0
}

// UsageSnapshot returns a copy of every consumer's tracked usage.
func (m *Manager) UsageSnapshot() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]int, len(m.usage))
	for tool, used := range m.usage {
		snap[tool] = used
	}
	return snap
}

// OptimizeResult reports the outcome of a set optimization. Dropped lists
// the keys of entries that did not fit at any compression level, a policy
// outcome rather than an error.
type OptimizeResult struct {
	Admitted []*types.MemoryEntry
	Dropped  []string
}

// OptimizeForTool greedily admits candidate entries against the consumer's
// remaining budget, highest (priority, context_relevance) first. Entries
// that do not fit verbatim are compressed level by level and the first
// fitting variant is admitted. Entries that fit at no level are dropped.
func (m *Manager) OptimizeForTool(entries []*types.MemoryEntry, tool string) OptimizeResult {
	candidates := make([]*types.MemoryEntry, len(entries))
	copy(candidates, entries)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Metadata.ContextRelevance > candidates[j].Metadata.ContextRelevance
	})

	var result OptimizeResult
	for _, entry := range candidates {
		admitted := m.AdmitWithCompression(entry, tool)
		if admitted == nil {
			result.Dropped = append(result.Dropped, entry.Key)
			continue
		}
		result.Admitted = append(result.Admitted, admitted)
	}
	return result
}

// AdmitWithCompression admits the entry verbatim if it fits, otherwise
// escalates through the compression ladder and admits the first variant
// that fits. Returns nil when no level suffices.
func (m *Manager) AdmitWithCompression(entry *types.MemoryEntry, tool string) *types.MemoryEntry {
	if m.Admit(entry, tool) {
		return entry
	}
	for _, level := range types.Ladder() {
		variant, err := compress.Compress(entry, level)
		if err != nil {
			// Malformed content for this level: skip it and escalate.
			log.Printf("WARNING: compression at %s failed for %s: %v", level, entry.Key, err)
			continue
		}
		if m.Admit(variant, tool) {
			return variant
		}
	}
	return nil
}
