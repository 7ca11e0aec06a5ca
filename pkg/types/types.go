// Package types defines the core data structures for the memsync engine.
// These types represent memory entries, their metadata, and the enums that
// drive compression, scoping, and placement decisions.
package types

import "fmt"

// MemoryType describes whether an entry is visible to every consumer or
// private to the tool that created it.
type MemoryType string

// Memory type constants
const (
	// MemoryShared indicates the entry is synchronized to all consumers.
	MemoryShared MemoryType = "shared"

	// MemoryToolSpecific indicates the entry belongs to its origin tool only.
	MemoryToolSpecific MemoryType = "tool_specific"
)

// Scope describes the lifetime class of an entry.
type Scope string

// Scope constants
const (
	// ScopeSession indicates the entry lives for a single session.
	ScopeSession Scope = "session"

	// ScopeGlobal indicates the entry persists across sessions.
	ScopeGlobal Scope = "global"
)

// StorageTier is an advisory placement hint for eviction tooling.
// It never affects correctness, only how aggressively external tooling
// should treat the entry.
type StorageTier string

// Storage tier constants
const (
	TierHot  StorageTier = "hot"
	TierWarm StorageTier = "warm"
	TierCold StorageTier = "cold"
)

// CompressionLevel is one point on the fixed compression ladder.
// Levels are strictly ordered: CompressionNone < CompressionLight <
// CompressionMedium < CompressionHigh < CompressionExtreme <
// CompressionReferenceOnly. Ordinal comparison selects the transform.
type CompressionLevel int

// Compression ladder constants, in ascending aggressiveness.
const (
	CompressionNone CompressionLevel = iota
	CompressionLight
	CompressionMedium
	CompressionHigh
	CompressionExtreme
	CompressionReferenceOnly
)

// compressionNames maps ladder ordinals to their wire names.
var compressionNames = [...]string{
	CompressionNone:          "none",
	CompressionLight:         "light",
	CompressionMedium:        "medium",
	CompressionHigh:          "high",
	CompressionExtreme:       "extreme",
	CompressionReferenceOnly: "reference_only",
}

// Ladder returns every compression level above CompressionNone, in
// ascending order. Callers escalate through this slice until content fits.
func Ladder() []CompressionLevel {
	return []CompressionLevel{
		CompressionLight,
		CompressionMedium,
		CompressionHigh,
		CompressionExtreme,
		CompressionReferenceOnly,
	}
}

// Valid reports whether the level is on the ladder.
func (l CompressionLevel) Valid() bool {
	return l >= CompressionNone && l <= CompressionReferenceOnly
}

// String returns the wire name of the level.
func (l CompressionLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("compression(%d)", int(l))
	}
	return compressionNames[l]
}

// MarshalText serializes the level as its wire name so JSON maps keyed by
// level stay human-readable.
func (l CompressionLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid compression level %d", int(l))
	}
	return []byte(compressionNames[l]), nil
}

// UnmarshalText parses a wire name back into a ladder ordinal.
func (l *CompressionLevel) UnmarshalText(text []byte) error {
	name := string(text)
	for lvl, n := range compressionNames {
		if n == name {
			*l = CompressionLevel(lvl)
			return nil
		}
	}
	return fmt.Errorf("unknown compression level %q", name)
}
