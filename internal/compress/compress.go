// Package compress implements the deterministic compression ladder for
// memory entries. Compress is a pure function: the same (content, level)
// pair always yields the same result. Only reference-only compression is
// reversible; every other level is lossy.
package compress

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/memsync/pkg/types"
)

// Ladder thresholds. Content at or below a level's threshold passes through
// unchanged, which keeps output size monotonically non-increasing as levels
// escalate.
const (
	lightThreshold   = 1000
	lightKeepChars   = 900
	mediumThreshold  = 500
	mediumSentences  = 5
	highThreshold    = 300
	extremeThreshold = 100

	truncationMarker  = "... [truncated]"
	ellipsisMarker    = "..."
	compressionMarker = "[compressed]"

	lightMapKeys  = 5
	mediumMapKeys = 3

	compressedFlag = "_compressed"
	keyNamesField  = "_keys"
)

// stringTransform reduces string content for one ladder level.
// hash is the entry's content hash, used only by reference-only.
type stringTransform func(s, hash string) string

// mapTransform reduces map content for one ladder level.
type mapTransform func(m map[string]any) map[string]any

// Strategy tables keyed by ladder ordinal. Selected by ordinal comparison,
// never by chained conditionals, so string and map branches share no
// threshold logic.
var (
	stringLadder = map[types.CompressionLevel]stringTransform{
		types.CompressionLight:         lightString,
		types.CompressionMedium:        mediumString,
		types.CompressionHigh:          highString,
		types.CompressionExtreme:       extremeString,
		types.CompressionReferenceOnly: referenceString,
	}

	mapLadder = map[types.CompressionLevel]mapTransform{
		types.CompressionLight:         func(m map[string]any) map[string]any { return keepKeys(m, lightMapKeys) },
		types.CompressionMedium:        func(m map[string]any) map[string]any { return keepKeys(m, mediumMapKeys) },
		types.CompressionHigh:          keyNamesOnly,
		types.CompressionExtreme:       keyNamesOnly,
		types.CompressionReferenceOnly: keyNamesOnly,
	}
)

// Compress returns a copy of entry with its content reduced to the given
// level. The input entry is never mutated. Content that is neither a string
// nor a string-keyed map cannot be compressed and yields an error so the
// caller can skip the level.
func Compress(entry *types.MemoryEntry, level types.CompressionLevel) (*types.MemoryEntry, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("compress: invalid level %d", int(level))
	}

	out := entry.Clone()
	out.CompressionLevel = level

	if level == types.CompressionNone {
		return out, nil
	}

	hash := entry.Metadata.ContentHash
	if hash == "" {
		computed, err := entry.ComputeContentHash()
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		hash = computed
	}

	switch content := out.Content.(type) {
	case string:
		out.Content = stringLadder[level](content, hash)
	case map[string]any:
		out.Content = mapLadder[level](content)
	default:
		return nil, fmt.Errorf("compress: unsupported content type %T", entry.Content)
	}

	return out, nil
}

// lightString truncates long strings to their first lightKeepChars characters.
func lightString(s, _ string) string {
	if len(s) <= lightThreshold {
		return s
	}
	return s[:lightKeepChars] + truncationMarker
}

// mediumString keeps the first two and last two sentences of long,
// sentence-heavy strings.
func mediumString(s, _ string) string {
	if len(s) <= mediumThreshold {
		return s
	}
	sentences := strings.Split(s, ". ")
	if len(sentences) <= mediumSentences {
		return s
	}
	kept := append([]string{}, sentences[:2]...)
	kept = append(kept, ellipsisMarker)
	kept = append(kept, sentences[len(sentences)-2:]...)
	return strings.Join(kept, ". ")
}

// highString keeps the first and last paragraph of long strings.
func highString(s, _ string) string {
	if len(s) <= highThreshold {
		return s
	}
	paragraphs := strings.Split(s, "\n\n")
	if len(paragraphs) < 2 {
		return extremeString(s, "")
	}
	return paragraphs[0] + "\n\n" + compressionMarker + "\n\n" + paragraphs[len(paragraphs)-1]
}

// extremeString keeps only the first paragraph of long strings.
func extremeString(s, _ string) string {
	if len(s) <= extremeThreshold {
		return s
	}
	first := strings.Split(s, "\n\n")[0]
	if len(first) > lightKeepChars {
		first = first[:lightKeepChars]
	}
	return first + " " + compressionMarker
}

// referenceString replaces the content with a pointer embedding the
// content hash. The original stays retrievable through the hash index.
func referenceString(_, hash string) string {
	return fmt.Sprintf("[reference:%s]", hash)
}

// keepKeys returns a map holding the first n keys in sorted order. Maps that
// already fit pass through unchanged; reduced maps carry the compressed flag.
func keepKeys(m map[string]any, n int) map[string]any {
	if len(m) <= n {
		return m
	}
	keys := sortedKeys(m)
	out := make(map[string]any, n+1)
	for _, k := range keys[:n] {
		out[k] = m[k]
	}
	out[compressedFlag] = true
	return out
}

// keyNamesOnly discards every value, keeping only the sorted key names.
// The original stays recoverable through the metadata content hash.
func keyNamesOnly(m map[string]any) map[string]any {
	return map[string]any{
		compressedFlag: true,
		keyNamesField:  sortedKeys(m),
	}
}

// sortedKeys returns the map's keys in lexical order, skipping bookkeeping
// fields introduced by earlier compression passes.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == compressedFlag || k == keyNamesField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
