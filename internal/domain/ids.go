package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// StableID derives a deterministic 24-hex-char identifier from its parts.
// The same parts always produce the same id, so re-derivation across ticks
// addresses the same record.
func StableID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:24]
}

// ContentHash hashes a set of identity lines independent of input order.
func ContentHash(lines []string) string {
	sorted := make([]string, len(lines))
	copy(sorted, lines)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// JaccardDelta returns 1 - |a∩b| / |a∪b| over two entity sets.
// Empty-vs-empty is a delta of 0 (nothing changed).
func JaccardDelta(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	var both int
	for _, m := range set {
		if m == 3 {
			both++
		}
	}
	return 1 - float64(both)/float64(len(set))
}
