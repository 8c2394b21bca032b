package permission

import "github.com/agnivade/levenshtein"

// DoomLoopThreshold is the number of matching calls before a doom loop is
// flagged.
const DoomLoopThreshold = 3

// DoomLoopSimilarity is the normalized Levenshtein similarity above which two
// tool calls' arguments count as the same call for doom-loop purposes —
// catches near-identical repeats (a retried bash command with a changed
// timestamp, a path with a trailing slash added) that byte-exact comparison
// misses.
const DoomLoopSimilarity = 0.92

// DoomLoopDetector compares tool calls for exact or near-identical
// repetition. It holds no history itself; counting repeated calls against a
// session's message tree is the caller's job (see runtime.checkDoomLoop).
type DoomLoopDetector struct{}

// NewDoomLoopDetector constructs a DoomLoopDetector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{}
}

// Same reports whether two tool calls are the same call for doom-loop
// purposes: identical tool name, and arguments that are byte-identical or at
// least DoomLoopSimilarity similar.
func (d *DoomLoopDetector) Same(toolA, argsA, toolB, argsB string) bool {
	if toolA != toolB {
		return false
	}
	if argsA == argsB {
		return true
	}
	return similarity(argsA, argsB) >= DoomLoopSimilarity
}

// similarity calculates normalized Levenshtein similarity between two
// strings: 0 for nothing in common, 1 for identical.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// For very long strings, fall back to a length-ratio approximation to
	// avoid the cost of computing full edit distance.
	if len(a) > 10000 || len(b) > 10000 {
		return float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
