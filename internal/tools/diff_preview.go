package tools

import (
	"fmt"
	"strings"

	"agentledger/internal/ledger"
)

// writePreviewLimits bound the diff returned by fs_write.
var writePreviewLimits = DiffLimits{MaxLines: 80, MaxBytes: 8000}

// writePreview renders the compact ledger diff of a write, capped by limits.
func writePreview(rel string, before, after []byte, limits DiffLimits) (diff string, truncated bool, additions, deletions int) {
	diff, additions, deletions = ledger.CompactDiff(rel, before, after)
	diff, truncated = truncateDiff(diff, limits)
	return diff, truncated, additions, deletions
}

// truncateDiff keeps whole lines of diff while both limits hold; a
// non-positive limit is ignored. Dropped lines are counted in a trailing
// marker line.
func truncateDiff(diff string, limits DiffLimits) (string, bool) {
	if strings.TrimSpace(diff) == "" {
		return "", false
	}

	lines := strings.Split(diff, "\n")
	kept, size := 0, 0
	for kept < len(lines) {
		next := size + len(lines[kept])
		if kept > 0 {
			next++
		}
		if limits.MaxLines > 0 && kept+1 > limits.MaxLines {
			break
		}
		if limits.MaxBytes > 0 && next > limits.MaxBytes {
			break
		}
		size = next
		kept++
	}
	if kept == len(lines) {
		return diff, false
	}
	out := strings.Join(lines[:kept], "\n")
	marker := fmt.Sprintf("... (diff truncated, %d more lines)", len(lines)-kept)
	if out == "" {
		return marker, true
	}
	return out + "\n" + marker, true
}
