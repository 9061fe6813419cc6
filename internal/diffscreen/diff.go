// Package diffscreen implements the snapshot diff algorithm of spec
// §4.5, used by the SseFileEdited reconciliation path to highlight
// per-edit changes instead of cumulative diffs.
package diffscreen

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Lines computes a line-level diff between old and new file contents,
// returning 1-indexed line numbers in new that were added or deleted,
// per the walk described in spec §4.5:
//
//	Equal:  y += 1
//	Insert: y += 1; append y to added
//	Delete: append max(y, 1) to deleted (don't advance y)
//
// then deduplicates consecutive identical values in deleted.
func Lines(old, new string) (added, deleted []int) {
	if old == "" && new != "" {
		n := strings.Count(new, "\n")
		if !strings.HasSuffix(new, "\n") && new != "" {
			n++
		}
		added = make([]int, n)
		for i := range added {
			added[i] = i + 1
		}
		return added, nil
	}

	oldLines := splitLines(old)
	newLines := splitLines(new)

	sm := difflib.NewMatcher(oldLines, newLines)
	y := 0
	for _, op := range sm.GetOpCodes() {
		switch op.Tag {
		case 'e': // Equal
			y += op.J2 - op.J1
		case 'r': // Replace: a delete at the pre-advance cursor, then inserts
			deleted = append(deleted, max(y, 1))
			for i := 0; i < op.J2-op.J1; i++ {
				y++
				added = append(added, y)
			}
		case 'i': // Insert
			for i := 0; i < op.J2-op.J1; i++ {
				y++
				added = append(added, y)
			}
		case 'd': // Delete
			deleted = append(deleted, max(y, 1))
		}
	}

	return added, dedupConsecutive(deleted)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func dedupConsecutive(xs []int) []int {
	if len(xs) == 0 {
		return xs
	}
	out := xs[:1]
	for _, v := range xs[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
