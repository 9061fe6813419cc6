package diffscreen

import "testing"

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestScenarioD_LineEditDiff matches spec Scenario D exactly.
func TestScenarioD_LineEditDiff(t *testing.T) {
	old := "a\nb\nc\n"
	new := "a\nX\nc\nY\n"

	added, deleted := Lines(old, new)
	if !intsEqual(added, []int{2, 4}) {
		t.Errorf("added = %v, want [2 4]", added)
	}
	if !intsEqual(deleted, []int{1}) {
		t.Errorf("deleted = %v, want [1]", deleted)
	}
}

// TestDiffIdempotenceOnNoOp is property 8: diffing a string against
// itself always reports no changes.
func TestDiffIdempotenceOnNoOp(t *testing.T) {
	cases := []string{
		"a\nb\nc\n",
		"",
		"single line, no trailing newline",
		"a\nb\nc\nd\ne\n",
	}

	for _, s := range cases {
		added, deleted := Lines(s, s)
		if len(added) != 0 {
			t.Errorf("Lines(%q, %q) added = %v, want empty", s, s, added)
		}
		if len(deleted) != 0 {
			t.Errorf("Lines(%q, %q) deleted = %v, want empty", s, s, deleted)
		}
	}
}

// TestDiffFromEmpty is property 9: diffing from an empty old string
// reports every line of new as added and nothing deleted.
func TestDiffFromEmpty(t *testing.T) {
	tests := []struct {
		name string
		new  string
		want []int
	}{
		{name: "three lines", new: "a\nb\nc\n", want: []int{1, 2, 3}},
		{name: "no trailing newline", new: "a\nb", want: []int{1, 2}},
		{name: "single line", new: "only line\n", want: []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, deleted := Lines("", tt.new)
			if !intsEqual(added, tt.want) {
				t.Errorf("added = %v, want %v", added, tt.want)
			}
			if len(deleted) != 0 {
				t.Errorf("deleted = %v, want empty", deleted)
			}
		})
	}
}

func TestDiffBothEmpty(t *testing.T) {
	added, deleted := Lines("", "")
	if len(added) != 0 || len(deleted) != 0 {
		t.Errorf("Lines(\"\", \"\") = (%v, %v), want (empty, empty)", added, deleted)
	}
}

// TestDiffPureDeletion covers a shrink with no insertions: the deleted
// run collapses to the line in new right before the gap.
func TestDiffPureDeletion(t *testing.T) {
	old := "a\nb\nc\nd\n"
	new := "a\nd\n"

	added, deleted := Lines(old, new)
	if len(added) != 0 {
		t.Errorf("added = %v, want empty", added)
	}
	if !intsEqual(deleted, []int{1}) {
		t.Errorf("deleted = %v, want [1]", deleted)
	}
}
