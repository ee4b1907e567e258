package tool

import (
	"strings"
	"testing"
)

func TestUnifiedDiff(t *testing.T) {
	before := "alpha\nbeta\ngamma\n"
	after := "alpha\ndelta\ngamma\nepsilon\n"

	diff, additions, deletions := unifiedDiff("/tmp/f.txt", before, after)

	if !strings.HasPrefix(diff, "--- /tmp/f.txt\n+++ /tmp/f.txt\n") {
		t.Errorf("Diff should start with a file header, got: %s", diff)
	}
	if additions != 2 {
		t.Errorf("additions = %d, want 2", additions)
	}
	if deletions != 1 {
		t.Errorf("deletions = %d, want 1", deletions)
	}
}

func TestUnifiedDiffIdenticalContent(t *testing.T) {
	diff, additions, deletions := unifiedDiff("f.txt", "same\n", "same\n")
	if diff != "" || additions != 0 || deletions != 0 {
		t.Errorf("identical content should produce an empty diff, got %q (+%d -%d)", diff, additions, deletions)
	}
}

func TestCountLines(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"one\ntwo\n", 2},
	}
	for _, c := range cases {
		if got := countLines(c.text); got != c.want {
			t.Errorf("countLines(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}
