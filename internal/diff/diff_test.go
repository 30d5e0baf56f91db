// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"strings"
	"testing"
)

func TestComputeDiff_NewFile(t *testing.T) {
	d := ComputeDiff("test.txt", "", "line1\nline2\nline3\n")

	if d.Stats.FileMode != "new" {
		t.Errorf("Expected FileMode 'new', got '%s'", d.Stats.FileMode)
	}
	if d.Stats.Additions != 3 {
		t.Errorf("Expected 3 additions, got %d", d.Stats.Additions)
	}
	if d.Stats.Deletions != 0 {
		t.Errorf("Expected 0 deletions, got %d", d.Stats.Deletions)
	}
	if len(d.Hunks) != 1 || d.Hunks[0].OldStart != 0 || d.Hunks[0].OldCount != 0 {
		t.Errorf("Expected one hunk starting at -0,0, got %+v", d.Hunks)
	}
}

func TestComputeDiff_DeletedFile(t *testing.T) {
	d := ComputeDiff("test.txt", "line1\nline2\nline3\n", "")

	if d.Stats.FileMode != "deleted" {
		t.Errorf("Expected FileMode 'deleted', got '%s'", d.Stats.FileMode)
	}
	if d.Stats.Deletions != 3 {
		t.Errorf("Expected 3 deletions, got %d", d.Stats.Deletions)
	}
}

func TestComputeDiff_Modified(t *testing.T) {
	d := ComputeDiff("test.txt", "line1\nline2\nline3\n", "line1\nmodified\nline3\nline4\n")

	if d.Stats.FileMode != "modified" {
		t.Errorf("Expected FileMode 'modified', got '%s'", d.Stats.FileMode)
	}
	if d.Stats.Additions != 2 {
		t.Errorf("Expected 2 additions, got %d", d.Stats.Additions)
	}
	if d.Stats.Deletions != 1 {
		t.Errorf("Expected 1 deletion, got %d", d.Stats.Deletions)
	}
}

func TestComputeDiff_NoChanges(t *testing.T) {
	content := "line1\nline2\nline3\n"
	d := ComputeDiff("test.txt", content, content)

	if len(d.Hunks) != 0 {
		t.Errorf("Expected no hunks, got %d", len(d.Hunks))
	}
	if got := FormatUnifiedDiff(d); got != "" {
		t.Errorf("Expected empty unified diff, got %q", got)
	}
}

func TestComputeDiff_TrailingNewlineOnly(t *testing.T) {
	d := ComputeDiff("test.txt", "a\nb", "a\nb\n")

	if d.Stats.Additions != 1 || d.Stats.Deletions != 1 {
		t.Fatalf("Expected +1 -1, got +%d -%d", d.Stats.Additions, d.Stats.Deletions)
	}
	out := FormatUnifiedDiff(d)
	if !strings.Contains(out, "-b\n"+noNewlineMarker+"\n+b\n") {
		t.Errorf("Expected no-newline marker after removed line, got:\n%s", out)
	}
}

func TestComputeDiff_SeparateHunks(t *testing.T) {
	var oldB, newB strings.Builder
	for i := 0; i < 30; i++ {
		line := "line" + string(rune('a'+i%26)) + "\n"
		oldB.WriteString(line)
		if i == 2 || i == 25 {
			newB.WriteString("changed\n")
			continue
		}
		newB.WriteString(line)
	}

	d := ComputeDiff("big.txt", oldB.String(), newB.String())
	if len(d.Hunks) != 2 {
		t.Fatalf("Expected 2 hunks, got %d", len(d.Hunks))
	}
	if d.Hunks[0].OldStart != 1 || d.Hunks[0].OldCount != 6 {
		t.Errorf("First hunk = -%d,%d, want -1,6", d.Hunks[0].OldStart, d.Hunks[0].OldCount)
	}
}

func TestDiffLineType_Prefix(t *testing.T) {
	tests := []struct {
		lineType DiffLineType
		expected string
	}{
		{DiffLineContext, " "},
		{DiffLineAdded, "+"},
		{DiffLineRemoved, "-"},
	}

	for _, tt := range tests {
		if result := tt.lineType.Prefix(); result != tt.expected {
			t.Errorf("Expected '%s', got '%s'", tt.expected, result)
		}
	}
}

func TestFormatUnifiedDiff(t *testing.T) {
	out := Unified("main.go", "a\nb\nc\n", "a\nB\nc\n")

	want := "--- a/main.go\n+++ b/main.go\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	if out != want {
		t.Errorf("Unified diff mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestDiffSummary(t *testing.T) {
	d := ComputeDiff("f", "x\n", "x\ny\nz\n")
	if got := d.Summary(); got != "Modified +2" {
		t.Errorf("Summary() = %q, want %q", got, "Modified +2")
	}
}
