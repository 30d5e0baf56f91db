// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

const noNewlineMarker = `\ No newline at end of file`

// =============================================================================
// DIFF TYPES
// =============================================================================

// DiffLineType represents the type of a diff line.
type DiffLineType int

const (
	// DiffLineContext represents unchanged context lines
	DiffLineContext DiffLineType = iota
	// DiffLineAdded represents added lines
	DiffLineAdded
	// DiffLineRemoved represents removed lines
	DiffLineRemoved
)

// String returns the string representation of a diff line type.
func (t DiffLineType) String() string {
	switch t {
	case DiffLineContext:
		return "context"
	case DiffLineAdded:
		return "added"
	case DiffLineRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Prefix returns the diff prefix character for this line type.
func (t DiffLineType) Prefix() string {
	switch t {
	case DiffLineAdded:
		return "+"
	case DiffLineRemoved:
		return "-"
	default:
		return " "
	}
}

// DiffLine represents a single line in a diff.
type DiffLine struct {
	Type      DiffLineType `json:"type"`
	Content   string       `json:"content"`            // Line content without the terminator
	OldLine   int          `json:"old_line,omitempty"` // 0 if added
	NewLine   int          `json:"new_line,omitempty"` // 0 if removed
	NoNewline bool         `json:"no_newline,omitempty"`
}

// DiffHunk represents a contiguous section of changes plus context.
type DiffHunk struct {
	OldStart int        `json:"old_start"`
	OldCount int        `json:"old_count"`
	NewStart int        `json:"new_start"`
	NewCount int        `json:"new_count"`
	Lines    []DiffLine `json:"lines"`
}

// DiffStats holds statistics about a diff.
type DiffStats struct {
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	FileMode  string `json:"file_mode"` // "new", "modified", "deleted"
}

// Diff represents a complete file diff.
type Diff struct {
	FilePath string     `json:"file_path"`
	Hunks    []DiffHunk `json:"hunks,omitempty"`
	Stats    DiffStats  `json:"stats"`
}

// =============================================================================
// DIFF COMPUTATION
// =============================================================================

// ComputeDiff builds a line diff between old and new content.
// Lines are compared with their terminators, so a change to the final
// newline alone still yields a hunk.
func ComputeDiff(filePath, oldContent, newContent string) *Diff {
	d := &Diff{FilePath: filePath}

	switch {
	case oldContent == "" && newContent != "":
		d.Stats.FileMode = "new"
	case oldContent != "" && newContent == "":
		d.Stats.FileMode = "deleted"
	default:
		d.Stats.FileMode = "modified"
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	// autojunk off: on long files it hides repeated lines such as braces
	m := difflib.NewMatcherWithJunk(oldLines, newLines, false, nil)
	for _, group := range m.GetGroupedOpCodes(ContextLines) {
		hunk := buildHunk(group, oldLines, newLines)
		for _, line := range hunk.Lines {
			switch line.Type {
			case DiffLineAdded:
				d.Stats.Additions++
			case DiffLineRemoved:
				d.Stats.Deletions++
			}
		}
		d.Hunks = append(d.Hunks, hunk)
	}

	return d
}

// splitLines splits content keeping each line's "\n".
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func buildHunk(group []difflib.OpCode, oldLines, newLines []string) DiffHunk {
	first, last := group[0], group[len(group)-1]
	hunk := DiffHunk{
		OldStart: first.I1 + 1,
		OldCount: last.I2 - first.I1,
		NewStart: first.J1 + 1,
		NewCount: last.J2 - first.J1,
	}
	// Unified format points at the line before an empty range
	if hunk.OldCount == 0 {
		hunk.OldStart--
	}
	if hunk.NewCount == 0 {
		hunk.NewStart--
	}

	for _, op := range group {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				hunk.Lines = append(hunk.Lines, newDiffLine(DiffLineContext, oldLines[i], i+1, op.J1+(i-op.I1)+1))
			}
		case 'd', 'r', 'i':
			for i := op.I1; i < op.I2; i++ {
				hunk.Lines = append(hunk.Lines, newDiffLine(DiffLineRemoved, oldLines[i], i+1, 0))
			}
			for j := op.J1; j < op.J2; j++ {
				hunk.Lines = append(hunk.Lines, newDiffLine(DiffLineAdded, newLines[j], 0, j+1))
			}
		}
	}
	return hunk
}

func newDiffLine(t DiffLineType, raw string, oldLine, newLine int) DiffLine {
	content := strings.TrimSuffix(raw, "\n")
	return DiffLine{
		Type:      t,
		Content:   content,
		OldLine:   oldLine,
		NewLine:   newLine,
		NoNewline: len(content) == len(raw),
	}
}

// =============================================================================
// UNIFIED DIFF FORMAT
// =============================================================================

// FormatUnifiedDiff returns the diff in standard unified diff format.
// A diff without hunks formats as the empty string.
func FormatUnifiedDiff(d *Diff) string {
	if d == nil || len(d.Hunks) == 0 {
		return ""
	}
	var sb strings.Builder

	fmt.Fprintf(&sb, "--- a/%s\n", d.FilePath)
	fmt.Fprintf(&sb, "+++ b/%s\n", d.FilePath)

	for _, hunk := range d.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldCount,
			hunk.NewStart, hunk.NewCount)

		for _, line := range hunk.Lines {
			sb.WriteString(line.Type.Prefix())
			sb.WriteString(line.Content)
			sb.WriteString("\n")
			if line.NoNewline {
				sb.WriteString(noNewlineMarker)
				sb.WriteString("\n")
			}
		}
	}

	return sb.String()
}

// Unified is shorthand for FormatUnifiedDiff(ComputeDiff(...)).
func Unified(filePath, oldContent, newContent string) string {
	return FormatUnifiedDiff(ComputeDiff(filePath, oldContent, newContent))
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary returns a human-readable summary of the diff.
func (d *Diff) Summary() string {
	var parts []string

	switch d.Stats.FileMode {
	case "new":
		parts = append(parts, "New file")
	case "deleted":
		parts = append(parts, "File deleted")
	default:
		parts = append(parts, "Modified")
	}

	if d.Stats.Additions > 0 {
		parts = append(parts, fmt.Sprintf("+%d", d.Stats.Additions))
	}
	if d.Stats.Deletions > 0 {
		parts = append(parts, fmt.Sprintf("-%d", d.Stats.Deletions))
	}

	return strings.Join(parts, " ")
}
