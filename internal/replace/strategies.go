// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package replace

import (
	"regexp"
	"strings"
)

// =============================================================================
// EXACT
// =============================================================================

func findExact(content, old string) []Span {
	var spans []Span
	for off := 0; off <= len(content); {
		i := strings.Index(content[off:], old)
		if i < 0 {
			break
		}
		start := off + i
		spans = append(spans, Span{Start: start, End: start + len(old)})
		off = start + len(old)
	}
	return spans
}

// =============================================================================
// LINE WINDOWS
// =============================================================================

type line struct {
	start int // offset of the first byte
	end   int // offset of the terminating '\n', or len(content)
	text  string
	nl    bool
}

// splitLines breaks content into lines. A final newline does not start an
// extra empty line.
func splitLines(content string) []line {
	var out []line
	start := 0
	for start < len(content) {
		i := strings.IndexByte(content[start:], '\n')
		if i < 0 {
			out = append(out, line{start: start, end: len(content), text: content[start:]})
			break
		}
		end := start + i
		out = append(out, line{start: start, end: end, text: content[start:end], nl: true})
		start = end + 1
	}
	return out
}

// needleLines splits old into lines and reports whether it ended with a
// newline, in which case matched spans swallow the window's last newline.
func needleLines(old string) ([]string, bool) {
	trailing := strings.HasSuffix(old, "\n")
	old = strings.TrimSuffix(old, "\n")
	return strings.Split(old, "\n"), trailing
}

// findWindows slides a window of len(needle) lines over content and collects
// the windows eq accepts. Matched windows do not overlap.
func findWindows(content string, needle []string, trailing bool, eq func(window []string) bool) []Span {
	lines := splitLines(content)
	n := len(needle)
	if n == 0 || n > len(lines) {
		return nil
	}

	window := make([]string, n)
	var spans []Span
	for i := 0; i+n <= len(lines); {
		for j := 0; j < n; j++ {
			window[j] = strings.TrimSuffix(lines[i+j].text, "\r")
		}
		if !eq(window) {
			i++
			continue
		}
		last := lines[i+n-1]
		end := last.end
		if trailing && last.nl {
			end++
		}
		spans = append(spans, Span{Start: lines[i].start, End: end})
		i += n
	}
	return spans
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// LINE-TRIMMED
// =============================================================================

func findLineTrimmed(content, old string) []Span {
	needle, trailing := needleLines(old)
	if allBlank(needle) {
		return nil
	}
	trimmed := make([]string, len(needle))
	for i, l := range needle {
		trimmed[i] = strings.TrimSpace(l)
	}
	return findWindows(content, needle, trailing, func(window []string) bool {
		for i, l := range window {
			if strings.TrimSpace(l) != trimmed[i] {
				return false
			}
		}
		return true
	})
}

// =============================================================================
// WHITESPACE-NORMALIZED
// =============================================================================

// findWhitespaceNormalized matches old with every run of whitespace, line
// breaks included, treated as equivalent to any other non-empty run.
func findWhitespaceNormalized(content, old string) []Span {
	fields := strings.Fields(old)
	if len(fields) == 0 {
		return nil
	}
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(strings.Join(fields, `\s+`))
	if err != nil {
		return nil
	}
	locs := re.FindAllStringIndex(content, -1)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
	}
	return spans
}

// =============================================================================
// INDENTATION-FLEXIBLE
// =============================================================================

func findIndentationFlexible(content, old string) []Span {
	needle, trailing := needleLines(old)
	if allBlank(needle) {
		return nil
	}
	for i := range needle {
		needle[i] = strings.TrimSuffix(needle[i], "\r")
	}
	want := stripIndent(needle, commonIndent(needle))
	got := make([]string, len(needle))
	return findWindows(content, needle, trailing, func(window []string) bool {
		copy(got, window)
		got = stripIndent(got, commonIndent(got))
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	})
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// commonIndent is the longest leading-whitespace prefix shared by every
// non-blank line.
func commonIndent(lines []string) string {
	indent, first := "", true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		ws := leadingWhitespace(l)
		if first {
			indent, first = ws, false
			continue
		}
		n := 0
		for n < len(indent) && n < len(ws) && indent[n] == ws[n] {
			n++
		}
		indent = indent[:n]
	}
	return indent
}

// stripIndent removes indent in place. Blank lines become empty.
func stripIndent(lines []string, indent string) []string {
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimPrefix(l, indent)
	}
	return lines
}
