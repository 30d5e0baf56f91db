// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package replace

import (
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-guard/internal/diff"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
	"github.com/jeranaias/rigrun-guard/internal/util"
)

// =============================================================================
// STRATEGIES
// =============================================================================

// Strategy names a matching strategy.
type Strategy string

const (
	Exact                Strategy = "exact"
	LineTrimmed          Strategy = "line-trimmed"
	WhitespaceNormalized Strategy = "whitespace-normalized"
	IndentationFlexible  Strategy = "indentation-flexible"
)

// Span is a half-open byte range [Start, End) of the content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// finder returns every non-overlapping match of old in content, in order.
type finder func(content, old string) []Span

type attempt struct {
	strategy Strategy
	find     finder
}

// attempts is the fixed priority order. The first strategy that yields at
// least one span decides the outcome.
var attempts = []attempt{
	{Exact, findExact},
	{LineTrimmed, findLineTrimmed},
	{WhitespaceNormalized, findWhitespaceNormalized},
	{IndentationFlexible, findIndentationFlexible},
}

// Strategies lists the strategies in the order they are tried.
func Strategies() []Strategy {
	out := make([]Strategy, len(attempts))
	for i, a := range attempts {
		out[i] = a.strategy
	}
	return out
}

// =============================================================================
// REPLACE
// =============================================================================

// Result describes a successful replacement.
type Result struct {
	Content  string   `json:"-"`
	Strategy Strategy `json:"strategy"`
	Count    int      `json:"replacements"`
	Spans    []Span   `json:"spans"`
	// Lines holds the 1-based starting line of each replaced span.
	Lines []int `json:"lines"`
}

// Diff computes the change against original.
func (r Result) Diff(path, original string) *diff.Diff {
	return diff.ComputeDiff(path, original, r.Content)
}

// Replace substitutes newText for oldText in content. Without replaceAll the
// match must be unique. Errors are NoMatchFound, AmbiguousMatch or
// InvalidParameters.
func Replace(content, oldText, newText string, replaceAll bool) (Result, error) {
	if oldText == "" {
		return Result{}, toolerr.New(toolerr.InvalidParameters, "old text must not be empty")
	}
	if oldText == newText {
		return Result{}, toolerr.New(toolerr.InvalidParameters, "old and new text are identical")
	}

	tried := make([]string, 0, len(attempts))
	for _, a := range attempts {
		tried = append(tried, string(a.strategy))
		spans := a.find(content, oldText)
		if len(spans) == 0 {
			continue
		}

		lines := make([]int, len(spans))
		for i, s := range spans {
			lines[i] = util.LineAt(content, s.Start)
		}
		if len(spans) > 1 && !replaceAll {
			return Result{}, toolerr.Newf(toolerr.AmbiguousMatch,
				"old text matches %d locations (lines %s); add surrounding context or set replace_all",
				len(spans), joinInts(lines)).
				With("lines", lines).
				With("strategy", string(a.strategy))
		}
		return Result{
			Content:  apply(content, spans, newText),
			Strategy: a.strategy,
			Count:    len(spans),
			Spans:    spans,
			Lines:    lines,
		}, nil
	}

	return Result{}, toolerr.Newf(toolerr.NoMatchFound,
		"old text not found (tried %s)", strings.Join(tried, ", ")).
		With("strategies", tried)
}

func apply(content string, spans []Span, newText string) string {
	var b strings.Builder
	b.Grow(len(content) + len(spans)*len(newText))
	prev := 0
	for _, s := range spans {
		b.WriteString(content[prev:s.Start])
		b.WriteString(newText)
		prev = s.End
	}
	b.WriteString(content[prev:])
	return b.String()
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
