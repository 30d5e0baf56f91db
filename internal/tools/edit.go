// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-guard/internal/multiedit"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// =============================================================================
// EDIT EXECUTOR
// =============================================================================

// EditExecutor applies a single search-and-replace.
type EditExecutor struct {
	Root        string
	Coordinator *multiedit.Coordinator
}

func (e *EditExecutor) request(args Args) multiedit.Request {
	return multiedit.Request{Operations: []multiedit.Operation{editOperation(e.Root, args)}}
}

func (e *EditExecutor) Validate(args Args) error {
	return validateEdit(args, -1)
}

// Plan resolves the edit against the file as it is now. Match failures
// surface here, before any permission is asked.
func (e *EditExecutor) Plan(ctx context.Context, args Args) ([]risk.Operation, error) {
	_, sizes, err := e.Coordinator.Preview(ctx, e.request(args))
	if err != nil {
		return nil, err
	}
	return editOperations(sizes), nil
}

func (e *EditExecutor) Execute(ctx context.Context, args Args) (Result, error) {
	sum, err := e.Coordinator.Apply(ctx, e.request(args))
	if err != nil {
		return Result{}, err
	}
	return Result{Output: formatSummary(sum), Data: sum}, nil
}

// =============================================================================
// MULTI-EDIT EXECUTOR
// =============================================================================

// MultiEditExecutor applies an ordered batch of edits all or nothing.
type MultiEditExecutor struct {
	Root        string
	Coordinator *multiedit.Coordinator
}

func (e *MultiEditExecutor) request(args Args) multiedit.Request {
	raw, _ := args["edits"].([]any)
	req := multiedit.Request{Operations: make([]multiedit.Operation, 0, len(raw))}
	for _, item := range raw {
		m, _ := item.(map[string]any)
		req.Operations = append(req.Operations, editOperation(e.Root, Args(m)))
	}
	return req
}

func (e *MultiEditExecutor) Validate(args Args) error {
	raw, ok := args["edits"].([]any)
	if !ok || len(raw) == 0 {
		return toolerr.New(toolerr.InvalidParameters, "edits must contain at least one operation")
	}
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return toolerr.Newf(toolerr.InvalidParameters, "edit %d is not an object", i).With("index", i)
		}
		if err := validateEdit(Args(m), i); err != nil {
			return err
		}
	}
	return nil
}

func (e *MultiEditExecutor) Plan(ctx context.Context, args Args) ([]risk.Operation, error) {
	_, sizes, err := e.Coordinator.Preview(ctx, e.request(args))
	if err != nil {
		return nil, err
	}
	return editOperations(sizes), nil
}

func (e *MultiEditExecutor) Execute(ctx context.Context, args Args) (Result, error) {
	sum, err := e.Coordinator.Apply(ctx, e.request(args))
	if err != nil {
		return Result{}, err
	}
	return Result{Output: formatSummary(sum), Data: sum}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func editOperation(root string, args Args) multiedit.Operation {
	return multiedit.Operation{
		Path:       resolve(root, args.GetString("file_path", "")),
		OldText:    args.GetString("old_string", ""),
		NewText:    args.GetString("new_string", ""),
		ReplaceAll: args.GetBool("replace_all", false),
	}
}

// validateEdit checks one edit's arguments. index is -1 for a single edit.
func validateEdit(args Args, index int) error {
	var err *toolerr.Error
	switch {
	case args.GetString("file_path", "") == "":
		err = toolerr.New(toolerr.InvalidParameters, "file_path is required")
	case args.GetString("old_string", "") == "":
		err = toolerr.New(toolerr.InvalidParameters, "old_string must not be empty")
	case args.GetString("old_string", "") == args.GetString("new_string", ""):
		err = toolerr.New(toolerr.InvalidParameters, "old_string and new_string are identical")
	default:
		return nil
	}
	if index >= 0 {
		err.Message = fmt.Sprintf("edit %d: %s", index, err.Message)
		err = err.With("index", index)
	}
	return err
}

// editOperations turns planned sizes into file operations in path order.
func editOperations(sizes map[string]int64) []risk.Operation {
	paths := make([]string, 0, len(sizes))
	for p := range sizes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	ops := make([]risk.Operation, len(paths))
	for i, p := range paths {
		ops[i] = risk.FileOperation{Kind: risk.FileEdit, Path: p, NewSize: sizes[p]}
	}
	return ops
}

func formatSummary(sum multiedit.Summary) string {
	var b strings.Builder
	for _, op := range sum.Operations {
		noun := "replacements"
		if op.Replacements == 1 {
			noun = "replacement"
		}
		fmt.Fprintf(&b, "Edited %s: %d %s (%s), %s\n", op.Path, op.Replacements, noun, op.Strategy, op.Change)
		b.WriteString(op.Diff)
	}
	return b.String()
}
