// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"

	"github.com/jeranaias/rigrun-guard/internal/multiedit"
	"github.com/jeranaias/rigrun-guard/internal/risk"
)

// WriteExecutor creates or replaces whole files through the coordinator, so
// writes to one path never interleave with edits to it.
type WriteExecutor struct {
	Root        string
	Coordinator *multiedit.Coordinator
}

func (e *WriteExecutor) Validate(args Args) error {
	_, err := requireString(args, "file_path")
	return err
}

func (e *WriteExecutor) Plan(_ context.Context, args Args) ([]risk.Operation, error) {
	return []risk.Operation{risk.FileOperation{
		Kind:    risk.FileWrite,
		Path:    resolve(e.Root, args.GetString("file_path", "")),
		NewSize: int64(len(args.GetString("content", ""))),
	}}, nil
}

func (e *WriteExecutor) Execute(ctx context.Context, args Args) (Result, error) {
	path := resolve(e.Root, args.GetString("file_path", ""))
	sum, err := e.Coordinator.Write(ctx, path, []byte(args.GetString("content", "")))
	if err != nil {
		return Result{}, err
	}
	verb := "Updated"
	if sum.Created {
		verb = "Created"
	}
	out := fmt.Sprintf("%s %s (%d lines, %d bytes)\n", verb, sum.Path, sum.Lines, sum.Bytes)
	if sum.Diff != "" {
		out += sum.Diff
	}
	return Result{Output: out, Data: sum}, nil
}
