// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/sandbox"
)

// =============================================================================
// BASH EXECUTOR
// =============================================================================

// BashExecutor runs shell commands in the sandbox.
type BashExecutor struct {
	Sandbox *sandbox.Sandbox
}

// Validate runs the sandbox gate: the deny list, length limits and root
// confinement. It runs before the command is classified.
func (e *BashExecutor) Validate(args Args) error {
	_, err := e.Sandbox.Check(args.GetString("command", ""), args.GetString("work_dir", ""))
	return err
}

func (e *BashExecutor) Plan(_ context.Context, args Args) ([]risk.Operation, error) {
	checked, err := e.Sandbox.Check(args.GetString("command", ""), args.GetString("work_dir", ""))
	if err != nil {
		return nil, err
	}
	return []risk.Operation{risk.CommandOperation{Command: checked.Command, WorkDir: checked.WorkDir}}, nil
}

func (e *BashExecutor) Execute(ctx context.Context, args Args) (Result, error) {
	spec := sandbox.Spec{
		Command: args.GetString("command", ""),
		WorkDir: args.GetString("work_dir", ""),
		Timeout: time.Duration(args.GetFloat("timeout", 0) * float64(time.Second)),
	}
	res, err := e.Sandbox.Run(ctx, spec)
	out := Result{
		Output:    formatExecution(res),
		Data:      res,
		Truncated: res.StdoutTruncated || res.StderrTruncated,
	}
	return out, err
}

// formatExecution renders stdout, then stderr, then a note on any timeout or
// non-zero exit.
func formatExecution(res sandbox.CommandExecution) string {
	var b strings.Builder
	b.WriteString(res.Stdout)
	if res.StdoutTruncated {
		fmt.Fprintf(&b, "\n[stdout truncated: %d of %d bytes shown]\n", len(res.Stdout), res.StdoutBytes)
	}
	if res.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(res.Stderr)
		if res.StderrTruncated {
			fmt.Fprintf(&b, "\n[stderr truncated: %d of %d bytes shown]\n", len(res.Stderr), res.StderrBytes)
		}
	}
	if res.TimedOut {
		fmt.Fprintf(&b, "\n[timed out after %s]\n", formatDuration(res.Duration))
	} else if res.ExitCode != 0 {
		fmt.Fprintf(&b, "\n[exit code %d]\n", res.ExitCode)
	}
	return b.String()
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
