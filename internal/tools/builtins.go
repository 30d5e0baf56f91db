// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"fmt"
	"path/filepath"

	"github.com/jeranaias/rigrun-guard/internal/multiedit"
	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/sandbox"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// =============================================================================
// BUILT-IN TOOLS
// =============================================================================

// Deps are the components the built-in tools run on.
type Deps struct {
	// Root resolves relative file paths.
	Root string
	// MaxReadSize bounds files the Read tool will open. Zero uses 10MB.
	MaxReadSize int64

	Coordinator *multiedit.Coordinator
	Sandbox     *sandbox.Sandbox
}

// Builtins returns the Read, Write, Edit, MultiEdit and Bash tools.
func Builtins(d Deps) ([]*Tool, error) {
	if d.Root == "" {
		return nil, fmt.Errorf("builtins: root is required")
	}
	if d.Coordinator == nil {
		return nil, fmt.Errorf("builtins: nil coordinator")
	}
	if d.Sandbox == nil {
		return nil, fmt.Errorf("builtins: nil sandbox")
	}
	root, err := filepath.Abs(d.Root)
	if err != nil {
		return nil, fmt.Errorf("builtins: %w", err)
	}
	return []*Tool{
		newReadTool(&ReadExecutor{Root: root, MaxFileSize: d.MaxReadSize}),
		newWriteTool(&WriteExecutor{Root: root, Coordinator: d.Coordinator}),
		newEditTool(&EditExecutor{Root: root, Coordinator: d.Coordinator}),
		newMultiEditTool(&MultiEditExecutor{Root: root, Coordinator: d.Coordinator}),
		newBashTool(&BashExecutor{Sandbox: d.Sandbox}),
	}, nil
}

func newReadTool(x *ReadExecutor) *Tool {
	return &Tool{
		Name:             "Read",
		ShortDescription: "Read a file with line numbers.",
		Description: `Read the contents of a file from the local filesystem.

The file contents are returned with line numbers (cat -n style). For large files, use offset and limit to read specific sections. Directories and binary files cannot be read.`,
		Schema: Schema{Parameters: []Parameter{
			{Name: "file_path", Type: "string", Required: true, Description: "Path to the file. Relative paths are resolved from the project root."},
			{Name: "offset", Type: "integer", Description: "The line number to start reading from (1-indexed).", Default: 1, Minimum: bound(1)},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines to read.", Default: DefaultReadLines, Minimum: bound(1)},
		}},
		Capabilities: []Capability{CapFilesystemRead},
		Permission:   permission.RequireAuto,
		Executor:     x,
	}
}

func newWriteTool(x *WriteExecutor) *Tool {
	return &Tool{
		Name:             "Write",
		ShortDescription: "Create or completely replace a file.",
		Description: `Write content to a new file or completely replace an existing file.

This tool OVERWRITES the entire file. Parent directories are created automatically. The previous content is restored if the write fails.`,
		Schema: Schema{Parameters: []Parameter{
			{Name: "file_path", Type: "string", Required: true, Description: "Path to the file to write."},
			{Name: "content", Type: "string", Required: true, Description: "The complete content to write."},
		}},
		Capabilities: []Capability{CapFilesystemWrite},
		Permission:   permission.RequireAuto,
		Executor:     x,
	}
}

var editFields = []Parameter{
	{Name: "file_path", Type: "string", Required: true, Description: "Path to the file to edit. The file must exist."},
	{Name: "old_string", Type: "string", Required: true, Description: "The text to replace. Whitespace and indentation differences are tolerated when no exact match exists."},
	{Name: "new_string", Type: "string", Required: true, Description: "The replacement text. Use an empty string to delete."},
	{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence instead of requiring exactly one.", Default: false},
}

func newEditTool(x *EditExecutor) *Tool {
	return &Tool{
		Name:             "Edit",
		ShortDescription: "Replace text in a file. The match must be unique unless replace_all is set.",
		Description: `Edit a file by finding and replacing text.

Matching tries, in order: exact text, lines compared with surrounding whitespace trimmed, runs of whitespace collapsed, and indentation stripped. old_string must match exactly one place unless replace_all is set.`,
		Schema:       Schema{Parameters: editFields},
		Capabilities: []Capability{CapFilesystemWrite},
		Permission:   permission.RequireAuto,
		Executor:     x,
	}
}

func newMultiEditTool(x *MultiEditExecutor) *Tool {
	return &Tool{
		Name:             "MultiEdit",
		ShortDescription: "Apply several edits, across one or more files, all or nothing.",
		Description: `Apply an ordered list of edits. Every edit is resolved before any file is written; if any edit fails, no file is changed.

Edits to the same file apply in order, each against the result of the previous one, and must not touch text an earlier edit replaced.`,
		Schema: Schema{Parameters: []Parameter{
			{
				Name:        "edits",
				Type:        "array",
				Required:    true,
				Description: "The edits to apply, in order.",
				MinItems:    1,
				Items:       &Parameter{Type: "object", Properties: editFields},
			},
		}},
		Capabilities: []Capability{CapFilesystemWrite},
		Permission:   permission.RequireAuto,
		Executor:     x,
	}
}

func newBashTool(x *BashExecutor) *Tool {
	return &Tool{
		Name:             "Bash",
		ShortDescription: "Run a shell command inside the project root.",
		Description: `Execute a shell command confined to the project root.

Destructive commands are refused outright. Arguments naming paths outside the root are rejected. Output is capped per stream and the command is killed when its timeout expires. A non-zero exit status is reported, not treated as a failure.`,
		Schema: Schema{Parameters: []Parameter{
			{Name: "command", Type: "string", Required: true, Description: "The shell command to execute."},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds (default: 120, max: 600).", Minimum: bound(0), Maximum: bound(sandbox.MaxTimeout.Seconds())},
			{Name: "work_dir", Type: "string", Description: "Working directory, relative to the project root."},
			{Name: "description", Type: "string", Description: "Brief description of what this command does."},
		}},
		Capabilities: []Capability{CapProcessExecution},
		Permission:   permission.RequireAuto,
		Executor:     x,
	}
}

// resolve makes p absolute against root.
func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func requireString(args Args, name string) (string, error) {
	s := args.GetString(name, "")
	if s == "" {
		return "", toolerr.Newf(toolerr.InvalidParameters, "%s is required", name)
	}
	return s, nil
}
