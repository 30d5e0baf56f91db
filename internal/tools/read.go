// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

const (
	// DefaultReadLines is the default number of lines returned.
	DefaultReadLines = 2000
	// DefaultMaxLineLength truncates longer lines.
	DefaultMaxLineLength = 2000
	// DefaultMaxReadSize is the largest file Read will open.
	DefaultMaxReadSize int64 = 10 * 1024 * 1024

	binarySniffSize = 8000
)

// =============================================================================
// READ EXECUTOR
// =============================================================================

// ReadExecutor reads files with line numbers.
type ReadExecutor struct {
	Root string

	// MaxFileSize is the maximum file size to read (default: 10MB)
	MaxFileSize int64
}

// ReadSummary is the structured result of a read.
type ReadSummary struct {
	Path      string `json:"file_path"`
	FirstLine int    `json:"first_line"`
	Lines     int    `json:"lines"`
	Bytes     int64  `json:"bytes"`
}

func (e *ReadExecutor) Validate(args Args) error {
	_, err := requireString(args, "file_path")
	return err
}

func (e *ReadExecutor) Plan(_ context.Context, args Args) ([]risk.Operation, error) {
	return []risk.Operation{risk.FileOperation{
		Kind: risk.FileRead,
		Path: resolve(e.Root, args.GetString("file_path", "")),
	}}, nil
}

// Execute reads the file and returns its contents, cat -n style.
func (e *ReadExecutor) Execute(ctx context.Context, args Args) (Result, error) {
	maxSize := e.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxReadSize
	}
	path := resolve(e.Root, args.GetString("file_path", ""))
	offset := args.GetInt("offset", 1)
	limit := args.GetInt("limit", DefaultReadLines)

	file, err := os.Open(path)
	if err != nil {
		return Result{}, pathError(err, path)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{}, pathError(err, path)
	}
	if info.IsDir() {
		te := toolerr.New(toolerr.InvalidParameters, "cannot read a directory")
		te.Path = path
		return Result{}, te
	}
	if info.Size() > maxSize {
		te := toolerr.Newf(toolerr.ContentTooLarge, "file is %d bytes (limit %d); use offset and limit", info.Size(), maxSize)
		te.Path = path
		return Result{}, te.With("size", info.Size()).With("limit", maxSize)
	}

	head := make([]byte, binarySniffSize)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, pathError(err, path)
	}
	if bytes.IndexByte(head[:n], 0) >= 0 {
		te := toolerr.New(toolerr.InvalidParameters, "cannot read a binary file")
		te.Path = path
		return Result{}, te
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return Result{}, pathError(err, path)
	}

	var b strings.Builder
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum, linesRead := 0, 0
	truncated := false
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			truncated = true
			break
		}
		line := scanner.Text()
		if len(line) > DefaultMaxLineLength {
			line = line[:DefaultMaxLineLength] + "..."
			truncated = true
		}
		fmt.Fprintf(&b, "%6d\t%s\n", lineNum, line)
		linesRead++

		if linesRead%100 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, toolerr.Wrap(toolerr.Aborted, err, "read cancelled")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, pathError(err, path)
	}

	return Result{
		Output:    b.String(),
		Truncated: truncated,
		Data:      ReadSummary{Path: path, FirstLine: offset, Lines: linesRead, Bytes: info.Size()},
	}, nil
}

// pathError maps a filesystem error on path to a tool error.
func pathError(err error, path string) error {
	var te *toolerr.Error
	if errors.Is(err, fs.ErrNotExist) {
		te = toolerr.New(toolerr.ExecutionFailed, "file not found")
	} else {
		te = toolerr.Wrap(toolerr.ExecutionFailed, err, "cannot read file")
	}
	te.Path = path
	return te
}
