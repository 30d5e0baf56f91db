// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package multiedit

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-guard/internal/diff"
	"github.com/jeranaias/rigrun-guard/internal/logging"
	"github.com/jeranaias/rigrun-guard/internal/replace"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
	"github.com/jeranaias/rigrun-guard/internal/util"
)

// DefaultMaxFileSize is the default limit for files produced. It matches the
// risk classifier's ceiling so nothing it would allow is refused here.
const DefaultMaxFileSize = risk.DefaultMaxFileSize

// =============================================================================
// REQUEST AND SUMMARY
// =============================================================================

// Operation is one search-and-replace against one file.
type Operation struct {
	Path       string `json:"file_path"`
	OldText    string `json:"old_string"`
	NewText    string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// Request is an ordered batch of operations, possibly spanning files.
type Request struct {
	Operations []Operation `json:"edits"`
}

// OpSummary reports how one operation was applied.
type OpSummary struct {
	Index        int              `json:"index"`
	Path         string           `json:"file_path"`
	Strategy     replace.Strategy `json:"strategy"`
	Replacements int              `json:"replacements"`
	Change       string           `json:"change"`
	Diff         string           `json:"diff"`
}

// Summary is returned when the whole batch committed.
type Summary struct {
	Operations []OpSummary `json:"operations"`
	Files      []string    `json:"files"`
}

// WriteSummary is returned by Write.
type WriteSummary struct {
	Path    string `json:"file_path"`
	Created bool   `json:"created"`
	Bytes   int    `json:"bytes"`
	Lines   int    `json:"lines"`
	Diff    string `json:"diff"`
}

// BackupRecord is the pre-batch state of one file.
type BackupRecord struct {
	Path    string
	Content []byte
	Mode    fs.FileMode
	ModTime time.Time
	Exists  bool
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator applies edit batches all-or-nothing and serialises writers per
// file path.
type Coordinator struct {
	locks       *pathLocks
	maxFileSize int64
	logger      *zap.Logger

	writeFile   func(path string, data []byte, perm fs.FileMode) error
	restoreFile func(path string, data []byte, perm fs.FileMode, modTime time.Time) error
}

// NewCoordinator creates a coordinator. A non-positive maxFileSize uses
// DefaultMaxFileSize.
func NewCoordinator(maxFileSize int64, logger *zap.Logger) *Coordinator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Coordinator{
		locks:       newPathLocks(),
		maxFileSize: maxFileSize,
		logger:      logging.OrNop(logger),
		writeFile:   util.AtomicWriteFile,
		restoreFile: util.RestoreFile,
	}
}

// opError annotates err with the failing operation's position and file.
func opError(err error, index int, path string) error {
	te := toolerr.Wrap(toolerr.ExecutionFailed, err, "edit failed")
	if te.Path == "" {
		te.Path = path
	}
	return te.With("index", index)
}

// Apply runs the batch. Either every operation is applied or no file differs
// from its state before the call.
func (c *Coordinator) Apply(ctx context.Context, req Request) (Summary, error) {
	ops, paths, err := normalize(req)
	if err != nil {
		return Summary{}, err
	}

	unlock, err := c.locks.lockAll(ctx, paths)
	if err != nil {
		return Summary{}, toolerr.Wrap(toolerr.Aborted, err, "cancelled waiting for file locks")
	}
	defer unlock()

	// the arena lives for this call only and is dropped on every path out
	arena, err := c.load(ops, paths)
	defer clear(arena)
	if err != nil {
		return Summary{}, err
	}

	plan, summary, err := c.simulate(ctx, ops, arena)
	if err != nil {
		return Summary{}, err
	}

	var written []*BackupRecord
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			c.rollback(written)
			return Summary{}, toolerr.Wrap(toolerr.Aborted, err, "edit batch cancelled; changes rolled back")
		}
		b := arena[p]
		content, changed := plan[p]
		if !changed {
			continue
		}
		if err := c.writeFile(p, []byte(content), b.Mode.Perm()); err != nil {
			c.rollback(written)
			return Summary{}, opError(toolerr.Wrap(toolerr.ExecutionFailed, err, "write failed; changes rolled back"), firstIndex(ops, p), p)
		}
		written = append(written, b)
	}

	summary.Files = paths
	c.logger.Debug("edit batch committed", zap.Int("operations", len(ops)), zap.Int("files", len(written)))
	return summary, nil
}

// Preview resolves the batch against the files as they are now without
// writing or locking anything. Sizes holds the resulting size of every
// target file. Apply repeats the resolution under lock, so a file changed in
// between is caught there.
func (c *Coordinator) Preview(ctx context.Context, req Request) (Summary, map[string]int64, error) {
	ops, paths, err := normalize(req)
	if err != nil {
		return Summary{}, nil, err
	}
	arena, err := c.load(ops, paths)
	defer clear(arena)
	if err != nil {
		return Summary{}, nil, err
	}
	plan, summary, err := c.simulate(ctx, ops, arena)
	if err != nil {
		return Summary{}, nil, err
	}
	sizes := make(map[string]int64, len(paths))
	for _, p := range paths {
		if content, ok := plan[p]; ok {
			sizes[p] = int64(len(content))
		} else {
			sizes[p] = int64(len(arena[p].Content))
		}
	}
	summary.Files = paths
	return summary, sizes, nil
}

// normalize validates req and returns its operations with absolute paths,
// plus the distinct target paths in first-seen order.
func normalize(req Request) ([]Operation, []string, error) {
	if len(req.Operations) == 0 {
		return nil, nil, toolerr.New(toolerr.InvalidParameters, "edits must contain at least one operation")
	}

	ops := make([]Operation, len(req.Operations))
	var paths []string
	seen := make(map[string]bool)
	for i, op := range req.Operations {
		if op.Path == "" {
			return nil, nil, opError(toolerr.New(toolerr.InvalidParameters, "file_path is required"), i, "")
		}
		if op.OldText == "" {
			return nil, nil, opError(toolerr.New(toolerr.InvalidParameters, "old_string must not be empty"), i, op.Path)
		}
		abs, err := filepath.Abs(op.Path)
		if err != nil {
			return nil, nil, opError(toolerr.Wrap(toolerr.InvalidParameters, err, "invalid file_path"), i, op.Path)
		}
		op.Path = abs
		ops[i] = op
		if !seen[abs] {
			seen[abs] = true
			paths = append(paths, abs)
		}
	}
	return ops, paths, nil
}

// load captures a backup of every target. Every target must already exist.
func (c *Coordinator) load(ops []Operation, paths []string) (map[string]*BackupRecord, error) {
	arena := make(map[string]*BackupRecord, len(paths))
	for _, p := range paths {
		b, err := c.capture(p)
		if err != nil {
			return arena, opError(err, firstIndex(ops, p), p)
		}
		if !b.Exists {
			return arena, opError(toolerr.New(toolerr.ExecutionFailed, "file not found"), firstIndex(ops, p), p)
		}
		arena[p] = b
	}
	return arena, nil
}

// simulate applies every operation in memory and returns the final content
// of each changed file.
func (c *Coordinator) simulate(ctx context.Context, ops []Operation, arena map[string]*BackupRecord) (map[string]string, Summary, error) {
	working := make(map[string]string, len(arena))
	for p, b := range arena {
		working[p] = string(b.Content)
	}
	touched := make(map[string][]region)
	summary := Summary{Operations: make([]OpSummary, 0, len(ops))}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, Summary{}, toolerr.Wrap(toolerr.Aborted, err, "edit batch cancelled before any write")
		}
		before := working[op.Path]
		res, err := replace.Replace(before, op.OldText, op.NewText, op.ReplaceAll)
		if err != nil {
			return nil, Summary{}, opError(err, i, op.Path)
		}
		regions, overlap := advance(touched[op.Path], res.Spans, len(op.NewText), i)
		if overlap >= 0 {
			return nil, Summary{}, opError(toolerr.Newf(toolerr.InvalidParameters,
				"edit %d overlaps text changed by edit %d", i, overlap), i, op.Path)
		}
		if int64(len(res.Content)) > c.maxFileSize {
			return nil, Summary{}, opError(toolerr.Newf(toolerr.ContentTooLarge,
				"edited file would be %d bytes (limit %d)", len(res.Content), c.maxFileSize).
				With("size", len(res.Content)).With("limit", c.maxFileSize), i, op.Path)
		}
		touched[op.Path] = regions
		working[op.Path] = res.Content
		d := res.Diff(op.Path, before)
		summary.Operations = append(summary.Operations, OpSummary{
			Index:        i,
			Path:         op.Path,
			Strategy:     res.Strategy,
			Replacements: res.Count,
			Change:       d.Summary(),
			Diff:         diff.FormatUnifiedDiff(d),
		})
	}

	plan := make(map[string]string)
	for p, content := range working {
		if content != string(arena[p].Content) {
			plan[p] = content
		}
	}
	return plan, summary, nil
}

// Write replaces path's content under the same lock and rollback rules as
// Apply. Missing parent directories are created.
func (c *Coordinator) Write(ctx context.Context, path string, content []byte) (WriteSummary, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return WriteSummary{}, toolerr.Wrap(toolerr.InvalidParameters, err, "invalid file_path")
	}
	if int64(len(content)) > c.maxFileSize {
		e := toolerr.Newf(toolerr.ContentTooLarge, "content is %d bytes (limit %d)", len(content), c.maxFileSize)
		e.Path = abs
		return WriteSummary{}, e.With("size", len(content)).With("limit", c.maxFileSize)
	}

	unlock, err := c.locks.lock(ctx, abs)
	if err != nil {
		return WriteSummary{}, toolerr.Wrap(toolerr.Aborted, err, "cancelled waiting for file lock")
	}
	defer unlock()

	b, err := c.capture(abs)
	if err != nil {
		return WriteSummary{}, err
	}
	if err := ctx.Err(); err != nil {
		return WriteSummary{}, toolerr.Wrap(toolerr.Aborted, err, "write cancelled")
	}

	perm := fs.FileMode(0o644)
	if b.Exists {
		perm = b.Mode.Perm()
	} else if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		e := toolerr.Wrap(toolerr.ExecutionFailed, err, "cannot create parent directory")
		e.Path = abs
		return WriteSummary{}, e
	}
	if err := c.writeFile(abs, content, perm); err != nil {
		e := toolerr.Wrap(toolerr.ExecutionFailed, err, "write failed")
		e.Path = abs
		return WriteSummary{}, e
	}
	return WriteSummary{
		Path:    abs,
		Created: !b.Exists,
		Bytes:   len(content),
		Lines:   util.CountLines(string(content)),
		Diff:    diff.Unified(abs, string(b.Content), string(content)),
	}, nil
}

// =============================================================================
// BACKUP AND ROLLBACK
// =============================================================================

func (c *Coordinator) capture(path string) (*BackupRecord, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &BackupRecord{Path: path}, nil
	}
	if err != nil {
		e := toolerr.Wrap(toolerr.ExecutionFailed, err, "cannot access file")
		e.Path = path
		return nil, e
	}
	if info.IsDir() {
		e := toolerr.New(toolerr.InvalidParameters, "path is a directory")
		e.Path = path
		return nil, e
	}
	if info.Size() > c.maxFileSize {
		e := toolerr.Newf(toolerr.ContentTooLarge, "file is %d bytes (limit %d)", info.Size(), c.maxFileSize)
		e.Path = path
		return nil, e.With("size", info.Size()).With("limit", c.maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		e := toolerr.Wrap(toolerr.ExecutionFailed, err, "cannot read file")
		e.Path = path
		return nil, e
	}
	return &BackupRecord{Path: path, Content: data, Mode: info.Mode(), ModTime: info.ModTime(), Exists: true}, nil
}

// rollback restores written files newest first. Failures are logged; the
// original error is what the caller sees.
func (c *Coordinator) rollback(written []*BackupRecord) {
	for i := len(written) - 1; i >= 0; i-- {
		b := written[i]
		if err := c.restoreFile(b.Path, b.Content, b.Mode.Perm(), b.ModTime); err != nil {
			c.logger.Error("rollback failed", zap.String("path", b.Path), zap.Error(err))
			continue
		}
		c.logger.Debug("rolled back", zap.String("path", b.Path))
	}
}

func firstIndex(ops []Operation, path string) int {
	for i, op := range ops {
		if op.Path == path {
			return i
		}
	}
	return -1
}

// =============================================================================
// REGION TRACKING
// =============================================================================

// region is a byte range of the working content written by operation op.
type region struct {
	start, end int
	op         int
}

// advance checks spans (in pre-operation coordinates) against regions
// written by earlier operations, then maps everything to post-operation
// coordinates. It returns the overlapping operation index, or -1.
func advance(prev []region, spans []replace.Span, newLen, op int) ([]region, int) {
	for _, s := range spans {
		for _, r := range prev {
			if s.Start < r.end && r.start < s.End {
				return nil, r.op
			}
		}
	}

	out := make([]region, 0, len(prev)+len(spans))
	for _, r := range prev {
		shift := 0
		for _, s := range spans {
			if s.End <= r.start {
				shift += newLen - (s.End - s.Start)
			}
		}
		out = append(out, region{start: r.start + shift, end: r.end + shift, op: r.op})
	}
	shift := 0
	for _, s := range spans {
		start := s.Start + shift
		out = append(out, region{start: start, end: start + newLen, op: op})
		shift += newLen - (s.End - s.Start)
	}
	return out, -1
}

