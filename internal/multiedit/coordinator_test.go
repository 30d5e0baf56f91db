// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package multiedit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-guard/internal/replace"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o640))
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(p, old, old))
	return p
}

type snapshot struct {
	content string
	mode    fs.FileMode
	mtime   time.Time
}

func snap(t *testing.T, path string) snapshot {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return snapshot{string(b), info.Mode(), info.ModTime()}
}

// =============================================================================
// SUCCESS PATH
// =============================================================================

func TestApply_MultiFileSuccess(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.go", "package a\n\nfunc A() int { return 1 }\n")
	b := writeTemp(t, dir, "b.go", "package b\n\nvar x = 1\nvar y = 2\n")

	c := NewCoordinator(0, nil)
	sum, err := c.Apply(context.Background(), Request{Operations: []Operation{
		{Path: a, OldText: "return 1", NewText: "return 2"},
		{Path: b, OldText: "var x = 1", NewText: "var x = 10"},
		{Path: b, OldText: "var y = 2", NewText: "var y = 20"},
	}})
	require.NoError(t, err)

	require.Len(t, sum.Operations, 3)
	for i, op := range sum.Operations {
		assert.Equal(t, i, op.Index)
		assert.Equal(t, replace.Exact, op.Strategy)
		assert.Equal(t, 1, op.Replacements)
		assert.NotEmpty(t, op.Diff)
	}
	assert.Contains(t, sum.Operations[2].Diff, "+var y = 20")
	assert.ElementsMatch(t, []string{a, b}, sum.Files)

	assert.Equal(t, "package a\n\nfunc A() int { return 2 }\n", snap(t, a).content)
	assert.Equal(t, "package b\n\nvar x = 10\nvar y = 20\n", snap(t, b).content)
	assert.Equal(t, fs.FileMode(0o640), snap(t, b).mode.Perm())
	assert.Zero(t, c.locks.held(), "locks released after commit")
}

func TestApply_EditInsideEarlierReplacementRejected(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "f.txt", "one\n")
	c := NewCoordinator(0, nil)
	_, err := c.Apply(context.Background(), Request{Operations: []Operation{
		{Path: p, OldText: "one\n", NewText: "one\ntwo\n"},
		{Path: p, OldText: "two\n", NewText: "two\nthree\n"},
	}})
	require.Error(t, err, "second op edits text the first one wrote")
	assert.Equal(t, toolerr.InvalidParameters, toolerr.KindOf(err))
	assert.Equal(t, "one\n", snap(t, p).content)

	_, err = c.Apply(context.Background(), Request{Operations: []Operation{
		{Path: p, OldText: "one\n", NewText: "uno\n"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "uno\n", snap(t, p).content)
}

// =============================================================================
// ALL-OR-NOTHING
// =============================================================================

func TestApply_FailingOperationLeavesEveryFileUntouched(t *testing.T) {
	for failAt := 0; failAt < 3; failAt++ {
		t.Run(fmt.Sprintf("fail-at-%d", failAt), func(t *testing.T) {
			dir := t.TempDir()
			files := []string{
				writeTemp(t, dir, "a.txt", "alpha\nbeta\n"),
				writeTemp(t, dir, "b.txt", "gamma\ndelta\n"),
				writeTemp(t, dir, "c.txt", "epsilon\n"),
			}
			before := make([]snapshot, len(files))
			for i, f := range files {
				before[i] = snap(t, f)
			}

			ops := []Operation{
				{Path: files[0], OldText: "alpha", NewText: "ALPHA"},
				{Path: files[1], OldText: "gamma", NewText: "GAMMA"},
				{Path: files[2], OldText: "epsilon", NewText: "EPSILON"},
			}
			ops[failAt].OldText = "not present anywhere"

			_, err := NewCoordinator(0, nil).Apply(context.Background(), Request{Operations: ops})
			require.Error(t, err)
			assert.Equal(t, toolerr.NoMatchFound, toolerr.KindOf(err))
			te := toolerr.As(err)
			assert.Equal(t, failAt, te.Details["index"])
			assert.Equal(t, files[failAt], te.Path)

			for i, f := range files {
				assert.Equal(t, before[i], snap(t, f), f)
			}
		})
	}
}

func TestApply_WriteFailureRollsBackWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.txt", "alpha\n")
	b := writeTemp(t, dir, "b.txt", "beta\n")
	wantA, wantB := snap(t, a), snap(t, b)

	c := NewCoordinator(0, nil)
	orig := c.writeFile
	c.writeFile = func(path string, data []byte, perm fs.FileMode) error {
		if path == b {
			return errors.New("disk full")
		}
		return orig(path, data, perm)
	}

	_, err := c.Apply(context.Background(), Request{Operations: []Operation{
		{Path: a, OldText: "alpha", NewText: "ALPHA"},
		{Path: b, OldText: "beta", NewText: "BETA"},
	}})
	require.Error(t, err)
	assert.Equal(t, toolerr.ExecutionFailed, toolerr.KindOf(err))
	assert.Equal(t, 1, toolerr.As(err).Details["index"])

	assert.Equal(t, wantA, snap(t, a), "a.txt restored byte-for-byte with its mtime")
	assert.Equal(t, wantB, snap(t, b))
}

func TestBackupRestoreIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		"plain\n",
		"no trailing newline",
		"crlf\r\nline\r\n",
		"tabs\t\tand  spaces  \n\n\n",
		"unicode ünïcödé ✓\n",
	}
	c := NewCoordinator(0, nil)
	for i, in := range inputs {
		p := writeTemp(t, dir, fmt.Sprintf("f%d", i), in)
		want := snap(t, p)

		b, err := c.capture(p)
		require.NoError(t, err)
		old := strings.Fields(in)[0]
		_, err = c.Apply(context.Background(), Request{Operations: []Operation{{Path: p, OldText: old, NewText: old + "!"}}})
		require.NoError(t, err)
		require.NotEqual(t, want.content, snap(t, p).content)

		c.rollback([]*BackupRecord{b})
		assert.Equal(t, want, snap(t, p))
	}
}

func TestPreview_ResolvesWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.txt", "alpha\nbeta\n")
	b := writeTemp(t, dir, "b.txt", "gamma\n")
	wantA, wantB := snap(t, a), snap(t, b)

	c := NewCoordinator(0, nil)
	sum, sizes, err := c.Preview(context.Background(), Request{Operations: []Operation{
		{Path: a, OldText: "beta", NewText: "beta-beta"},
		{Path: b, OldText: "  gamma", NewText: "delta"},
	}})
	require.NoError(t, err)
	require.Len(t, sum.Operations, 2)
	assert.Equal(t, replace.LineTrimmed, sum.Operations[1].Strategy)
	assert.Equal(t, int64(len("alpha\nbeta-beta\n")), sizes[a])
	assert.Equal(t, int64(len("delta\n")), sizes[b])

	assert.Equal(t, wantA, snap(t, a))
	assert.Equal(t, wantB, snap(t, b))
	assert.Zero(t, c.locks.held())

	_, _, err = c.Preview(context.Background(), Request{Operations: []Operation{{Path: a, OldText: "omega", NewText: "x"}}})
	assert.Equal(t, toolerr.NoMatchFound, toolerr.KindOf(err))
}

func TestApply_AmbiguousPerformsNoWrite(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "f.txt", "x = 1\nx = 1\n")
	want := snap(t, p)

	c := NewCoordinator(0, nil)
	writes := 0
	c.writeFile = func(string, []byte, fs.FileMode) error { writes++; return nil }

	_, err := c.Apply(context.Background(), Request{Operations: []Operation{{Path: p, OldText: "x = 1", NewText: "x = 2"}}})
	require.Error(t, err)
	assert.Equal(t, toolerr.AmbiguousMatch, toolerr.KindOf(err))
	assert.Zero(t, writes)
	assert.Equal(t, want, snap(t, p))
}

func TestApply_OverlapRejected(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "f.txt", "hello world\n")
	_, err := NewCoordinator(0, nil).Apply(context.Background(), Request{Operations: []Operation{
		{Path: p, OldText: "hello", NewText: "goodbye"},
		{Path: p, OldText: "goodbye world", NewText: "farewell"},
	}})
	require.Error(t, err)
	assert.Equal(t, toolerr.InvalidParameters, toolerr.KindOf(err))
	assert.Contains(t, err.Error(), "overlaps")
	assert.Equal(t, "hello world\n", snap(t, p).content)
}

func TestAdvance(t *testing.T) {
	// "aaa bbb ccc": op 0 replaced "bbb" (4..7) with "BBBBB"
	regions, overlap := advance(nil, []replace.Span{{Start: 4, End: 7}}, 5, 0)
	require.Equal(t, -1, overlap)
	require.Equal(t, []region{{start: 4, end: 9, op: 0}}, regions)

	// op 1 replaces "aaa" (0..3) with "a": region shifts left by 2
	regions, overlap = advance(regions, []replace.Span{{Start: 0, End: 3}}, 1, 1)
	require.Equal(t, -1, overlap)
	assert.Contains(t, regions, region{start: 2, end: 7, op: 0})

	_, overlap = advance(regions, []replace.Span{{Start: 6, End: 8}}, 1, 2)
	assert.Equal(t, 0, overlap)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestApply_Validation(t *testing.T) {
	c := NewCoordinator(0, nil)
	_, err := c.Apply(context.Background(), Request{})
	assert.Equal(t, toolerr.InvalidParameters, toolerr.KindOf(err))

	_, err = c.Apply(context.Background(), Request{Operations: []Operation{{Path: "x", OldText: ""}}})
	assert.Equal(t, toolerr.InvalidParameters, toolerr.KindOf(err))

	_, err = c.Apply(context.Background(), Request{Operations: []Operation{{Path: filepath.Join(t.TempDir(), "missing"), OldText: "a"}}})
	assert.Equal(t, toolerr.ExecutionFailed, toolerr.KindOf(err))

	_, err = c.Apply(context.Background(), Request{Operations: []Operation{{Path: t.TempDir(), OldText: "a"}}})
	assert.Equal(t, toolerr.InvalidParameters, toolerr.KindOf(err))
}

func TestApply_ContentTooLarge(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "f.txt", "tiny\n")
	c := NewCoordinator(16, nil)
	_, err := c.Apply(context.Background(), Request{Operations: []Operation{{Path: p, OldText: "tiny", NewText: strings.Repeat("x", 64)}}})
	assert.Equal(t, toolerr.ContentTooLarge, toolerr.KindOf(err))
	assert.Equal(t, "tiny\n", snap(t, p).content)
}

// =============================================================================
// CONCURRENCY AND CANCELLATION
// =============================================================================

func TestApply_SerialisesWritersOnSamePath(t *testing.T) {
	dir := t.TempDir()
	const n = 20
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "line-%02d\n", i)
	}
	p := writeTemp(t, dir, "shared.txt", sb.String())

	c := NewCoordinator(0, nil)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Apply(context.Background(), Request{Operations: []Operation{{
				Path:    p,
				OldText: fmt.Sprintf("line-%02d\n", i),
				NewText: fmt.Sprintf("LINE-%02d\n", i),
			}}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := snap(t, p).content
	for i := 0; i < n; i++ {
		assert.Contains(t, got, fmt.Sprintf("LINE-%02d\n", i), "lost update for line %d", i)
	}
	assert.Zero(t, c.locks.held())
}

func TestApply_CancelledWhileWaitingForLock(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "f.txt", "a\n")
	c := NewCoordinator(0, nil)

	abs, err := filepath.Abs(p)
	require.NoError(t, err)
	unlock, err := c.locks.lock(context.Background(), abs)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Apply(ctx, Request{Operations: []Operation{{Path: p, OldText: "a", NewText: "b"}}})
	require.Error(t, err)
	assert.Equal(t, toolerr.Aborted, toolerr.KindOf(err))
	assert.Equal(t, "a\n", snap(t, p).content)
}

func TestApply_CancelBetweenWritesRollsBack(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.txt", "alpha\n")
	b := writeTemp(t, dir, "b.txt", "beta\n")
	wantA := snap(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCoordinator(0, nil)
	orig := c.writeFile
	c.writeFile = func(path string, data []byte, perm fs.FileMode) error {
		err := orig(path, data, perm)
		cancel()
		return err
	}

	_, err := c.Apply(ctx, Request{Operations: []Operation{
		{Path: a, OldText: "alpha", NewText: "ALPHA"},
		{Path: b, OldText: "beta", NewText: "BETA"},
	}})
	require.Error(t, err)
	assert.Equal(t, toolerr.Aborted, toolerr.KindOf(err))
	assert.Equal(t, wantA, snap(t, a))
	assert.Equal(t, "beta\n", snap(t, b).content)
}

// =============================================================================
// WRITE
// =============================================================================

func TestNewCoordinator_DefaultLimitMatchesClassifier(t *testing.T) {
	assert.Equal(t, risk.DefaultMaxFileSize, NewCoordinator(0, nil).maxFileSize)
	assert.Equal(t, int64(4), NewCoordinator(4, nil).maxFileSize)
}

func TestWrite_CreatesAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "new.txt")
	c := NewCoordinator(0, nil)

	ws, err := c.Write(context.Background(), p, []byte("hello\n"))
	require.NoError(t, err)
	assert.True(t, ws.Created)
	assert.Equal(t, 6, ws.Bytes)
	assert.Equal(t, 1, ws.Lines)
	assert.Contains(t, ws.Diff, "+hello")

	require.NoError(t, os.Chmod(p, 0o600))
	ws, err = c.Write(context.Background(), p, []byte("bye\n"))
	require.NoError(t, err)
	assert.False(t, ws.Created)
	assert.Equal(t, "bye\n", snap(t, p).content)
	assert.Equal(t, fs.FileMode(0o600), snap(t, p).mode.Perm(), "mode preserved on overwrite")

	_, err = NewCoordinator(4, nil).Write(context.Background(), p, []byte("too long"))
	assert.Equal(t, toolerr.ContentTooLarge, toolerr.KindOf(err))
}
