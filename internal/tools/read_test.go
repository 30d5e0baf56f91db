// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

func TestReadExecutor(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("a\nb\nc\nd\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin"), []byte{'E', 'L', 'F', 0, 1}, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	x := &ReadExecutor{Root: root}
	ctx := context.Background()

	tests := []struct {
		name      string
		args      Args
		want      string
		truncated bool
		kind      toolerr.Kind
	}{
		{name: "whole file", args: Args{"file_path": "f.txt"}, want: "     1\ta\n     2\tb\n     3\tc\n     4\td\n"},
		{name: "offset and limit", args: Args{"file_path": "f.txt", "offset": 2.0, "limit": 2.0}, want: "     2\tb\n     3\tc\n", truncated: true},
		{name: "absolute path", args: Args{"file_path": filepath.Join(root, "f.txt"), "limit": 1.0}, want: "     1\ta\n", truncated: true},
		{name: "missing", args: Args{"file_path": "nope.txt"}, kind: toolerr.ExecutionFailed},
		{name: "directory", args: Args{"file_path": "dir"}, kind: toolerr.InvalidParameters},
		{name: "binary", args: Args{"file_path": "bin"}, kind: toolerr.InvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := x.Execute(ctx, tt.args)
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, toolerr.KindOf(err))
				assert.NotEmpty(t, toolerr.As(err).Path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Output)
			assert.Equal(t, tt.truncated, res.Truncated)
		})
	}
}

func TestReadExecutor_TooLarge(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("0123456789"), 0o644))
	x := &ReadExecutor{Root: root, MaxFileSize: 4}

	_, err := x.Execute(context.Background(), Args{"file_path": "f.txt"})
	assert.Equal(t, toolerr.ContentTooLarge, toolerr.KindOf(err))
}

func TestReadExecutor_Plan(t *testing.T) {
	root := t.TempDir()
	x := &ReadExecutor{Root: root}

	ops, err := x.Plan(context.Background(), Args{"file_path": "sub/f.txt"})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, risk.FileOperation{Kind: risk.FileRead, Path: filepath.Join(root, "sub", "f.txt")}, ops[0])

	assert.Error(t, x.Validate(Args{}))
}
