// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal provides integration tests for the complete guard built
// from configuration.
//
// These tests verify end-to-end functionality including:
// - File tools through classification, permission and audit
// - SQLite audit persistence across restarts
// - Rule files and configured deny patterns
// - Protected paths and the auto-approve ceiling
package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-guard/internal/audit"
	"github.com/jeranaias/rigrun-guard/internal/cli"
	"github.com/jeranaias/rigrun-guard/internal/config"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
	"github.com/jeranaias/rigrun-guard/internal/tools"
)

// =============================================================================
// TEST UTILITIES
// =============================================================================

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "project")
	require.NoError(t, os.Mkdir(root, 0o755))

	cfg := config.Default()
	cfg.Project.Root = root
	cfg.Audit.Backend = backend
	if backend != "memory" {
		cfg.Audit.Path = filepath.Join(dir, "audit."+backend)
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func buildStack(t *testing.T, cfg *config.Config) *cli.Stack {
	t.Helper()
	st, err := cli.BuildStack(cfg, nil)
	require.NoError(t, err)
	return st
}

func invoke(t *testing.T, st *cli.Stack, tool string, args map[string]any) (tools.Outcome, error) {
	t.Helper()
	return st.Executor.Execute(context.Background(), tools.Invocation{Tool: tool, Args: args, SessionID: "it"})
}

// =============================================================================
// INTEGRATION TESTS
// =============================================================================

func TestFileToolsEndToEnd(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	st := buildStack(t, cfg)
	root := st.Classifier.Root()

	_, err := invoke(t, st, "Write", map[string]any{"file_path": "main.go", "content": "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"})
	require.NoError(t, err)

	out, err := invoke(t, st, "Edit", map[string]any{"file_path": "main.go", "old_string": "println(\"hi\")", "new_string": "println(\"hello\")"})
	require.NoError(t, err)
	assert.Contains(t, out.Result.Output, "println(\"hello\")")

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("one\ntwo\n"), 0o644))
	_, err = invoke(t, st, "MultiEdit", map[string]any{"edits": []any{
		map[string]any{"file_path": "main.go", "old_string": "hello", "new_string": "world"},
		map[string]any{"file_path": "b.txt", "old_string": "two", "new_string": "three"},
	}})
	require.NoError(t, err)

	out, err = invoke(t, st, "Read", map[string]any{"file_path": "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "     1\tone\n     2\tthree\n", out.Result.Output)
	require.NoError(t, st.Close())

	// Reopening continues the sequence.
	st = buildStack(t, cfg)
	defer st.Close()
	_, err = invoke(t, st, "Nope", nil)
	assert.Equal(t, toolerr.ToolNotFound, toolerr.KindOf(err))

	recs, err := st.Audit.Query(context.Background(), "it", audit.TimeRange{})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	want := []string{"Write", "Edit", "MultiEdit", "Read", "Nope"}
	for i, r := range recs {
		assert.Equal(t, want[i], r.Tool)
		assert.EqualValues(t, i+1, r.Seq)
		assert.Equal(t, root, r.Environment.WorkDir)
	}
	assert.Equal(t, "Low", recs[2].Risk)
	assert.Empty(t, recs[4].Risk)
}

func TestRuleFileAndDenyPatterns(t *testing.T) {
	cfg := testConfig(t, "memory")
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`
rules:
  - name: terraform-apply
    pattern: '\bterraform\s+apply\b'
    level: critical
    message: changes real infrastructure
deny:
  - name: netcat-listener
    pattern: '\bnc\s+-l'
    message: opens a listener
`), 0o644))
	cfg.Rules.CommandRulesFile = rules
	cfg.Rules.DenyPatterns = []string{`\bmkswap\b`}
	cfg.Policy.AutoApproveCeiling = "high"
	st := buildStack(t, cfg)
	defer st.Close()

	_, err := invoke(t, st, "Bash", map[string]any{"command": "terraform apply -auto-approve"})
	assert.Equal(t, toolerr.PermissionDenied, toolerr.KindOf(err))
	assert.Equal(t, "Critical", toolerr.As(err).Risk)

	_, err = invoke(t, st, "Bash", map[string]any{"command": "nc -l 4444"})
	assert.Equal(t, toolerr.UnsafeCommand, toolerr.KindOf(err))

	_, err = invoke(t, st, "Bash", map[string]any{"command": "mkswap disk.img"})
	assert.Equal(t, toolerr.UnsafeCommand, toolerr.KindOf(err))

	recs, err := st.Audit.Query(context.Background(), "", audit.TimeRange{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "Denied", recs[0].Decision)
	assert.Equal(t, "NotEvaluated", recs[1].Decision)
}

func TestProtectedPathsAndCeiling(t *testing.T) {
	cfg := testConfig(t, "memory")
	st := buildStack(t, cfg)
	defer st.Close()

	env := filepath.Join(st.Classifier.Root(), ".env")
	_, err := invoke(t, st, "Write", map[string]any{"file_path": ".env", "content": "TOKEN=x\n"})
	assert.Equal(t, toolerr.PermissionDenied, toolerr.KindOf(err))
	assert.Equal(t, "High", toolerr.As(err).Risk)
	assert.NoFileExists(t, env)

	cfg.Policy.AutoApproveCeiling = "high"
	st2 := buildStack(t, cfg)
	defer st2.Close()
	out, err := st2.Executor.Execute(context.Background(), tools.Invocation{Tool: "Write", SessionID: "it",
		Args: map[string]any{"file_path": ".env", "content": "TOKEN=x\n"}})
	require.NoError(t, err)
	assert.Equal(t, "High", out.Risk.String())
	assert.FileExists(t, env)
}

func TestCapabilityFilteredStack(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Tools.Capabilities = []string{string(tools.CapFilesystemRead), string(tools.CapFilesystemWrite)}
	cfg.Tools.Permissions = map[string]string{"Write": "never"}
	st := buildStack(t, cfg)
	defer st.Close()

	assert.Equal(t, []string{"Edit", "MultiEdit", "Read", "Write"}, st.Registry.Names())

	_, err := invoke(t, st, "Bash", map[string]any{"command": "ls"})
	assert.Equal(t, toolerr.ToolNotFound, toolerr.KindOf(err))

	_, err = invoke(t, st, "Write", map[string]any{"file_path": "a.txt", "content": "x"})
	assert.Equal(t, toolerr.PermissionDenied, toolerr.KindOf(err))
	assert.NoFileExists(t, filepath.Join(st.Classifier.Root(), "a.txt"))
}
