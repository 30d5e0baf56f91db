// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package tools

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/sandbox"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestBash_NonZeroExitIsReported(t *testing.T) {
	requireBash(t)
	h := newHarness(t, permission.SessionPolicy{})

	out, err := h.exec(t, "Bash", map[string]any{"command": "echo hi; echo warn >&2; exit 4"})
	require.NoError(t, err)
	assert.Contains(t, out.Result.Output, "hi\n")
	assert.Contains(t, out.Result.Output, "[stderr]\nwarn\n")
	assert.Contains(t, out.Result.Output, "[exit code 4]")

	res, ok := out.Result.Data.(sandbox.CommandExecution)
	require.True(t, ok)
	assert.Equal(t, 4, res.ExitCode)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Outcome.Success)
}

func TestBash_TimeoutIsAudited(t *testing.T) {
	requireBash(t)
	h := newHarness(t, permission.SessionPolicy{})

	start := time.Now()
	out, err := h.exec(t, "Bash", map[string]any{"command": "echo started; sleep 30", "timeout": 0.3})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, toolerr.Timeout, toolerr.KindOf(err))

	res, ok := out.Result.Data.(sandbox.CommandExecution)
	require.True(t, ok)
	assert.True(t, res.TimedOut)
	assert.Equal(t, "started\n", res.Stdout)
	assert.Contains(t, out.Result.Output, "[timed out after")

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Outcome.Success)
	assert.Equal(t, string(toolerr.Timeout), recs[0].Outcome.ErrorKind)
	assert.Equal(t, "Approved", recs[0].Decision)
}

func TestBash_TimeoutAboveMaximumRejectedBySchema(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})

	_, err := h.exec(t, "Bash", map[string]any{"command": "true", "timeout": 601})
	assert.Equal(t, toolerr.InvalidParameters, toolerr.KindOf(err))
}

func TestBash_ConfinementBeforePermission(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{Confirmer: permission.AutoApprove(risk.High)})

	_, err := h.exec(t, "Bash", map[string]any{"command": "cat /etc/passwd"})
	assert.Equal(t, toolerr.UnsafeCommand, toolerr.KindOf(err))
}
