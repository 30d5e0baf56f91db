// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-guard/internal/risk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guard.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, cfg.Validate())

	lvl, err := cfg.Policy.Ceiling()
	require.NoError(t, err)
	assert.Equal(t, risk.Low, lvl)
}

func TestLoadFromPath_MissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Limits.CommandTimeout.Duration)
	assert.Equal(t, "jsonl", cfg.Audit.Backend)
	assert.Equal(t, "guard-audit.jsonl", filepath.Base(cfg.Audit.Path))
}

func TestLoadFromPath_ParsesSections(t *testing.T) {
	path := writeConfig(t, `
[project]
root = "/srv/app"

[limits]
max_file_size = 1024
command_timeout = "30s"
kill_grace = "500ms"

[policy]
auto_approve_ceiling = "medium"
cache_tiers = ["medium", "high"]
max_invocations_per_second = 5.0
burst = 10

[audit]
backend = "memory"
ring_size = 50

[tools]
capabilities = ["filesystem-read"]
disabled = ["Bash"]

[tools.permissions]
Write = "ask"

[logging]
level = "debug"
format = "json"
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/app", cfg.Project.Root)
	assert.EqualValues(t, 1024, cfg.Limits.MaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.Limits.CommandTimeout.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Limits.KillGrace.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Limits.MaxCommandTimeout.Duration)
	assert.Equal(t, []string{"medium", "high"}, cfg.Policy.CacheTiers)
	assert.Equal(t, 10, cfg.Policy.Burst)
	assert.Equal(t, "memory", cfg.Audit.Backend)
	assert.Empty(t, cfg.Audit.Path)
	assert.Equal(t, 50, cfg.Audit.RingSize)
	assert.Equal(t, []string{"Bash"}, cfg.Tools.Disabled)
	assert.Equal(t, "ask", cfg.Tools.Permissions["Write"])
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromPath_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[limits]\nmax_fil_size = 3\n")
	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limits.max_fil_size")
}

func TestLoadFromPath_BadDuration(t *testing.T) {
	path := writeConfig(t, "[limits]\ncommand_timeout = \"soon\"\n")
	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxFileSize = 0
	cfg.Limits.MaxOutputBytes = -1
	cfg.Limits.MaxCommandTimeout = Duration{11 * time.Minute}
	cfg.Policy.AutoApproveCeiling = "critical"
	cfg.Policy.CacheTiers = []string{"huge"}
	cfg.Audit.Backend = "postgres"
	cfg.Tools.Capabilities = []string{"network"}
	cfg.Tools.Permissions = map[string]string{"Bash": "sometimes"}
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	var ve ValidationErrors
	require.ErrorAs(t, err, &ve)

	fields := map[string]bool{}
	for _, e := range ve {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"limits.max_file_size", "limits.max_output_bytes", "limits.max_command_timeout",
		"policy.auto_approve_ceiling", "policy.cache_tiers", "audit.backend",
		"tools.capabilities", "tools.permissions.Bash", "logging.format",
	} {
		assert.True(t, fields[f], "missing error for %s", f)
	}
}

func TestValidate_TimeoutAboveMaximum(t *testing.T) {
	cfg := Default()
	cfg.Audit.Backend = "memory"
	cfg.Limits.MaxCommandTimeout = Duration{time.Minute}
	cfg.Limits.CommandTimeout = Duration{2 * time.Minute}
	assert.ErrorContains(t, cfg.Validate(), "limits.command_timeout")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RIGRUN_GUARD_ROOT", "/tmp/proj")
	t.Setenv("RIGRUN_GUARD_MAX_FILE_SIZE", "2048")
	t.Setenv("RIGRUN_GUARD_COMMAND_TIMEOUT", "45s")
	t.Setenv("RIGRUN_GUARD_AUTO_APPROVE", "high")
	t.Setenv("RIGRUN_GUARD_INTERACTIVE", "true")
	t.Setenv("RIGRUN_GUARD_AUDIT_BACKEND", "sqlite")
	t.Setenv("RIGRUN_GUARD_CAPABILITIES", "filesystem-read, process-execution")
	t.Setenv("RIGRUN_GUARD_LOG_LEVEL", "info")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, "/tmp/proj", cfg.Project.Root)
	assert.EqualValues(t, 2048, cfg.Limits.MaxFileSize)
	assert.Equal(t, 45*time.Second, cfg.Limits.CommandTimeout.Duration)
	assert.Equal(t, "high", cfg.Policy.AutoApproveCeiling)
	assert.True(t, cfg.Policy.Interactive)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.Equal(t, []string{"filesystem-read", "process-execution"}, cfg.Tools.Capabilities)
	assert.Equal(t, "info", cfg.Logging.Level)

	t.Setenv("RIGRUN_GUARD_MAX_FILE_SIZE", "big")
	assert.Error(t, Default().ApplyEnvOverrides())
}

func TestConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("RIGRUN_GUARD_CONFIG", "/etc/guard.toml")
	p, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/guard.toml", p)
}

func TestSaveTOML_RoundTripsAndIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "guard.toml")
	cfg := Default()
	cfg.Audit.Backend = "memory"
	cfg.Limits.KillGrace = Duration{3 * time.Second}
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, loaded.Limits.KillGrace.Duration)
	assert.Equal(t, "memory", loaded.Audit.Backend)
}
