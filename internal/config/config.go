// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-guard/internal/audit"
	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/sandbox"
	"github.com/jeranaias/rigrun-guard/internal/tools"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the main configuration structure for rigrun-guard.
type Config struct {
	Project ProjectConfig `toml:"project" json:"project"`
	Limits  LimitsConfig  `toml:"limits" json:"limits"`
	Policy  PolicyConfig  `toml:"policy" json:"policy"`
	Audit   AuditConfig   `toml:"audit" json:"audit"`
	Rules   RulesConfig   `toml:"rules" json:"rules"`
	Tools   ToolsConfig   `toml:"tools" json:"tools"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// ProjectConfig locates the project the tools operate on.
type ProjectConfig struct {
	// Root is the project root. Empty means the current directory.
	Root string `toml:"root" json:"root"`
	// AllowedPaths are extra directories shell commands may touch.
	AllowedPaths []string `toml:"allowed_paths" json:"allowed_paths"`
}

// LimitsConfig holds size and time ceilings.
type LimitsConfig struct {
	MaxFileSize       int64    `toml:"max_file_size" json:"max_file_size"`
	CommandTimeout    Duration `toml:"command_timeout" json:"command_timeout"`
	MaxCommandTimeout Duration `toml:"max_command_timeout" json:"max_command_timeout"`
	MaxOutputBytes    int      `toml:"max_output_bytes" json:"max_output_bytes"`
	KillGrace         Duration `toml:"kill_grace" json:"kill_grace"`
}

// PolicyConfig is the default session policy.
type PolicyConfig struct {
	// AutoApproveCeiling is one of low, medium, high.
	AutoApproveCeiling string   `toml:"auto_approve_ceiling" json:"auto_approve_ceiling"`
	CacheTiers         []string `toml:"cache_tiers" json:"cache_tiers"`
	// Interactive prompts on the terminal for confirmations.
	Interactive             bool    `toml:"interactive" json:"interactive"`
	MaxInvocationsPerSecond float64 `toml:"max_invocations_per_second" json:"max_invocations_per_second"`
	Burst                   int     `toml:"burst" json:"burst"`
}

// AuditConfig selects and tunes the audit store.
type AuditConfig struct {
	// Backend is one of memory, jsonl, sqlite.
	Backend       string `toml:"backend" json:"backend"`
	Path          string `toml:"path" json:"path"`
	RingSize      int    `toml:"ring_size" json:"ring_size"`
	MaxSizeMB     int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups" json:"max_backups"`
	RetentionDays int    `toml:"retention_days" json:"retention_days"`
}

// RulesConfig extends the built-in classification rules.
type RulesConfig struct {
	CommandRulesFile    string   `toml:"command_rules_file" json:"command_rules_file"`
	ProtectedPatterns   []string `toml:"protected_patterns" json:"protected_patterns"`
	ProtectedExtensions []string `toml:"protected_extensions" json:"protected_extensions"`
	// DenyPatterns are regular expressions refused by the sandbox.
	DenyPatterns []string `toml:"deny_patterns" json:"deny_patterns"`
}

// ToolsConfig restricts the registry.
type ToolsConfig struct {
	// Capabilities lists the granted capabilities. Empty grants all.
	Capabilities []string `toml:"capabilities" json:"capabilities"`
	Disabled     []string `toml:"disabled" json:"disabled"`
	// Permissions overrides a tool's default requirement: auto, ask or never.
	Permissions map[string]string `toml:"permissions" json:"permissions"`
}

// LoggingConfig configures the diagnostic logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// Duration is a time.Duration written as a string such as "2m" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxFileSize:       risk.DefaultMaxFileSize,
			CommandTimeout:    Duration{sandbox.DefaultTimeout},
			MaxCommandTimeout: Duration{sandbox.MaxTimeout},
			MaxOutputBytes:    sandbox.DefaultMaxOutput,
			KillGrace:         Duration{sandbox.DefaultGracePeriod},
		},
		Policy: PolicyConfig{
			AutoApproveCeiling: risk.Low.String(),
		},
		Audit: AuditConfig{
			Backend:    "jsonl",
			RingSize:   audit.DefaultMemoryCapacity,
			MaxSizeMB:  int(audit.DefaultMaxFileSize / (1024 * 1024)),
			MaxBackups: audit.DefaultMaxBackups,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Limits.MaxFileSize == 0 {
		c.Limits.MaxFileSize = d.Limits.MaxFileSize
	}
	if c.Limits.CommandTimeout.Duration == 0 {
		c.Limits.CommandTimeout = d.Limits.CommandTimeout
	}
	if c.Limits.MaxCommandTimeout.Duration == 0 {
		c.Limits.MaxCommandTimeout = d.Limits.MaxCommandTimeout
	}
	if c.Limits.MaxOutputBytes == 0 {
		c.Limits.MaxOutputBytes = d.Limits.MaxOutputBytes
	}
	if c.Limits.KillGrace.Duration == 0 {
		c.Limits.KillGrace = d.Limits.KillGrace
	}
	if c.Policy.AutoApproveCeiling == "" {
		c.Policy.AutoApproveCeiling = d.Policy.AutoApproveCeiling
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = d.Audit.Backend
	}
	if c.Audit.RingSize == 0 {
		c.Audit.RingSize = d.Audit.RingSize
	}
	if c.Audit.MaxSizeMB == 0 {
		c.Audit.MaxSizeMB = d.Audit.MaxSizeMB
	}
	if c.Audit.MaxBackups == 0 {
		c.Audit.MaxBackups = d.Audit.MaxBackups
	}
	if c.Audit.Path == "" && c.Audit.Backend != "memory" {
		if dir, err := ConfigDir(); err == nil {
			name := "guard-audit.jsonl"
			if c.Audit.Backend == "sqlite" {
				name = "guard-audit.db"
			}
			c.Audit.Path = filepath.Join(dir, name)
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// =============================================================================
// PATH FUNCTIONS
// =============================================================================

// ConfigDir returns the path to the rigrun configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun"), nil
}

// ConfigPath returns the config file path, honouring RIGRUN_GUARD_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv("RIGRUN_GUARD_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "guard.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		if err := os.Chmod(path, mode&0o700); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file at ConfigPath. A missing file yields defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the config file at path. A missing file yields defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadTOML(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML config file without validating it.
func LoadTOML(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	_ = ensureSecurePermissions(path)
	return cfg, nil
}

// SaveTOML writes cfg to path with mode 0600.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# rigrun-guard configuration file")
	fmt.Fprintln(file, "")
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

var (
	validBackends   = map[string]bool{"memory": true, "jsonl": true, "sqlite": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"console": true, "json": true}
)

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Limits.MaxFileSize <= 0 {
		add("limits.max_file_size", "must be positive, got %d", c.Limits.MaxFileSize)
	}
	if c.Limits.MaxOutputBytes <= 0 {
		add("limits.max_output_bytes", "must be positive, got %d", c.Limits.MaxOutputBytes)
	}
	maxTimeout := c.Limits.MaxCommandTimeout.Duration
	if maxTimeout <= 0 || maxTimeout > sandbox.MaxTimeout {
		add("limits.max_command_timeout", "must be between 1ms and %s, got %s", sandbox.MaxTimeout, maxTimeout)
	}
	if t := c.Limits.CommandTimeout.Duration; t <= 0 || t > maxTimeout {
		add("limits.command_timeout", "must be positive and at most max_command_timeout, got %s", t)
	}
	if c.Limits.KillGrace.Duration < 0 {
		add("limits.kill_grace", "must not be negative")
	}

	if _, err := c.Policy.Ceiling(); err != nil {
		add("policy.auto_approve_ceiling", "%v", err)
	}
	for _, t := range c.Policy.CacheTiers {
		if _, err := risk.ParseLevel(t); err != nil {
			add("policy.cache_tiers", "%v", err)
		}
	}
	if c.Policy.MaxInvocationsPerSecond < 0 {
		add("policy.max_invocations_per_second", "must not be negative")
	}
	if c.Policy.Burst < 0 {
		add("policy.burst", "must not be negative")
	}

	if !validBackends[c.Audit.Backend] {
		add("audit.backend", "must be memory, jsonl or sqlite, got %q", c.Audit.Backend)
	}
	if c.Audit.Backend != "memory" && c.Audit.Path == "" {
		add("audit.path", "required for the %s backend", c.Audit.Backend)
	}
	if c.Audit.RingSize < 0 || c.Audit.MaxSizeMB < 0 || c.Audit.MaxBackups < 0 || c.Audit.RetentionDays < 0 {
		add("audit", "sizes and counts must not be negative")
	}

	known := map[tools.Capability]bool{}
	for _, cp := range tools.AllCapabilities() {
		known[cp] = true
	}
	for _, cp := range c.Tools.Capabilities {
		if !known[tools.Capability(cp)] {
			add("tools.capabilities", "unknown capability %q", cp)
		}
	}
	for name, req := range c.Tools.Permissions {
		if _, err := permission.ParseRequirement(req); err != nil {
			add("tools.permissions."+name, "%v", err)
		}
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "must be console or json, got %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Ceiling parses AutoApproveCeiling. Critical is never auto-approved.
func (p PolicyConfig) Ceiling() (risk.Level, error) {
	lvl, err := risk.ParseLevel(p.AutoApproveCeiling)
	if err != nil {
		return risk.Low, err
	}
	if lvl == risk.Critical {
		return risk.Low, fmt.Errorf("critical operations cannot be auto-approved")
	}
	return lvl, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RIGRUN_GUARD_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("RIGRUN_GUARD_ROOT"); v != "" {
		c.Project.Root = v
	}
	if v := os.Getenv("RIGRUN_GUARD_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("RIGRUN_GUARD_MAX_FILE_SIZE: %w", err)
		}
		c.Limits.MaxFileSize = n
	}
	if v := os.Getenv("RIGRUN_GUARD_COMMAND_TIMEOUT"); v != "" {
		if err := c.Limits.CommandTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("RIGRUN_GUARD_COMMAND_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("RIGRUN_GUARD_AUTO_APPROVE"); v != "" {
		c.Policy.AutoApproveCeiling = v
	}
	if v := os.Getenv("RIGRUN_GUARD_INTERACTIVE"); v != "" {
		c.Policy.Interactive = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RIGRUN_GUARD_AUDIT_BACKEND"); v != "" {
		c.Audit.Backend = v
	}
	if v := os.Getenv("RIGRUN_GUARD_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
	if v := os.Getenv("RIGRUN_GUARD_CAPABILITIES"); v != "" {
		c.Tools.Capabilities = splitList(v)
	}
	if v := os.Getenv("RIGRUN_GUARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RIGRUN_GUARD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
