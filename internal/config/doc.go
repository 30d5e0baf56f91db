// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads rigrun-guard settings from TOML with defaults,
// environment overrides and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_GUARD_*)
//   - $RIGRUN_GUARD_CONFIG, or ~/.rigrun/guard.toml
//   - Built-in defaults
//
// Durations are written as Go duration strings:
//
//	[limits]
//	command_timeout = "2m"
//	kill_grace = "2s"
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	ceiling, _ := cfg.Policy.Ceiling()
package config
