// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"fmt"
	"strings"
)

// =============================================================================
// RISK LEVELS
// =============================================================================

// Level indicates how much harm an operation could do. Levels are ordered.
type Level int

const (
	// Low risk operations (reads inside the project, informational commands)
	Low Level = iota
	// Medium risk operations (builds, tests, project-scoped mutation)
	Medium
	// High risk operations (network, package managers, writes outside the project)
	High
	// Critical risk operations (destructive or privilege escalation)
	Critical
)

// Levels lists every level in ascending order.
var Levels = []Level{Low, Medium, High, Critical}

// String returns the string representation of a level.
func (l Level) String() string {
	switch l {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Critical:
		return "Critical"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= Low && l <= Critical
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	default:
		return Low, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so levels read the same
// from JSON, TOML and YAML.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}
