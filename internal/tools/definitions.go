// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
)

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability is a class of side effect a tool may have.
type Capability string

const (
	CapFilesystemRead   Capability = "filesystem-read"
	CapFilesystemWrite  Capability = "filesystem-write"
	CapProcessExecution Capability = "process-execution"
)

// AllCapabilities lists every capability.
func AllCapabilities() []Capability {
	return []Capability{CapFilesystemRead, CapFilesystemWrite, CapProcessExecution}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool represents an executable tool.
type Tool struct {
	// Name is the tool identifier (e.g., "Read", "Write", "Bash")
	Name string

	// Description explains what the tool does
	Description string

	// ShortDescription is a concise description for tool listings.
	// If empty, the first line of Description is used
	ShortDescription string

	// Schema defines the tool's parameters
	Schema Schema

	// Capabilities is every side effect the tool may have
	Capabilities []Capability

	// Permission is the default permission requirement
	Permission permission.Requirement

	// Executor handles validation, planning and execution
	Executor ToolExecutor

	compiled *jsonschema.Schema
}

// GetShortDescription returns ShortDescription if set, otherwise the first
// line of Description.
func (t *Tool) GetShortDescription() string {
	if t.ShortDescription != "" {
		return t.ShortDescription
	}
	if idx := strings.Index(t.Description, "\n"); idx != -1 {
		return t.Description[:idx]
	}
	return t.Description
}

// HasCapability reports whether the tool declares c.
func (t *Tool) HasCapability(c Capability) bool {
	for _, have := range t.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Descriptor is the public description of a tool.
type Descriptor struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []Capability   `json:"capabilities"`
	Permission   string         `json:"permission"`
	InputSchema  map[string]any `json:"input_schema"`
}

// Describe returns the tool's descriptor.
func (t *Tool) Describe() Descriptor {
	return Descriptor{
		Name:         t.Name,
		Description:  t.GetShortDescription(),
		Capabilities: append([]Capability(nil), t.Capabilities...),
		Permission:   t.Permission.String(),
		InputSchema:  t.Schema.Document(),
	}
}

// =============================================================================
// TOOL EXECUTOR INTERFACE
// =============================================================================

// ToolExecutor is the contract every tool implements. Validate and Plan have
// no side effects; the executor only calls Execute once the planned
// operations have been classified and approved.
type ToolExecutor interface {
	// Validate checks arguments beyond their schema.
	Validate(args Args) error
	// Plan returns the operations Execute would perform.
	Plan(ctx context.Context, args Args) ([]risk.Operation, error)
	// Execute performs the operations.
	Execute(ctx context.Context, args Args) (Result, error)
}

// Result holds the output of a successful tool execution.
type Result struct {
	// Output is the human-readable result
	Output string `json:"output"`

	// Data is the structured result, such as an edit summary
	Data any `json:"data,omitempty"`

	// Truncated indicates output was truncated
	Truncated bool `json:"truncated,omitempty"`
}

// =============================================================================
// ARGUMENTS
// =============================================================================

// Args is a tool's argument map after JSON decoding.
type Args map[string]any

// GetString gets a string argument with a default value.
func (a Args) GetString(name, defaultVal string) string {
	if val, ok := a[name]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt gets an integer argument with a default value.
func (a Args) GetInt(name string, defaultVal int) int {
	if val, ok := a[name]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultVal
}

// GetFloat gets a numeric argument with a default value.
func (a Args) GetFloat(name string, defaultVal float64) float64 {
	if val, ok := a[name]; ok {
		switch v := val.(type) {
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case float64:
			return v
		}
	}
	return defaultVal
}

// GetBool gets a boolean argument with a default value.
func (a Args) GetBool(name string, defaultVal bool) bool {
	if val, ok := a[name]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
