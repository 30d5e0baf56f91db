// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools is the single entry point through which an agent's tool
// calls reach the filesystem and shell.
//
// # Key Types
//
//   - Tool: name, parameter schema, capabilities, default permission and
//     a ToolExecutor
//   - ToolExecutor: Validate, Plan and Execute for one tool
//   - Registry: the fixed set of tools, filtered by capability when built
//   - Executor: runs an Invocation through validation, classification,
//     permission and execution, and audits it
//
// # Available Tools
//
// File Tools:
//   - Read: read a file with line numbers
//   - Write: create or replace a file
//   - Edit: search and replace within a file
//   - MultiEdit: an all-or-nothing batch of edits
//
// System Tools:
//   - Bash: shell command execution in the sandbox
//
// # Pipeline
//
// Executor.Execute looks the tool up, validates arguments against the
// tool's JSON Schema, runs the tool's own Validate (for Bash, the sandbox
// deny list), plans the operations, enforces size limits, classifies the
// plan, asks the permission engine and only then executes. One audit record
// is appended on every path out, including unknown tools.
package tools
