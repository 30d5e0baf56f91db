// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sandbox runs shell commands confined to a project root.
//
// Check is the gate every command passes before it is classified or run: it
// rejects deny-listed commands, working directories outside the root and
// arguments that name paths outside the root or the extra allowed paths.
// Run executes a checked command in its own process group with a sanitised
// environment, per-stream output capture capped at 30KB and a timeout
// (2 minutes by default, 10 at most). On timeout the group receives SIGTERM
// and, after a grace period, SIGKILL.
package sandbox
