// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records one entry per tool invocation and answers queries by
// session and time range.
//
// A Log is created over a Store and passed to whoever executes tools; there is
// no package-level logger. Three stores are provided:
//
//   - MemoryStore: a bounded ring buffer, for tests and short-lived sessions
//   - JSONLStore: an append-only 0600 file, one JSON object per line, with
//     size-based rotation
//   - SQLiteStore: a SQLite database indexed by session and start time, with
//     age-based retention
//
// Append redacts API keys, tokens and passwords from the justification and
// outcome message before the record reaches the store.
package audit
