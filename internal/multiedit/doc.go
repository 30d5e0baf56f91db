// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package multiedit applies ordered batches of text replacements across one
// or more files with all-or-nothing semantics.
//
// Every file in a batch is locked, in path order, before its backup is
// captured and stays locked until the batch commits or rolls back, so two
// writers never interleave on the same file. Edits are simulated in memory
// first; a failing edit rejects the batch before anything touches disk. Each
// file is then replaced with a temp-file-and-rename write, and a failure or
// cancellation part way through restores the already written files from
// their backups, modification time included.
package multiedit
