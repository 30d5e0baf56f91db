// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff computes unified diffs between old and new file content.
//
// Edit results carry a diff for audit and display. Opcodes come from
// go-difflib's sequence matcher; hunks keep three lines of context.
//
// # Usage
//
//	d := diff.ComputeDiff("main.go", oldContent, newContent)
//	fmt.Println(d.Summary())
//	fmt.Print(diff.FormatUnifiedDiff(d))
package diff
