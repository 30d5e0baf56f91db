// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package replace finds and substitutes a block of text in file content.
//
// Matching falls through four strategies, stopping at the first that finds
// anything: exact substring, line-trimmed (each line compared without
// leading and trailing whitespace), whitespace-normalized (any whitespace
// run matches any other) and indentation-flexible (common indentation
// removed from the needle and from each candidate window).
//
// The result names the strategy that matched so callers can report how
// loose the match was.
package replace
