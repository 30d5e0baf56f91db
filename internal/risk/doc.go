// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package risk classifies proposed tool operations into risk levels.
//
// Classification is deterministic and total: every file or command operation
// maps to exactly one of Low, Medium, High or Critical. Commands that cannot
// be parsed safely are High.
//
// # Commands
//
// A command is NFKC-normalised and matched against whole-command regex rules
// (fork bombs, filesystem formatting, pipe-to-shell). It is then parsed as
// bash and every simple command, including those inside substitutions, is
// looked up in layered program tables. The command's level is the maximum
// over all rules and simple commands; substitution itself is at least High.
//
// # Files
//
// Writes inside the project root are Low, writes outside it are Medium when
// user-writable, and protected files (keys, credentials, binaries) are High.
// The size ceiling is not a level: CheckSize fails with ContentTooLarge.
//
// # Rule files
//
// Extra rules, deny patterns and program table entries load from YAML with
// LoadRuleFile.
package risk
