// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-guard command line.
//
// # Commands
//
//   - exec <tool>: run one invocation through the guard and print the
//     outcome as JSON
//   - audit query: print audit records as JSON lines
//   - classify: show the risk level of a command or file operation
//   - tools: list the registered tools
//   - config show|init: inspect or create the configuration file
//   - version
//
// # Exit Codes
//
// A failed invocation exits with the code of its error kind: 2 invalid
// parameters, 6 permission denied, 7 tool not found, 8 timeout, 9 unsafe
// command, 10 no match, 11 ambiguous match, 12 content too large, 130
// aborted and 1 for anything else. Configuration errors exit with 3.
//
// # Usage
//
//	os.Exit(cli.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
package cli
