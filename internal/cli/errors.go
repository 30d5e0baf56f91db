// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for all CLI commands.
//
// STANDARDIZED PATTERN:
//   - Commands always return errors and never print and return nil
//   - Run decides how to display them and picks the exit code
//   - Tool failures keep their toolerr kind all the way to the exit code

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// =============================================================================
// EXIT CODES
// =============================================================================

// Exit codes outside the tool error taxonomy. Tool failures use
// toolerr.ExitCode.
const (
	ExitSuccess      = toolerr.ExitSuccess
	ExitGeneralError = toolerr.ExitExecutionFailed
	ExitUsageError   = toolerr.ExitInvalidParams
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "audit", "exec")
	Action  string // Action being performed (e.g., "query", "load config")
	Reason  string
	Err     error
	// Code overrides the exit code derived from Err. Zero derives it.
	Code int
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// configError marks a failure to load or build from configuration.
func configError(command string, err error) error {
	return &CommandError{Command: command, Action: "load config", Reason: "invalid configuration", Err: err, Code: ExitConfigError}
}

// usageError marks bad flags or arguments.
func usageError(format string, args ...any) error {
	return toolerr.Newf(toolerr.InvalidParameters, format, args...)
}

// reportedError has already been written to the output stream.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// reported marks err as already displayed. Nil stays nil.
func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// =============================================================================
// ERROR DISPLAY HELPERS
// =============================================================================

// DisplayError writes err to w: a JSON envelope in JSON mode, one line
// otherwise. Errors already shown by the command are skipped.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	var re *reportedError
	if errors.As(err, &re) {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, nil, err).Write(w)
		return
	}
	fmt.Fprintf(w, "[ERROR] %s\n", err.Error())
}

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.Code != 0 {
		return ce.Code
	}
	return toolerr.ExitCode(toolerr.KindOf(err))
}
