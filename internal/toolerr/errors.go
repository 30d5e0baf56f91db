// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolerr defines the error taxonomy shared by every tool component.
//
// Every failure that crosses a component boundary is a *Error carrying a Kind.
// Callers branch on the Kind, never on message text.
package toolerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies a tool failure.
type Kind string

const (
	InvalidParameters Kind = "InvalidParameters"
	ToolNotFound      Kind = "ToolNotFound"
	PermissionDenied  Kind = "PermissionDenied"
	UnsafeCommand     Kind = "UnsafeCommand"
	NoMatchFound      Kind = "NoMatchFound"
	AmbiguousMatch    Kind = "AmbiguousMatch"
	ContentTooLarge   Kind = "ContentTooLarge"
	Timeout           Kind = "Timeout"
	// ExecutionFailed is the catch-all for I/O and process errors.
	ExecutionFailed Kind = "ExecutionFailed"
	// Aborted means the caller cancelled the operation.
	Aborted Kind = "Aborted"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{
	InvalidParameters, ToolNotFound, PermissionDenied, UnsafeCommand,
	NoMatchFound, AmbiguousMatch, ContentTooLarge, Timeout,
	ExecutionFailed, Aborted,
}

// =============================================================================
// EXIT CODES
// =============================================================================

// Exit codes follow the rigrun CLI numbering where one already exists.
const (
	ExitSuccess          = 0
	ExitExecutionFailed  = 1
	ExitInvalidParams    = 2
	ExitPermissionDenied = 6
	ExitToolNotFound     = 7
	ExitTimeout          = 8
	ExitUnsafeCommand    = 9
	ExitNoMatch          = 10
	ExitAmbiguousMatch   = 11
	ExitContentTooLarge  = 12
	ExitAborted          = 130
)

// ExitCode maps a kind to a process exit code. The empty kind is success.
func ExitCode(kind Kind) int {
	switch kind {
	case "":
		return ExitSuccess
	case InvalidParameters:
		return ExitInvalidParams
	case ToolNotFound:
		return ExitToolNotFound
	case PermissionDenied:
		return ExitPermissionDenied
	case UnsafeCommand:
		return ExitUnsafeCommand
	case NoMatchFound:
		return ExitNoMatch
	case AmbiguousMatch:
		return ExitAmbiguousMatch
	case ContentTooLarge:
		return ExitContentTooLarge
	case Timeout:
		return ExitTimeout
	case Aborted:
		return ExitAborted
	default:
		return ExitExecutionFailed
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a structured tool failure.
type Error struct {
	Kind    Kind
	Message string

	// Context needed to act on the failure. All optional.
	Tool    string
	Path    string
	Risk    string
	Details map[string]any

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Path != "" {
		b.WriteString(" (path: ")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// With returns the error after setting a detail key. It mutates e.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Fields renders the context as sorted key=value pairs for display.
func (e *Error) Fields() []string {
	var out []string
	if e.Tool != "" {
		out = append(out, "tool="+e.Tool)
	}
	if e.Path != "" {
		out = append(out, "path="+e.Path)
	}
	if e.Risk != "" {
		out = append(out, "risk="+e.Risk)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return out
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
// An existing *Error is returned unchanged so the original kind survives.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err. Foreign errors are ExecutionFailed; nil is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ExecutionFailed
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As extracts a *Error, converting foreign errors into ExecutionFailed.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: ExecutionFailed, Message: err.Error(), Err: err}
}
