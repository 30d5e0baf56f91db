// json_output.go - JSON output for machine consumers of the CLI.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// JSONResponse is the envelope printed by exec and the --json forms of the
// other commands.
type JSONResponse struct {
	Success bool `json:"success"`

	// Data is the command-specific payload. A failed exec may still carry
	// partial output here.
	Data any `json:"data"`

	Error *ErrorBody `json:"error"`

	// Timestamp is RFC3339 UTC.
	Timestamp string `json:"timestamp"`
	Command   string `json:"command,omitempty"`
}

// ErrorBody is the structured form of a *toolerr.Error.
type ErrorBody struct {
	Kind     toolerr.Kind   `json:"kind"`
	Message  string         `json:"message"`
	Tool     string         `json:"tool,omitempty"`
	Path     string         `json:"path,omitempty"`
	Risk     string         `json:"risk,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	ExitCode int            `json:"exit_code"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response. data may be nil.
func NewJSONErrorResponse(command string, data any, err error) *JSONResponse {
	return &JSONResponse{
		Success:   false,
		Data:      data,
		Error:     errorBody(err),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

func errorBody(err error) *ErrorBody {
	te := toolerr.As(err)
	if te == nil {
		return nil
	}
	body := &ErrorBody{
		Kind:     te.Kind,
		Message:  te.Message,
		Tool:     te.Tool,
		Path:     te.Path,
		Risk:     te.Risk,
		ExitCode: toolerr.ExitCode(te.Kind),
	}
	if len(te.Details) > 0 {
		body.Details = make(map[string]any, len(te.Details))
		for k, v := range te.Details {
			// Executions are already in data.
			if k == "execution" {
				continue
			}
			body.Details[k] = v
		}
	}
	if te.Err != nil && te.Message != te.Err.Error() {
		body.Message += ": " + te.Err.Error()
	}
	return body
}

// Write encodes the response to w, indented.
func (r *JSONResponse) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// WriteCompact encodes the response on one line.
func (r *JSONResponse) WriteCompact(w io.Writer) error {
	return json.NewEncoder(w).Encode(r)
}
