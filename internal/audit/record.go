// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"time"
)

// =============================================================================
// AUDIT RECORD
// =============================================================================

// Record is one tool invocation as seen by the audit log. Exactly one record
// is appended per invocation, whatever its outcome.
type Record struct {
	Seq           uint64      `json:"seq"`
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	Tool          string      `json:"tool"`
	Risk          string      `json:"risk,omitempty"`
	Decision      string      `json:"decision,omitempty"`
	Justification string      `json:"justification,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	EndedAt       time.Time   `json:"ended_at"`
	DurationMS    int64       `json:"duration_ms"`
	Outcome       Outcome     `json:"outcome"`
	Environment   Environment `json:"environment"`
}

// Outcome summarises how the invocation ended.
type Outcome struct {
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Environment is the execution context the invocation ran under.
type Environment struct {
	WorkDir          string   `json:"work_dir,omitempty"`
	ConstrainedPaths []string `json:"constrained_paths,omitempty"`
}

// TimeRange bounds a query by StartedAt. Both ends are inclusive and a zero
// bound is unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// matches applies the session and time filters shared by every store.
// An empty session id matches all sessions.
func matches(rec *Record, sessionID string, tr TimeRange) bool {
	if sessionID != "" && rec.SessionID != sessionID {
		return false
	}
	return tr.Contains(rec.StartedAt)
}
