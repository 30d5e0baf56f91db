// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-guard/internal/audit"
)

// =============================================================================
// AUDIT COMMAND
// =============================================================================

func newAuditCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditQueryCommand(opts))
	return cmd
}

func newAuditQueryCommand(opts *Options) *cobra.Command {
	var (
		session string
		since   string
		until   string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print audit records as JSON lines, oldest first",
		Long: "Print the audit records for a session within a time range. --since and " +
			"--until take an RFC3339 timestamp or a duration measured back from now " +
			"(e.g. 30m). An empty --session matches every session.",
		Example: `  rigrun-guard audit query --session cli --since 1h
  rigrun-guard audit query --since 2025-01-02T00:00:00Z --until 2025-01-03T00:00:00Z`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			var tr audit.TimeRange
			var err error
			if tr.From, err = parseTimeFlag("since", since, now); err != nil {
				return err
			}
			if tr.To, err = parseTimeFlag("until", until, now); err != nil {
				return err
			}
			if !tr.From.IsZero() && !tr.To.IsZero() && tr.To.Before(tr.From) {
				return usageError("--until is before --since")
			}

			st, cleanup, err := opts.stack("audit")
			if err != nil {
				return err
			}
			defer cleanup()

			recs, err := st.Audit.Query(cmd.Context(), session, tr)
			if err != nil {
				return NewCommandError("audit", "query", "could not read audit log", err)
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := range recs {
				if err := enc.Encode(&recs[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&session, "session", "s", "", "Session ID (default: all sessions)")
	f.StringVar(&since, "since", "", "Earliest start time, inclusive")
	f.StringVar(&until, "until", "", "Latest start time, inclusive")
	f.IntVarP(&limit, "limit", "n", 0, "Print only the last N records")
	return cmd
}

// parseTimeFlag accepts RFC3339 or a duration before now. Empty is unbounded.
func parseTimeFlag(name, value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, usageError("--%s %q: want RFC3339 or a duration such as 30m", name, value)
}
