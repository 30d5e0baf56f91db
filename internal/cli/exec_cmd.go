// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/tools"
)

// DefaultSessionID is used when exec is given no --session.
const DefaultSessionID = "cli"

// =============================================================================
// EXEC COMMAND
// =============================================================================

func newExecCommand(opts *Options) *cobra.Command {
	var (
		pairs    []string
		argsJSON string
		session  string
		id       string
		yes      bool
		compact  bool
	)

	cmd := &cobra.Command{
		Use:   "exec <tool>",
		Short: "Run one tool invocation through the guard",
		Long: "Run one tool invocation. Arguments come from --args-json (a JSON object, " +
			"or - to read it from stdin) and repeated --arg key=value flags, which win. " +
			"A value that parses as JSON is used as such, otherwise it is a string. " +
			"The outcome is printed as JSON and the exit code reflects the error kind.",
		Example: `  rigrun-guard exec Read --arg file_path=main.go --arg limit=20
  rigrun-guard exec Bash --arg command='go test ./...' --yes
  echo '{"file_path":"a.txt","content":"hi\n"}' | rigrun-guard exec Write --args-json -`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(argsJSON, pairs, cmd.InOrStdin())
			if err != nil {
				return err
			}

			st, cleanup, err := opts.stack("exec")
			if err != nil {
				return err
			}
			defer cleanup()

			policy := st.Policy
			switch {
			case yes:
				policy.Confirmer = permission.AutoApprove(risk.High)
			case st.Config.Policy.Interactive && cmd.InOrStdin() == os.Stdin:
				policy.Confirmer = permission.NewTerminalConfirmer()
			case st.Config.Policy.Interactive:
				policy.Confirmer = &permission.TerminalConfirmer{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
			}
			st.Permissions.OpenSession(session, policy)
			defer st.Permissions.CloseSession(session)

			out, err := st.Executor.Execute(cmd.Context(), tools.Invocation{
				ID:        id,
				Tool:      args[0],
				Args:      toolArgs,
				SessionID: session,
			})

			resp := NewJSONResponse("exec", out)
			if err != nil {
				resp = NewJSONErrorResponse("exec", out, err)
			}
			write := resp.Write
			if compact {
				write = resp.WriteCompact
			}
			if werr := write(cmd.OutOrStdout()); werr != nil {
				return werr
			}
			return reported(err)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&pairs, "arg", "a", nil, "Tool argument as key=value (repeatable)")
	f.StringVar(&argsJSON, "args-json", "", "Tool arguments as a JSON object, or - for stdin")
	f.StringVarP(&session, "session", "s", DefaultSessionID, "Session ID recorded in the audit log")
	f.StringVar(&id, "id", "", "Invocation ID (default: a random UUID)")
	f.BoolVarP(&yes, "yes", "y", false, "Approve operations up to High risk without prompting")
	f.BoolVar(&compact, "compact", false, "Print the outcome as a single JSON line")
	return cmd
}

// parseToolArgs merges --args-json and --arg pairs into one object.
func parseToolArgs(argsJSON string, pairs []string, stdin io.Reader) (map[string]any, error) {
	out := map[string]any{}

	if argsJSON != "" {
		raw := []byte(argsJSON)
		if argsJSON == "-" {
			var err error
			raw, err = io.ReadAll(stdin)
			if err != nil {
				return nil, usageError("read arguments from stdin: %v", err)
			}
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, usageError("--args-json must be a JSON object: %v", err)
		}
		if out == nil {
			out = map[string]any{}
		}
	}

	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageError("--arg %q: expected key=value", p)
		}
		out[key] = argValue(value)
	}
	return out, nil
}

// argValue decodes value as JSON when it is a number, boolean, array or
// object. Anything else, including bare words, is a string.
func argValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	switch trimmed[0] {
	case '{', '[', 't', 'f', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil && !dec.More() {
			return v
		}
	}
	return value
}
