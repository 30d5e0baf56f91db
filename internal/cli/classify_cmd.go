// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-guard/internal/risk"
)

// =============================================================================
// CLASSIFY COMMAND
// =============================================================================

// ClassifyData is the --json payload of classify.
type ClassifyData struct {
	Operation string          `json:"operation"`
	Target    string          `json:"target"`
	Risk      risk.Assessment `json:"risk"`
}

func newClassifyCommand(opts *Options) *cobra.Command {
	var (
		fileOp  string
		workDir string
	)

	cmd := &cobra.Command{
		Use:   "classify <command...>",
		Short: "Show the risk level of a command or file operation",
		Long: "Classify a shell command, or with --file a file operation on the given " +
			"path. Commands are checked against the sandbox deny list first; a " +
			"refused command exits with the UnsafeCommand code.",
		Example: `  rigrun-guard classify "git push --force origin main"
  rigrun-guard classify --file write /etc/hosts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError("classify requires a command or, with --file, a path")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return configError("classify", err)
			}
			classifier, sb, err := buildGuards(cfg, nil)
			if err != nil {
				return configError("classify", err)
			}

			data := ClassifyData{Operation: "command", Target: strings.Join(args, " ")}
			if fileOp != "" {
				kind, err := parseFileKind(fileOp)
				if err != nil {
					return err
				}
				if len(args) != 1 {
					return usageError("--file takes exactly one path")
				}
				path := args[0]
				if !filepath.IsAbs(path) {
					path = filepath.Join(classifier.Root(), path)
				}
				data.Operation = string(kind)
				data.Target = path
				data.Risk = classifier.Classify(risk.FileOperation{Kind: kind, Path: path})
			} else {
				checked, err := sb.Check(data.Target, workDir)
				if err != nil {
					return err
				}
				data.Risk = classifier.Classify(risk.CommandOperation{Command: checked.Command, WorkDir: checked.WorkDir})
			}

			if opts.JSON {
				return NewJSONResponse("classify", data).Write(cmd.OutOrStdout())
			}
			line := fmt.Sprintf("%s\t%s", data.Risk.Level, data.Risk.Reason)
			if data.Risk.Rule != "" {
				line += fmt.Sprintf(" [%s]", data.Risk.Rule)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}

	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&fileOp, "file", "", "Classify a file operation instead: read, write or edit")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Working directory for the command (default: project root)")
	return cmd
}

func parseFileKind(s string) (risk.FileKind, error) {
	switch k := risk.FileKind(strings.ToLower(s)); k {
	case risk.FileRead, risk.FileWrite, risk.FileEdit:
		return k, nil
	default:
		return "", usageError("--file %q: want read, write or edit", s)
	}
}
