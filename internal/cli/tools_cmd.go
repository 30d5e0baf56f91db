// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-guard/internal/multiedit"
)

// =============================================================================
// TOOLS COMMAND
// =============================================================================

func newToolsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available under the current configuration",
		Long: "List the registered tools after capability filtering and disabling. " +
			"With --json the descriptors include each tool's JSON Schema.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return configError("tools", err)
			}
			classifier, sb, err := buildGuards(cfg, nil)
			if err != nil {
				return configError("tools", err)
			}
			registry, err := buildRegistry(cfg, classifier.Root(), multiedit.NewCoordinator(cfg.Limits.MaxFileSize, nil), sb)
			if err != nil {
				return configError("tools", err)
			}

			if opts.JSON {
				return NewJSONResponse("tools", registry.Describe()).Write(cmd.OutOrStdout())
			}
			out := cmd.OutOrStdout()
			for _, t := range registry.All() {
				caps := make([]string, len(t.Capabilities))
				for i, c := range t.Capabilities {
					caps[i] = string(c)
				}
				fmt.Fprintf(out, "%-10s %-6s %-36s %s\n",
					t.Name, registry.Requirement(t.Name), strings.Join(caps, ","), t.GetShortDescription())
			}
			return nil
		},
	}
}
