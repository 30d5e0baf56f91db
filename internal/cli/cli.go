// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-guard/internal/config"
	"github.com/jeranaias/rigrun-guard/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	Root       string
	LogLevel   string
	JSON       bool
}

// loadConfig reads the config file and applies flag overrides.
func (o *Options) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.LoadFromPath(o.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.Root != "" {
		cfg.Project.Root = o.Root
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// stack loads config and builds every component. The returned cleanup
// closes the audit log and flushes the logger.
func (o *Options) stack(command string) (*Stack, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, configError(command, err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, configError(command, err)
	}
	st, err := BuildStack(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, configError(command, err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("close audit log", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return st, cleanup, nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand wires the cobra command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "rigrun-guard",
		Short: "Permission-checked, audited tool execution for coding agents",
		Long: "rigrun-guard runs agent tool calls (Read, Write, Edit, MultiEdit, Bash) " +
			"through risk classification, a permission policy and a sandbox, and " +
			"records every invocation in an audit log.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (default $RIGRUN_GUARD_CONFIG or ~/.rigrun/guard.toml)")
	pf.StringVar(&opts.Root, "root", "", "Project root (default from config, then the current directory)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&opts.JSON, "json", false, "Machine-readable output")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	root.AddCommand(
		newExecCommand(opts),
		newAuditCommand(opts),
		newClassifyCommand(opts),
		newToolsCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Run executes the CLI and returns the process exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err != nil {
		name := root.Name()
		if cmd != nil {
			name = cmd.Name()
		}
		if strings.HasPrefix(err.Error(), "unknown command") {
			err = usageError("%v", err)
		}
		jsonMode, _ := root.PersistentFlags().GetBool("json")
		DisplayError(stderr, name, err, jsonMode)
	}
	return GetExitCode(err)
}

// exactArgs is cobra.ExactArgs with a usage exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError("%s accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "rigrun-guard %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}
