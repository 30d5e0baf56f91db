// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-guard/internal/logging"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout applies when a command does not ask for one.
	DefaultTimeout = 2 * time.Minute
	// MaxTimeout is the largest timeout a command may ask for.
	MaxTimeout = 10 * time.Minute
	// DefaultGracePeriod is how long SIGTERM is given before SIGKILL.
	DefaultGracePeriod = 2 * time.Second
	// DefaultMaxOutput is the per-stream capture ceiling in bytes.
	DefaultMaxOutput = 30 * 1024
	// MaxCommandLength bounds the command string.
	MaxCommandLength = 10000
)

// devicePaths may be named by any command regardless of confinement.
var devicePaths = map[string]bool{
	"/dev/null":    true,
	"/dev/zero":    true,
	"/dev/stdin":   true,
	"/dev/stdout":  true,
	"/dev/stderr":  true,
	"/dev/tty":     true,
	"/dev/random":  true,
	"/dev/urandom": true,
}

// =============================================================================
// CONFIG
// =============================================================================

// Config configures a Sandbox.
type Config struct {
	// Root is the directory commands are confined to.
	Root string
	// AllowedPaths are extra directories arguments may point into.
	AllowedPaths []string
	// DenyRules are appended to the built-in deny rules.
	DenyRules []risk.Rule

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	GracePeriod    time.Duration
	MaxOutput      int

	// Shell runs the command as Shell -c. Empty means bash.
	Shell string
	// Env is appended to the sanitised parent environment.
	Env []string
}

// Spec is one command to run.
type Spec struct {
	Command string
	WorkDir string
	// Timeout of zero uses the configured default.
	Timeout time.Duration
}

// CommandExecution is the observable result of running a command. A
// non-zero ExitCode is a normal result, not an error.
type CommandExecution struct {
	Command         string        `json:"command"`
	WorkDir         string        `json:"work_dir"`
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
	StdoutBytes     int64         `json:"stdout_bytes"`
	StderrBytes     int64         `json:"stderr_bytes"`
	Duration        time.Duration `json:"duration_ns"`
	TimedOut        bool          `json:"timed_out,omitempty"`
}

// Checked is a command that passed Check.
type Checked struct {
	Command string
	WorkDir string
}

// =============================================================================
// SANDBOX
// =============================================================================

// Sandbox validates and runs shell commands under a confinement root.
type Sandbox struct {
	cfg    Config
	root   string
	allow  []string
	deny   []risk.Rule
	logger *zap.Logger
}

// New resolves the root and compiles deny rules.
func New(cfg Config, logger *zap.Logger) (*Sandbox, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}
	root, err := risk.ResolvePath(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	allow := []string{root}
	for _, p := range cfg.AllowedPaths {
		r, err := risk.ResolvePath(p)
		if err != nil {
			return nil, fmt.Errorf("resolve allowed path %q: %w", p, err)
		}
		allow = append(allow, r)
	}
	deny, err := risk.CompileDenyRules(cfg.DenyRules)
	if err != nil {
		return nil, fmt.Errorf("compile deny rules: %w", err)
	}

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = MaxTimeout
	}
	if cfg.DefaultTimeout > cfg.MaxTimeout {
		return nil, fmt.Errorf("default timeout %s exceeds max timeout %s", cfg.DefaultTimeout, cfg.MaxTimeout)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}

	return &Sandbox{cfg: cfg, root: root, allow: allow, deny: deny, logger: logging.OrNop(logger)}, nil
}

// Root returns the resolved confinement root.
func (s *Sandbox) Root() string { return s.root }

// AllowedPaths returns the root and every extra allowed directory.
func (s *Sandbox) AllowedPaths() []string { return append([]string(nil), s.allow...) }

// MaxTimeout returns the configured timeout ceiling.
func (s *Sandbox) MaxTimeout() time.Duration { return s.cfg.MaxTimeout }

// Check validates command and workDir without running anything. It is the
// first gate for shell commands, ahead of risk classification, and returns
// the normalised command and resolved working directory.
func (s *Sandbox) Check(command, workDir string) (Checked, error) {
	if strings.ContainsRune(command, 0) {
		return Checked{}, toolerr.New(toolerr.UnsafeCommand, "command contains a null byte")
	}
	normalized := risk.NormalizeCommand(command)
	if strings.TrimSpace(normalized) == "" {
		return Checked{}, toolerr.New(toolerr.InvalidParameters, "command is required")
	}
	if len(normalized) > MaxCommandLength {
		return Checked{}, toolerr.Newf(toolerr.ContentTooLarge,
			"command is %d bytes (limit %d)", len(normalized), MaxCommandLength).
			With("size", len(normalized)).With("limit", MaxCommandLength)
	}

	for i := range s.deny {
		if s.deny[i].Match(normalized) {
			s.logger.Warn("command denied", zap.String("rule", s.deny[i].Name), zap.String("command", normalized))
			return Checked{}, toolerr.Newf(toolerr.UnsafeCommand, "command blocked: %s", s.deny[i].Message).
				With("rule", s.deny[i].Name)
		}
	}

	segments, err := risk.Words(normalized)
	if err != nil {
		return Checked{}, toolerr.Wrap(toolerr.UnsafeCommand, err, "command cannot be parsed safely").
			With("rule", "unparsable")
	}
	if risk.RecursiveRootDelete(normalized) {
		s.logger.Warn("command denied", zap.String("rule", "recursive-root-delete"), zap.String("command", normalized))
		return Checked{}, toolerr.New(toolerr.UnsafeCommand, "command blocked: recursive delete of a root-level path").
			With("rule", "recursive-root-delete")
	}

	dir, err := s.resolveWorkDir(workDir)
	if err != nil {
		return Checked{}, err
	}
	if err := s.checkArguments(segments, dir); err != nil {
		return Checked{}, err
	}
	return Checked{Command: normalized, WorkDir: dir}, nil
}

func (s *Sandbox) resolveWorkDir(workDir string) (string, error) {
	if workDir == "" {
		workDir = s.root
	} else if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(s.root, workDir)
	}
	dir, err := risk.ResolvePath(workDir)
	if err != nil {
		return "", toolerr.Wrap(toolerr.InvalidParameters, err, "cannot resolve working directory")
	}
	if !risk.WithinAny(dir, s.allow) {
		e := toolerr.Newf(toolerr.UnsafeCommand, "working directory is outside %s", s.root)
		e.Path = dir
		return "", e
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		e := toolerr.New(toolerr.InvalidParameters, "working directory does not exist")
		e.Path = dir
		return "", e
	}
	return dir, nil
}

// checkArguments rejects arguments that name paths outside the allowed
// directories, including arguments of commands inside substitutions.
// Words that cannot be seen statically, such as $VAR expansions, are left
// to the classifier.
func (s *Sandbox) checkArguments(segments [][]string, workDir string) error {
	home, _ := os.UserHomeDir()
	for _, words := range segments {
		for i, w := range words {
			if i == 0 {
				continue // the program itself
			}
			if strings.HasPrefix(w, "-") {
				eq := strings.IndexByte(w, '=')
				if eq < 0 {
					continue
				}
				w = w[eq+1:]
			}
			p, ok := pathLike(w, home)
			if !ok || devicePaths[p] {
				continue
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(workDir, p)
			}
			resolved, err := risk.ResolvePath(p)
			if err != nil {
				continue
			}
			if !risk.WithinAny(resolved, s.allow) {
				e := toolerr.Newf(toolerr.UnsafeCommand, "argument %q points outside %s", w, s.root)
				e.Path = resolved
				return e
			}
		}
	}
	return nil
}

// pathLike reports whether w is an absolute, home-relative or
// parent-escaping path, returning it with ~ expanded.
func pathLike(w, home string) (string, bool) {
	switch {
	case w == "~" || strings.HasPrefix(w, "~/"):
		if home == "" {
			return "", false
		}
		return filepath.Join(home, strings.TrimPrefix(w, "~")), true
	case filepath.IsAbs(w):
		return w, true
	case w == ".." || strings.HasPrefix(w, "../") || strings.Contains(w, "/../") || strings.HasSuffix(w, "/.."):
		return w, true
	}
	return "", false
}

// =============================================================================
// RUN
// =============================================================================

// Run checks and executes spec. The command runs on its own goroutine and
// process group; on timeout the group gets SIGTERM, then SIGKILL after the
// grace period, and a Timeout error carrying the partial execution under
// Details["execution"] is returned. Caller cancellation does the same and
// returns Aborted.
func (s *Sandbox) Run(ctx context.Context, spec Spec) (CommandExecution, error) {
	checked, err := s.Check(spec.Command, spec.WorkDir)
	if err != nil {
		return CommandExecution{}, err
	}
	timeout, err := s.timeout(spec.Timeout)
	if err != nil {
		return CommandExecution{}, err
	}
	if err := ctx.Err(); err != nil {
		return CommandExecution{}, toolerr.Wrap(toolerr.Aborted, err, "cancelled before start")
	}

	argv := shellArgs(s.cfg.Shell, checked.Command)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = checked.WorkDir
	cmd.Env = sanitizeEnvironment(s.cfg.Env)
	stdout := newCappedBuffer(s.cfg.MaxOutput)
	stderr := newCappedBuffer(s.cfg.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// background children holding the pipes must not keep Wait blocked
	cmd.WaitDelay = s.cfg.GracePeriod
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return CommandExecution{}, toolerr.Wrap(toolerr.ExecutionFailed, err, "failed to start command")
	}
	s.logger.Debug("command started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("work_dir", checked.WorkDir),
		zap.Duration("timeout", timeout))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	var stopped toolerr.Kind
	select {
	case waitErr = <-done:
	case <-timer.C:
		stopped = toolerr.Timeout
		waitErr = s.stop(cmd, done)
	case <-ctx.Done():
		stopped = toolerr.Aborted
		waitErr = s.stop(cmd, done)
	}

	res := s.result(checked, stdout, stderr, time.Since(start))
	res.ExitCode = exitCode(waitErr)

	switch stopped {
	case toolerr.Timeout:
		res.TimedOut = true
		s.logger.Info("command timed out", zap.Duration("timeout", timeout), zap.String("command", checked.Command))
		return res, toolerr.Newf(toolerr.Timeout, "command timed out after %s", timeout).
			With("execution", res).With("timeout_ms", timeout.Milliseconds())
	case toolerr.Aborted:
		return res, toolerr.New(toolerr.Aborted, "command cancelled").With("execution", res)
	}

	var exitErr *exec.ExitError
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// the shell exited; a leftover child kept the output pipes open
		s.logger.Debug("output pipes held open after exit", zap.String("command", checked.Command))
		return res, nil
	}
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, toolerr.Wrap(toolerr.ExecutionFailed, waitErr, "command failed")
	}
	return res, nil
}

func (s *Sandbox) timeout(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, toolerr.New(toolerr.InvalidParameters, "timeout must not be negative")
	case requested == 0:
		return s.cfg.DefaultTimeout, nil
	case requested > s.cfg.MaxTimeout:
		return 0, toolerr.Newf(toolerr.InvalidParameters, "timeout %s exceeds the maximum of %s", requested, s.cfg.MaxTimeout).
			With("max_timeout_ms", s.cfg.MaxTimeout.Milliseconds())
	}
	return requested, nil
}

// stop sends SIGTERM, waits out the grace period, then SIGKILLs. It always
// waits for the child to be reaped.
func (s *Sandbox) stop(cmd *exec.Cmd, done <-chan error) error {
	if err := terminate(cmd); err != nil {
		s.logger.Debug("terminate failed", zap.Error(err))
	}
	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
	}
	if err := kill(cmd); err != nil {
		s.logger.Warn("kill failed", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
	return <-done
}

func (s *Sandbox) result(c Checked, stdout, stderr *cappedBuffer, d time.Duration) CommandExecution {
	out, outTrunc, outBytes := stdout.snapshot()
	errOut, errTrunc, errBytes := stderr.snapshot()
	return CommandExecution{
		Command:         c.Command,
		WorkDir:         c.WorkDir,
		Stdout:          out,
		Stderr:          errOut,
		StdoutTruncated: outTrunc,
		StderrTruncated: errTrunc,
		StdoutBytes:     outBytes,
		StderrBytes:     errBytes,
		Duration:        d,
	}
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
