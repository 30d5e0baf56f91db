// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// DefaultMaxFileSize is the ceiling on a file's size after a write or edit.
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// maxShellDepth bounds recursion into "sh -c" arguments.
const maxShellDepth = 4

// assignPattern matches a leading NAME=value environment assignment.
var assignPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// flagTakesValue lists wrappers whose short flags consume the next word.
var flagTakesValue = newSet("nice", "xargs", "timeout", "ionice")

// =============================================================================
// OPERATIONS
// =============================================================================

// Operation is a proposed side effect to classify.
type Operation interface {
	isOperation()
}

// FileKind distinguishes file operations.
type FileKind string

const (
	FileRead  FileKind = "read"
	FileWrite FileKind = "write"
	FileEdit  FileKind = "edit"
)

// FileOperation targets a single file.
type FileOperation struct {
	Kind    FileKind
	Path    string
	NewSize int64 // size after the change; unused for reads
}

// CommandOperation runs a shell command.
type CommandOperation struct {
	Command string
	WorkDir string // defaults to the project root
}

func (FileOperation) isOperation()    {}
func (CommandOperation) isOperation() {}

// Assessment is the classifier's verdict.
type Assessment struct {
	Level  Level  `json:"level"`
	Reason string `json:"reason"`
	Rule   string `json:"rule,omitempty"`
}

func assess(level Level, rule, reason string) Assessment {
	return Assessment{Level: level, Rule: rule, Reason: reason}
}

// higher keeps the first of equal assessments.
func higher(a, b Assessment) Assessment {
	if b.Level > a.Level {
		return b
	}
	return a
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// Config configures a Classifier.
type Config struct {
	ProjectRoot string
	MaxFileSize int64 // 0 means DefaultMaxFileSize

	// ProtectedPatterns are globs matched against the slash-separated absolute path.
	ProtectedPatterns []string
	// ProtectedExtensions are matched case-insensitively, with leading dot.
	ProtectedExtensions []string

	Rules    []Rule
	Programs ProgramTables
}

// DefaultProtectedPatterns cover credential and key material.
var DefaultProtectedPatterns = []string{
	"**/.env", "**/.env.*", "**/.ssh/**", "**/.aws/**", "**/.azure/**",
	"**/.gcloud/**", "**/.kube/config", "**/.gnupg/**", "**/id_rsa*",
	"**/id_ed25519*", "**/id_ecdsa*", "**/authorized_keys", "**/.git/config",
	"**/.git-credentials", "**/.netrc", "**/.npmrc", "**/.pypirc",
	"**/credentials*", "**/secrets*", "**/*password*",
}

// DefaultProtectedExtensions cover keys, certificates and binaries.
var DefaultProtectedExtensions = []string{
	".pem", ".key", ".p12", ".pfx", ".crt", ".cer", ".jks", ".keystore", ".kdbx",
	".exe", ".dll", ".so", ".dylib", ".bin", ".o", ".a",
}

// Classifier maps operations to risk levels. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	root        string
	maxFileSize int64
	protected   []glob.Glob
	protExt     stringSet
	rules       []Rule

	low, medium, high, critical stringSet
}

// NewClassifier builds a classifier. Default rules and tables always apply;
// cfg adds to them.
func NewClassifier(cfg Config) (*Classifier, error) {
	root := cfg.ProjectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		root = wd
	}
	resolved, err := ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	c := &Classifier{
		root:        resolved,
		maxFileSize: cfg.MaxFileSize,
		protExt:     newSet(),
		low:         informationalPrograms.clone(),
		medium:      buildPrograms.clone(),
		high:        networkPrograms.clone(),
		critical:    privilegePrefixes.clone(),
	}
	if c.maxFileSize <= 0 {
		c.maxFileSize = DefaultMaxFileSize
	}

	patterns := cfg.ProtectedPatterns
	if len(patterns) == 0 {
		patterns = DefaultProtectedPatterns
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("protected pattern %q: %w", p, err)
		}
		c.protected = append(c.protected, g)
	}

	exts := cfg.ProtectedExtensions
	if len(exts) == 0 {
		exts = DefaultProtectedExtensions
	}
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		c.protExt.add(e)
	}

	c.rules, err = compileRules(append(DefaultRules(), cfg.Rules...))
	if err != nil {
		return nil, err
	}

	c.low.add(cfg.Programs.Low...)
	c.medium.add(cfg.Programs.Medium...)
	c.high.add(cfg.Programs.High...)
	c.critical.add(cfg.Programs.Critical...)
	return c, nil
}

// Root returns the resolved project root.
func (c *Classifier) Root() string { return c.root }

// MaxFileSize returns the size ceiling in bytes.
func (c *Classifier) MaxFileSize() int64 { return c.maxFileSize }

// CheckSize enforces the size ceiling. It is a hard boundary rather than a
// tier, so callers run it before Classify.
func (c *Classifier) CheckSize(op Operation) error {
	fop, ok := op.(FileOperation)
	if !ok || fop.Kind == FileRead {
		return nil
	}
	if fop.NewSize > c.maxFileSize {
		return toolerr.Newf(toolerr.ContentTooLarge,
			"resulting file is %d bytes, limit is %d", fop.NewSize, c.maxFileSize).
			With("size", fop.NewSize).With("limit", c.maxFileSize)
	}
	return nil
}

// Classify returns the risk assessment for op. It is deterministic and total.
func (c *Classifier) Classify(op Operation) Assessment {
	switch o := op.(type) {
	case FileOperation:
		return c.classifyFile(o)
	case CommandOperation:
		return c.classifyCommand(o)
	default:
		return assess(High, "unknown-operation", "operation type not recognised")
	}
}

// ClassifyAll returns the highest assessment over ops. No operations is Low.
func (c *Classifier) ClassifyAll(ops []Operation) Assessment {
	out := assess(Low, "no-op", "no side effects")
	for i, op := range ops {
		a := c.Classify(op)
		if i == 0 {
			out = a
			continue
		}
		out = higher(out, a)
	}
	return out
}

// =============================================================================
// FILE CLASSIFICATION
// =============================================================================

func (c *Classifier) classifyFile(op FileOperation) Assessment {
	path, err := ResolvePath(op.Path)
	if err != nil {
		return assess(High, "unresolvable-path", "path cannot be resolved: "+err.Error())
	}

	if c.isProtected(path) {
		return assess(High, "protected-file", "matches a protected file pattern")
	}
	if isSystemPath(path) {
		return assess(High, "system-path", "targets a system directory")
	}

	if Within(path, c.root) {
		return assess(Low, "inside-project", "inside the project root")
	}
	if op.Kind == FileRead {
		return assess(Medium, "outside-project", "outside the project root")
	}
	if userWritable(path) {
		return assess(Medium, "outside-project", "outside the project root but user-writable")
	}
	return assess(High, "not-writable", "outside the project root and not user-writable")
}

func (c *Classifier) isProtected(path string) bool {
	slashed := filepath.ToSlash(path)
	if c.protExt.has(strings.ToLower(filepath.Ext(slashed))) {
		return true
	}
	for _, g := range c.protected {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// userWritable reports whether the file, or its nearest existing parent when
// the file does not exist, is writable by the current user.
func userWritable(path string) bool {
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			return writable(cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return false
		}
		cur = parent
	}
}

// =============================================================================
// COMMAND CLASSIFICATION
// =============================================================================

// NormalizeCommand applies NFKC so look-alike Unicode cannot dodge the rules.
func NormalizeCommand(command string) string {
	return norm.NFKC.String(command)
}

func (c *Classifier) classifyCommand(op CommandOperation) Assessment {
	workDir := op.WorkDir
	if workDir == "" {
		workDir = c.root
	} else if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(c.root, workDir)
	}
	return c.classifyString(NormalizeCommand(op.Command), workDir, 0)
}

func (c *Classifier) classifyString(command, workDir string, depth int) Assessment {
	if strings.TrimSpace(command) == "" {
		return assess(High, "empty-command", "empty command cannot be classified")
	}
	if depth > maxShellDepth {
		return assess(High, "nested-shell", "shell nesting too deep to classify")
	}

	var best Assessment
	matched := false
	for i := range c.rules {
		r := &c.rules[i]
		if r.Match(command) {
			a := assess(r.Level, r.Name, r.Message)
			if !matched {
				best, matched = a, true
			} else {
				best = higher(best, a)
			}
		}
	}

	prog, err := parseCommand(command)
	if err != nil {
		a := assess(High, "unparsable", "cannot parse command safely: "+err.Error())
		if matched {
			return higher(best, a)
		}
		return a
	}

	for _, seg := range prog.segments {
		a := c.classifySegment(seg, workDir, depth)
		if !matched {
			best, matched = a, true
		} else {
			best = higher(best, a)
		}
	}
	if prog.substituted && matched {
		best = higher(best, assess(High, "command-substitution", "substituted output cannot be classified statically"))
	}

	if !matched {
		return assess(High, "empty-command", "no command found")
	}
	return best
}

func (c *Classifier) classifySegment(seg segment, workDir string, depth int) Assessment {
	out := c.classifyArgs(seg.args, workDir, depth)
	for _, target := range seg.writes {
		out = higher(out, c.classifyRedirect(target, workDir))
	}
	return out
}

func (c *Classifier) classifyRedirect(target, workDir string) Assessment {
	if deviceSinks.has(target) {
		return assess(Low, "device-sink", "discards output")
	}
	if !c.pathInsideRoot(target, workDir) {
		return assess(High, "write-outside-project", "redirects output outside the project root")
	}
	return assess(Medium, "redirect-write", "writes a file inside the project")
}

func (c *Classifier) classifyArgs(args []string, workDir string, depth int) Assessment {
	if len(args) == 0 {
		return assess(Low, "no-op", "no program invoked")
	}

	prog := filepath.Base(args[0])
	rest := args[1:]

	if c.critical.has(prog) {
		if privilegePrefixes.has(prog) {
			return assess(Critical, "privilege-escalation", prog+" runs commands with elevated privileges")
		}
		return assess(Critical, "critical-program", prog+" is classified critical")
	}

	switch {
	case wrapperPrograms.has(prog):
		return c.classifyWrapper(prog, rest, workDir, depth)
	case shellPrograms.has(prog):
		return c.classifyShell(rest, workDir, depth)
	case prog == "eval":
		return assess(High, "eval", "evaluates dynamically built code")
	}

	if c.isKnown(prog) && len(rest) == 1 && versionArgs.has(rest[0]) {
		return assess(Low, "version-or-help", "prints version or help")
	}

	switch {
	case prog == "rm":
		return c.classifyRemove(rest, workDir)
	case prog == "git":
		return c.classifyGit(rest)
	case c.high.has(prog):
		return assess(High, "network-tool", prog+" reaches the network or remote systems")
	case systemPackageManagers.has(prog):
		if len(rest) > 0 && packageQuerySubcommands.has(rest[0]) {
			return assess(Low, "package-query", "reads package state")
		}
		return assess(High, "package-manager", prog+" installs or removes software")
	}

	if subs, ok := installSubcommands[prog]; ok {
		if sub := firstPositional(rest); sub != "" && subs.has(sub) {
			return assess(High, "package-manager", prog+" "+sub+" fetches or installs packages")
		}
	}

	switch {
	case mutationPrograms.has(prog):
		return c.classifyMutation(prog, rest, workDir)
	case prog == "sed" && hasFlagPrefix(rest, "-i", "--in-place"):
		return c.classifyMutation(prog, rest, workDir)
	case prog == "find" && hasAny(rest, "-delete", "-exec", "-execdir", "-ok", "-okdir", "-fprint"):
		return assess(Medium, "find-action", "find runs actions on matched files")
	case c.medium.has(prog):
		return assess(Medium, "build-tool", prog+" is a build, test or tool invocation")
	case c.low.has(prog):
		return assess(Low, "informational", prog+" is informational")
	}

	if strings.Contains(args[0], "/") && !filepath.IsAbs(args[0]) && !strings.HasPrefix(args[0], "~") {
		if c.pathInsideRoot(args[0], workDir) {
			return assess(Medium, "project-script", "runs a program inside the project")
		}
	}
	return assess(High, "unrecognised-program", prog+" is not a recognised program")
}

func (c *Classifier) isKnown(prog string) bool {
	return c.low.has(prog) || c.medium.has(prog) || c.high.has(prog) ||
		mutationPrograms.has(prog) || systemPackageManagers.has(prog) || prog == "git"
}

func (c *Classifier) classifyWrapper(prog string, rest []string, workDir string, depth int) Assessment {
	i := 0
	for i < len(rest) {
		a := rest[i]
		if strings.HasPrefix(a, "-") {
			i++
			// nice -n 10, xargs -n 1, timeout -s KILL
			if len(a) == 2 && i < len(rest) && !strings.HasPrefix(rest[i], "-") && flagTakesValue.has(prog) {
				i++
			}
			continue
		}
		if prog == "env" && assignPattern.MatchString(a) {
			i++
			continue
		}
		break
	}
	if prog == "timeout" && i < len(rest) {
		i++ // duration
	}

	inner := c.classifyArgs(rest[i:], workDir, depth)
	if prog == "xargs" {
		return higher(assess(Medium, "xargs", "runs a command on piped input"), inner)
	}
	return inner
}

func (c *Classifier) classifyShell(rest []string, workDir string, depth int) Assessment {
	if inner, ok := shellScript(rest); ok {
		return c.classifyString(inner, workDir, depth+1)
	}
	script := firstPositional(rest)
	if script == "" {
		return assess(High, "interactive-shell", "starts an interactive shell")
	}
	if c.pathInsideRoot(script, workDir) {
		return assess(Medium, "project-script", "runs a script inside the project")
	}
	return assess(High, "external-script", "runs a script outside the project root")
}

func (c *Classifier) classifyRemove(rest []string, workDir string) Assessment {
	if removesRoot(rest) {
		return assess(Critical, "recursive-root-delete", "recursively deletes a root-level path")
	}
	return c.classifyMutation("rm", rest, workDir)
}

func (c *Classifier) classifyMutation(prog string, rest []string, workDir string) Assessment {
	for _, a := range positionals(rest) {
		if !c.pathInsideRoot(a, workDir) {
			return assess(High, "write-outside-project", prog+" modifies a path outside the project root")
		}
	}
	return assess(Medium, "project-mutation", prog+" modifies files inside the project")
}

func (c *Classifier) classifyGit(rest []string) Assessment {
	// skip global options such as -C dir and -c key=value
	i := 0
	for i < len(rest) && strings.HasPrefix(rest[i], "-") {
		if rest[i] == "-C" || rest[i] == "-c" {
			i++
		}
		i++
	}
	if i >= len(rest) {
		return assess(Low, "informational", "git without a subcommand")
	}
	sub, args := rest[i], rest[i+1:]

	switch {
	case gitNetwork.has(sub):
		return assess(High, "network-tool", "git "+sub+" talks to a remote")
	case gitReadOnly.has(sub):
		return assess(Low, "informational", "git "+sub+" is read-only")
	case gitListers.has(sub) && len(positionals(args)) == 0 && !hasAny(args, "-d", "-D", "--delete", "-m", "-M"):
		return assess(Low, "informational", "git "+sub+" lists entries")
	case sub == "config" && hasAny(args, "--get", "--get-all", "--list", "-l"):
		return assess(Low, "informational", "git config read")
	}
	return assess(Medium, "project-mutation", "git "+sub+" changes the repository")
}

// pathInsideRoot resolves p lexically against workDir and checks the root.
// Paths that depend on shell expansion count as outside.
func (c *Classifier) pathInsideRoot(p, workDir string) bool {
	if strings.Contains(p, "$") {
		return false
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	return Within(filepath.Clean(p), c.root)
}

// isRootLevel reports whether p names / , a direct child of /, or the home
// directory or its parent, whether spelled ~ or $HOME.
func isRootLevel(p string) bool {
	for _, home := range []string{"~", "$HOME"} {
		if p == home || strings.HasPrefix(p, home+"/") {
			rest := strings.TrimPrefix(p, home)
			switch filepath.ToSlash(filepath.Clean("/" + rest)) {
			case "/", "/*", "/.*":
				return true
			}
			return rest == "/.." || strings.HasPrefix(rest, "/../")
		}
	}
	if !strings.HasPrefix(p, "/") {
		return false
	}
	cleaned := strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
	return !strings.Contains(cleaned, "/")
}

// =============================================================================
// ARGUMENT HELPERS
// =============================================================================

func positionals(args []string) []string {
	var out []string
	endOfFlags := false
	for _, a := range args {
		if !endOfFlags && a == "--" {
			endOfFlags = true
			continue
		}
		if !endOfFlags && strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func firstPositional(args []string) string {
	if p := positionals(args); len(p) > 0 {
		return p[0]
	}
	return ""
}

func hasAny(args []string, flags ...string) bool {
	set := newSet(flags...)
	for _, a := range args {
		if set.has(a) {
			return true
		}
	}
	return false
}

func hasFlagPrefix(args []string, prefixes ...string) bool {
	for _, a := range args {
		for _, p := range prefixes {
			if strings.HasPrefix(a, p) {
				return true
			}
		}
	}
	return false
}
