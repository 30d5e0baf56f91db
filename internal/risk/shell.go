// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// =============================================================================
// SHELL PARSING
// =============================================================================

// segment is one simple command found anywhere in the parsed program,
// including inside substitutions, subshells and function bodies.
type segment struct {
	args   []string // program and arguments after quote removal
	writes []string // output redirection targets
}

// program is a parsed command line.
type program struct {
	segments []segment
	// substituted is set when the command contains command or process
	// substitution, whose output cannot be known statically.
	substituted bool
}

// parseCommand parses command as bash and collects every simple command.
func parseCommand(command string) (program, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return program{}, err
	}

	var prog program
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Stmt:
			if seg, ok := stmtSegment(n); ok {
				prog.segments = append(prog.segments, seg)
			}
		case *syntax.CmdSubst, *syntax.ProcSubst:
			prog.substituted = true
		}
		return true
	})
	return prog, nil
}

func stmtSegment(st *syntax.Stmt) (segment, bool) {
	var seg segment
	call := false
	switch cmd := st.Cmd.(type) {
	case *syntax.CallExpr:
		// a bare NAME=value is still a (no-op) simple command
		call = true
		for _, w := range cmd.Args {
			seg.args = append(seg.args, wordText(w))
		}
	case *syntax.DeclClause:
		seg.args = append(seg.args, cmd.Variant.Value)
		for _, as := range cmd.Args {
			seg.args = append(seg.args, assignText(as))
		}
	}
	for _, r := range st.Redirs {
		if target, ok := redirectTarget(r); ok {
			seg.writes = append(seg.writes, target)
		}
	}
	return seg, call || len(seg.args) > 0 || len(seg.writes) > 0
}

// redirectTarget returns the file an output redirection writes to.
// Input redirections, heredocs and fd duplication such as 2>&1 write no file.
func redirectTarget(r *syntax.Redirect) (string, bool) {
	if r.Word == nil {
		return "", false
	}
	target := wordText(r.Word)
	switch r.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.ClbOut, syntax.RdrAll, syntax.AppAll, syntax.RdrInOut:
		return target, true
	case syntax.DplOut:
		// >&file is a write; >&2 and >&- are not
		if target == "-" || isDigits(target) {
			return "", false
		}
		return target, true
	}
	return "", false
}

func assignText(as *syntax.Assign) string {
	if as.Name == nil {
		if as.Value != nil {
			return wordText(as.Value)
		}
		return ""
	}
	if as.Naked || as.Value == nil {
		return as.Name.Value
	}
	return as.Name.Value + "=" + wordText(as.Value)
}

// wordText renders a word after quote removal. Expansions that depend on
// runtime state keep a leading "$" so path checks treat them as unknown.
func wordText(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		writePart(&b, part, false)
	}
	return b.String()
}

func writePart(b *strings.Builder, part syntax.WordPart, inDouble bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		b.WriteString(unescape(p.Value, inDouble))
	case *syntax.SglQuoted:
		b.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			writePart(b, inner, true)
		}
	case *syntax.ParamExp:
		if p.Param != nil {
			b.WriteString("$" + p.Param.Value)
		} else {
			b.WriteString("$?")
		}
	case *syntax.CmdSubst, *syntax.ProcSubst:
		b.WriteString("$(...)")
	case *syntax.ArithmExp:
		b.WriteString("$((...))")
	default:
		var sb strings.Builder
		if err := syntax.NewPrinter().Print(&sb, part); err != nil {
			b.WriteString("$?")
			return
		}
		b.WriteString(sb.String())
	}
}

// unescape removes shell backslash escapes. Inside double quotes only
// $ ` " \ and newline are escapable.
func unescape(s string, inDouble bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' || i+1 == len(runes) {
			b.WriteRune(r)
			continue
		}
		next := runes[i+1]
		switch {
		case next == '\n':
			i++
		case !inDouble || strings.ContainsRune("$`\"\\", next):
			b.WriteRune(next)
			i++
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Words parses command and returns, for each simple command it contains,
// the program and arguments after quote removal followed by any output
// redirection targets. Commands nested in substitutions are included. It
// fails where the classifier would treat the command as unparsable.
func Words(command string) ([][]string, error) {
	prog, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(prog.segments))
	for _, seg := range prog.segments {
		words := append([]string(nil), seg.args...)
		out = append(out, append(words, seg.writes...))
	}
	return out, nil
}

// =============================================================================
// RECURSIVE ROOT DELETE
// =============================================================================

// RecursiveRootDelete reports whether command recursively removes a
// root-level path anywhere: directly, behind sudo or another wrapper,
// inside a substitution, or through "sh -c". Unparsable input reports
// false; callers reject it on its own.
func RecursiveRootDelete(command string) bool {
	return rootDelete(NormalizeCommand(command), 0)
}

func rootDelete(command string, depth int) bool {
	if depth > maxShellDepth {
		return false
	}
	prog, err := parseCommand(command)
	if err != nil {
		return false
	}
	for _, seg := range prog.segments {
		if argsDeleteRoot(seg.args, depth) {
			return true
		}
	}
	return false
}

func argsDeleteRoot(args []string, depth int) bool {
	if len(args) == 0 {
		return false
	}
	prog, rest := filepath.Base(args[0]), args[1:]
	switch {
	case prog == "rm":
		return removesRoot(rest)
	case shellPrograms.has(prog):
		if script, ok := shellScript(rest); ok {
			return rootDelete(script, depth+1)
		}
	case wrapperPrograms.has(prog) || privilegePrefixes.has(prog):
		// the wrapped command starts at the first rm or shell word
		for i, a := range rest {
			base := filepath.Base(a)
			if base == "rm" || shellPrograms.has(base) {
				return argsDeleteRoot(rest[i:], depth)
			}
			if prog == "su" && a == "-c" && i+1 < len(rest) {
				return rootDelete(rest[i+1], depth+1)
			}
		}
	}
	return false
}

// shellScript returns the argument of -c.
func shellScript(args []string) (string, bool) {
	for i, a := range args {
		if a == "-c" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// removesRoot reports whether rm's arguments are recursive and name a
// root-level path.
func removesRoot(rest []string) bool {
	if !recursiveRemove(rest) {
		return false
	}
	for _, a := range positionals(rest) {
		if isRootLevel(a) {
			return true
		}
	}
	return false
}

func recursiveRemove(rest []string) bool {
	for _, a := range rest {
		if a == "--" {
			return false
		}
		if a == "--recursive" {
			return true
		}
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.ContainsAny(a, "rR") {
			return true
		}
	}
	return false
}
