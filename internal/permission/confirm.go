// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/util"
)

// =============================================================================
// CONFIRMATION PROVIDERS
// =============================================================================

// Prompt describes the operation awaiting confirmation.
type Prompt struct {
	SessionID string
	Tool      string
	Risk      risk.Level
	Reason    string
	Args      map[string]any
}

// Summary renders the prompt on one line, truncating long argument values.
func (p Prompt) Summary() string {
	keys := make([]string, 0, len(p.Args))
	for k := range p.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, util.TruncateRunes(fmt.Sprint(p.Args[k]), 60)))
	}
	return fmt.Sprintf("%s (%s risk: %s) %s", p.Tool, p.Risk, p.Reason, strings.Join(parts, " "))
}

// Confirmer resolves an invocation awaiting confirmation.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) {
	return f(ctx, p)
}

// AutoApprove approves prompts at or below max and declines the rest.
func AutoApprove(max risk.Level) Confirmer {
	return ConfirmFunc(func(ctx context.Context, p Prompt) (bool, error) {
		return p.Risk <= max && p.Risk < risk.Critical, nil
	})
}

// DenyAll declines every prompt.
func DenyAll() Confirmer {
	return ConfirmFunc(func(ctx context.Context, p Prompt) (bool, error) {
		return false, nil
	})
}

// ErrNoTerminal is returned when interactive confirmation has no input.
var ErrNoTerminal = errors.New("no interactive input available")

// TerminalConfirmer asks the user for a y/N line. The terminal stays in
// cooked mode, so an abandoned prompt never leaves it raw. One reader
// goroutine serves every prompt; after a prompt is cancelled, lines read
// before the next prompt was shown are discarded rather than taken as its
// answer.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	turn  chan struct{}
	lines chan answer

	// guarded by turn
	stale bool
	err   error
}

type answer struct {
	line string
	at   time.Time
	err  error
}

// NewTerminalConfirmer prompts on stdin and stderr. When stdin is not a
// terminal it uses /dev/tty if one can be opened, so piped input is never
// read as answers.
func NewTerminalConfirmer() *TerminalConfirmer {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return &TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
	}
	if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		return &TerminalConfirmer{In: tty, Out: tty}
	}
	return &TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
}

// Confirm writes the prompt and waits for y/N. Prompts are asked one at a
// time. Context cancellation returns the context error.
func (t *TerminalConfirmer) Confirm(ctx context.Context, p Prompt) (bool, error) {
	if t.In == nil {
		return false, ErrNoTerminal
	}
	t.once.Do(func() {
		t.turn = make(chan struct{}, 1)
		t.lines = make(chan answer)
		go t.readLines()
	})

	select {
	case t.turn <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-t.turn }()

	if t.err != nil {
		return false, t.err
	}
	out := t.Out
	if out == nil {
		out = io.Discard
	}
	asked := time.Now()
	fmt.Fprintf(out, "[rigrun-guard] %s\nAllow? [y/N] ", p.Summary())

	for {
		select {
		case <-ctx.Done():
			t.stale = true
			fmt.Fprintln(out)
			return false, ctx.Err()
		case a := <-t.lines:
			if a.err != nil {
				t.err = a.err
				if errors.Is(a.err, io.EOF) {
					t.err = ErrNoTerminal
				}
			}
			if a.line == "" || (t.stale && a.at.Before(asked)) {
				if t.err != nil {
					return false, t.err
				}
				continue
			}
			t.stale = false
			switch strings.ToLower(strings.TrimSpace(a.line)) {
			case "y", "yes":
				return true, nil
			default:
				return false, nil
			}
		}
	}
}

func (t *TerminalConfirmer) readLines() {
	br := bufio.NewReader(t.In)
	for {
		line, err := br.ReadString('\n')
		t.lines <- answer{line: line, at: time.Now(), err: err}
		if err != nil {
			return
		}
	}
}
