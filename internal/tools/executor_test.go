// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-guard/internal/audit"
	"github.com/jeranaias/rigrun-guard/internal/multiedit"
	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/sandbox"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

type harness struct {
	root     string
	executor *Executor
	engine   *permission.Engine
	log      *audit.Log
}

func newHarness(t *testing.T, policy permission.SessionPolicy, opts ...Option) *harness {
	t.Helper()
	root := t.TempDir()

	classifier, err := risk.NewClassifier(risk.Config{ProjectRoot: root})
	require.NoError(t, err)
	sb, err := sandbox.New(sandbox.Config{Root: root, GracePeriod: 200 * time.Millisecond}, nil)
	require.NoError(t, err)
	builtins, err := Builtins(Deps{Root: root, Coordinator: multiedit.NewCoordinator(0, nil), Sandbox: sb})
	require.NoError(t, err)

	reg, err := NewRegistry(append([]Option{WithTools(builtins...)}, opts...)...)
	require.NoError(t, err)
	log, err := audit.NewLog(audit.NewMemoryStore(100), nil)
	require.NoError(t, err)
	engine := permission.NewEngine(policy, nil)

	ex, err := NewExecutor(reg, classifier, engine, log, audit.Environment{ConstrainedPaths: sb.AllowedPaths()}, nil)
	require.NoError(t, err)
	return &harness{root: root, executor: ex, engine: engine, log: log}
}

func (h *harness) exec(t *testing.T, tool string, args map[string]any) (Outcome, error) {
	t.Helper()
	return h.executor.Execute(context.Background(), Invocation{Tool: tool, Args: args, SessionID: "s1"})
}

func (h *harness) records(t *testing.T) []audit.Record {
	t.Helper()
	recs, err := h.log.Query(context.Background(), "", audit.TimeRange{})
	require.NoError(t, err)
	return recs
}

func (h *harness) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.root, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// =============================================================================
// AUDIT: ONE RECORD PER INVOCATION
// =============================================================================

func TestExecute_EveryInvocationAuditedOnce(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})
	h.file(t, "a.txt", "one\ntwo\n")
	h.file(t, "dup.txt", "x\nx\n")

	calls := []struct {
		tool string
		args map[string]any
		kind toolerr.Kind
	}{
		{"Read", map[string]any{"file_path": "a.txt"}, ""},
		{"Nope", map[string]any{}, toolerr.ToolNotFound},
		{"Read", map[string]any{}, toolerr.InvalidParameters},
		{"Read", map[string]any{"file_path": "a.txt", "bogus": 1}, toolerr.InvalidParameters},
		{"Bash", map[string]any{"command": "rm -rf /"}, toolerr.UnsafeCommand},
		{"Bash", map[string]any{"command": "sudo ls"}, toolerr.PermissionDenied},
		{"Edit", map[string]any{"file_path": "a.txt", "old_string": "three", "new_string": "3"}, toolerr.NoMatchFound},
		{"Edit", map[string]any{"file_path": "dup.txt", "old_string": "x", "new_string": "y"}, toolerr.AmbiguousMatch},
		{"Write", map[string]any{"file_path": "b.txt", "content": "hi\n"}, ""},
	}

	ids := make(map[string]toolerr.Kind)
	for _, c := range calls {
		out, err := h.exec(t, c.tool, c.args)
		assert.Equal(t, c.kind, toolerr.KindOf(err), "%s %v", c.tool, c.args)
		require.NotEmpty(t, out.ID)
		ids[out.ID] = c.kind
	}

	recs := h.records(t)
	require.Len(t, recs, len(calls))
	for _, rec := range recs {
		kind, ok := ids[rec.ID]
		require.True(t, ok, "record for unknown invocation %s", rec.ID)
		assert.Equal(t, string(kind), rec.Outcome.ErrorKind)
		assert.Equal(t, kind == "", rec.Outcome.Success)
		assert.Equal(t, "s1", rec.SessionID)
		assert.False(t, rec.EndedAt.Before(rec.StartedAt))
		assert.Equal(t, h.executor.Classifier().Root(), rec.Environment.WorkDir)
		delete(ids, rec.ID)
	}
	assert.Empty(t, ids)
}

func TestExecute_UnknownToolIsAudited(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})

	out, err := h.exec(t, "Teleport", map[string]any{"to": "mars"})
	require.Error(t, err)
	e := toolerr.As(err)
	assert.Equal(t, toolerr.ToolNotFound, e.Kind)
	assert.Equal(t, "Teleport", e.Tool)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, out.ID, recs[0].ID)
	assert.Equal(t, "Teleport", recs[0].Tool)
	assert.Equal(t, decisionNotEvaluated, recs[0].Decision)
	assert.Empty(t, recs[0].Risk)
	assert.Equal(t, string(toolerr.ToolNotFound), recs[0].Outcome.ErrorKind)
}

func TestExecute_UsesCallerInvocationID(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})
	h.file(t, "a.txt", "x\n")

	out, err := h.executor.Execute(context.Background(), Invocation{ID: "inv-7", Tool: "Read", Args: map[string]any{"file_path": "a.txt"}, SessionID: "s9"})
	require.NoError(t, err)
	assert.Equal(t, "inv-7", out.ID)
	assert.Equal(t, risk.Low, out.Risk)
	assert.Equal(t, permission.Approved, out.Decision)

	recs, err := h.log.Query(context.Background(), "s9", audit.TimeRange{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inv-7", recs[0].ID)
	assert.Equal(t, "Low", recs[0].Risk)
	assert.Equal(t, "Approved", recs[0].Decision)
	assert.Equal(t, out.AuditSeq, recs[0].Seq)
}

// =============================================================================
// PIPELINE ORDER
// =============================================================================

func TestExecute_DenyListBeatsPermissivePolicy(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{
		AutoApproveCeiling: risk.Critical,
		Confirmer:          permission.AutoApprove(risk.Critical),
	})

	commands := []string{
		"rm -rf /",
		"rm -rf -- ~ $(true)",
		"rm --recursive --force ~ `true`",
		"bash -c 'rm -rf /'",
	}
	for _, cmd := range commands {
		_, err := h.exec(t, "Bash", map[string]any{"command": cmd})
		require.Error(t, err, cmd)
		assert.Equal(t, toolerr.UnsafeCommand, toolerr.KindOf(err), cmd)
	}

	recs := h.records(t)
	require.Len(t, recs, len(commands))
	for _, r := range recs {
		assert.Equal(t, decisionNotEvaluated, r.Decision, "never reached the permission engine")
		assert.Empty(t, r.Risk, "never classified")
	}
}

func TestExecute_DeniedOperationHasNoSideEffect(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{Confirmer: permission.DenyAll()})
	outside := filepath.Join(t.TempDir(), "x.txt")

	_, err := h.exec(t, "Write", map[string]any{"file_path": outside, "content": "data"})
	require.Error(t, err)
	e := toolerr.As(err)
	assert.Equal(t, toolerr.PermissionDenied, e.Kind)
	assert.Equal(t, "Medium", e.Risk)
	assert.NoFileExists(t, outside)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "Denied", recs[0].Decision)
	assert.Equal(t, "Medium", recs[0].Risk)
	assert.NotEmpty(t, recs[0].Justification)
}

func TestExecute_CancelledConfirmationIsAuditedAsDenied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	walkAway := permission.ConfirmFunc(func(cctx context.Context, p permission.Prompt) (bool, error) {
		cancel()
		<-cctx.Done()
		return false, cctx.Err()
	})
	h := newHarness(t, permission.SessionPolicy{Confirmer: walkAway})
	outside := filepath.Join(t.TempDir(), "x.txt")

	out, err := h.executor.Execute(ctx, Invocation{
		Tool:      "Write",
		Args:      map[string]any{"file_path": outside, "content": "data"},
		SessionID: "s1",
	})
	require.Error(t, err)
	assert.Equal(t, toolerr.Aborted, toolerr.KindOf(err))
	assert.Equal(t, permission.Denied, out.Decision)
	assert.NoFileExists(t, outside)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "Denied", recs[0].Decision)
	assert.Equal(t, "confirmation cancelled", recs[0].Justification)
	assert.Equal(t, "Medium", recs[0].Risk)
}

func TestExecute_ContentTooLargeBeforeClassification(t *testing.T) {
	root := t.TempDir()
	classifier, err := risk.NewClassifier(risk.Config{ProjectRoot: root, MaxFileSize: 8})
	require.NoError(t, err)
	sb, err := sandbox.New(sandbox.Config{Root: root}, nil)
	require.NoError(t, err)
	builtins, err := Builtins(Deps{Root: root, Coordinator: multiedit.NewCoordinator(0, nil), Sandbox: sb})
	require.NoError(t, err)
	reg, err := NewRegistry(WithTools(builtins...))
	require.NoError(t, err)
	log, err := audit.NewLog(audit.NewMemoryStore(10), nil)
	require.NoError(t, err)
	ex, err := NewExecutor(reg, classifier, permission.NewEngine(permission.SessionPolicy{}, nil), log, audit.Environment{}, nil)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), Invocation{Tool: "Write", Args: map[string]any{"file_path": "big.txt", "content": "0123456789"}})
	assert.Equal(t, toolerr.ContentTooLarge, toolerr.KindOf(err))
	assert.NoFileExists(t, filepath.Join(root, "big.txt"))
}

func TestExecute_SchemaMismatch(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})

	for name, args := range map[string]map[string]any{
		"wrong type":      {"file_path": 5},
		"unknown field":   {"file_path": "a", "mode": "fast"},
		"missing field":   {"content": "x"},
		"below minimum":   {"file_path": "a", "offset": 0},
		"fractional line": {"file_path": "a", "limit": 1.5},
	} {
		t.Run(name, func(t *testing.T) {
			tool := "Read"
			if name == "missing field" {
				tool = "Write"
			}
			_, err := h.exec(t, tool, args)
			require.Error(t, err)
			e := toolerr.As(err)
			assert.Equal(t, toolerr.InvalidParameters, e.Kind)
			assert.NotEmpty(t, e.Details["violations"])
		})
	}
}

func TestExecute_MultiEditAllOrNothing(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})
	a := h.file(t, "a.txt", "alpha\n")
	b := h.file(t, "b.txt", "beta\n")

	_, err := h.exec(t, "MultiEdit", map[string]any{"edits": []any{
		map[string]any{"file_path": "a.txt", "old_string": "alpha", "new_string": "ALPHA"},
		map[string]any{"file_path": "b.txt", "old_string": "gamma", "new_string": "GAMMA"},
	}})
	require.Error(t, err)
	e := toolerr.As(err)
	assert.Equal(t, toolerr.NoMatchFound, e.Kind)
	assert.Equal(t, 1, e.Details["index"])
	assertFile(t, a, "alpha\n")
	assertFile(t, b, "beta\n")

	out, err := h.exec(t, "MultiEdit", map[string]any{"edits": []any{
		map[string]any{"file_path": "a.txt", "old_string": "alpha", "new_string": "ALPHA"},
		map[string]any{"file_path": "b.txt", "old_string": "beta", "new_string": "BETA"},
	}})
	require.NoError(t, err)
	assert.Contains(t, out.Result.Output, "+ALPHA")
	assert.Contains(t, out.Result.Output, "+BETA")
	assert.Contains(t, out.Result.Output, "(exact), Modified +1 -1\n")
	assertFile(t, a, "ALPHA\n")
	assertFile(t, b, "BETA\n")

	sum, ok := out.Result.Data.(multiedit.Summary)
	require.True(t, ok)
	assert.Len(t, sum.Operations, 2)
}

func TestExecute_EditUsesFallbackStrategy(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})
	p := h.file(t, "f.go", "func main() {\n\tfoo()   \n}\n")

	out, err := h.exec(t, "Edit", map[string]any{"file_path": p, "old_string": "foo()\n", "new_string": "bar()\n"})
	require.NoError(t, err)
	assert.Contains(t, out.Result.Output, "line-trimmed")
	assertFile(t, p, "func main() {\nbar()\n}\n")
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry_CapabilityFilter(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{}, WithCapabilities(CapFilesystemRead))
	assert.Equal(t, []string{"Read"}, h.executor.Registry().Names())
	assert.True(t, h.executor.Registry().Get("Read").HasCapability(CapFilesystemRead))
	assert.False(t, h.executor.Registry().Get("Read").HasCapability(CapProcessExecution))

	_, err := h.exec(t, "Bash", map[string]any{"command": "ls"})
	assert.Equal(t, toolerr.ToolNotFound, toolerr.KindOf(err))
	assert.Len(t, h.records(t), 1)
}

func TestRegistry_DisabledAndOverride(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{},
		WithDisabled("Bash"),
		WithPermissionOverride("Read", permission.RequireNever))
	h.file(t, "a.txt", "x\n")

	reg := h.executor.Registry()
	assert.Equal(t, []string{"Edit", "MultiEdit", "Read", "Write"}, reg.Names())
	assert.Equal(t, permission.RequireNever, reg.Requirement("Read"))
	for _, d := range reg.Describe() {
		if d.Name == "Read" {
			assert.Equal(t, "never", d.Permission)
		}
	}

	_, err := h.exec(t, "Read", map[string]any{"file_path": "a.txt"})
	assert.Equal(t, toolerr.PermissionDenied, toolerr.KindOf(err))
}

func TestRegistry_Errors(t *testing.T) {
	x := &stubExecutor{}
	_, err := NewRegistry(WithTools(&Tool{Name: "A", Executor: x}, &Tool{Name: "A", Executor: x}))
	assert.Error(t, err)

	_, err = NewRegistry(WithTools(&Tool{Name: "B"}))
	assert.Error(t, err)

	_, err = NewRegistry(WithTools(&Tool{Name: "C", Executor: x, Capabilities: []Capability{"network"}}))
	assert.ErrorContains(t, err, "unknown capability")

	_, err = NewRegistry(WithTools(&Tool{Name: "C", Executor: x, Schema: Schema{Parameters: []Parameter{{Name: "p", Type: "no-such-type"}}}}))
	assert.Error(t, err)
}

func TestDescribe_InputSchema(t *testing.T) {
	h := newHarness(t, permission.SessionPolicy{})
	tool := h.executor.Registry().Get("MultiEdit")
	require.NotNil(t, tool)

	d := tool.Describe()
	assert.Equal(t, []Capability{CapFilesystemWrite}, d.Capabilities)
	assert.Equal(t, "object", d.InputSchema["type"])
	assert.Equal(t, false, d.InputSchema["additionalProperties"])
	assert.Equal(t, []string{"edits"}, d.InputSchema["required"])
}

// =============================================================================
// TOOL FAILURES
// =============================================================================

type stubExecutor struct {
	plan    []risk.Operation
	execute func(ctx context.Context, args Args) (Result, error)
}

func (s *stubExecutor) Validate(Args) error { return nil }
func (s *stubExecutor) Plan(context.Context, Args) ([]risk.Operation, error) {
	return s.plan, nil
}
func (s *stubExecutor) Execute(ctx context.Context, args Args) (Result, error) {
	return s.execute(ctx, args)
}

func TestExecute_PanickingToolIsContained(t *testing.T) {
	root := t.TempDir()
	classifier, err := risk.NewClassifier(risk.Config{ProjectRoot: root})
	require.NoError(t, err)
	reg, err := NewRegistry(WithTools(&Tool{
		Name: "Boom",
		Executor: &stubExecutor{execute: func(context.Context, Args) (Result, error) {
			panic("kaboom")
		}},
	}))
	require.NoError(t, err)
	log, err := audit.NewLog(audit.NewMemoryStore(10), nil)
	require.NoError(t, err)
	ex, err := NewExecutor(reg, classifier, permission.NewEngine(permission.SessionPolicy{}, nil), log, audit.Environment{}, nil)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), Invocation{Tool: "Boom"})
	require.Error(t, err)
	assert.Equal(t, toolerr.ExecutionFailed, toolerr.KindOf(err))
	assert.Contains(t, err.Error(), "kaboom")

	recs, err := log.Query(context.Background(), "", audit.TimeRange{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Approved", recs[0].Decision)
	assert.Equal(t, string(toolerr.ExecutionFailed), recs[0].Outcome.ErrorKind)
}

func TestExecute_ForeignErrorsAreStructured(t *testing.T) {
	root := t.TempDir()
	classifier, err := risk.NewClassifier(risk.Config{ProjectRoot: root})
	require.NoError(t, err)
	reg, err := NewRegistry(WithTools(&Tool{
		Name: "Slow",
		Executor: &stubExecutor{execute: func(ctx context.Context, _ Args) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}},
	}))
	require.NoError(t, err)
	log, err := audit.NewLog(audit.NewMemoryStore(10), nil)
	require.NoError(t, err)
	ex, err := NewExecutor(reg, classifier, permission.NewEngine(permission.SessionPolicy{}, nil), log, audit.Environment{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Execute(ctx, Invocation{Tool: "Slow"})
	e := toolerr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, toolerr.Aborted, e.Kind)
	assert.Equal(t, "Slow", e.Tool)

	recs, qerr := log.Query(context.Background(), "", audit.TimeRange{})
	require.NoError(t, qerr)
	require.Len(t, recs, 1, "audited even though the caller cancelled")
}

func TestNewExecutor_RequiresCollaborators(t *testing.T) {
	_, err := NewExecutor(nil, nil, nil, nil, audit.Environment{}, nil)
	assert.Error(t, err)
}

func assertFile(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}
