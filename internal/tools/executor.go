// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-guard/internal/audit"
	"github.com/jeranaias/rigrun-guard/internal/logging"
	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// Decision values recorded for invocations that never reached the
// permission engine.
const (
	decisionNotEvaluated = "NotEvaluated"
)

// =============================================================================
// INVOCATION AND OUTCOME
// =============================================================================

// Invocation is one request from the orchestrator. It is not modified.
type Invocation struct {
	// ID identifies the invocation in the audit log. Empty gets a UUID.
	ID        string         `json:"id,omitempty"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Outcome is what a successful invocation returns.
type Outcome struct {
	ID       string            `json:"id"`
	Tool     string            `json:"tool"`
	Risk     risk.Level        `json:"risk"`
	Decision permission.Verdict `json:"decision"`
	Result   Result            `json:"result"`
	Duration time.Duration     `json:"duration_ns"`
	AuditSeq uint64            `json:"audit_seq,omitempty"`
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor is the single entry point for tool invocations. It validates,
// classifies, asks for permission, runs the tool and appends exactly one
// audit record per invocation.
type Executor struct {
	registry    *Registry
	classifier  *risk.Classifier
	permissions *permission.Engine
	audit       *audit.Log
	logger      *zap.Logger
	env         audit.Environment
}

// NewExecutor wires the executor. Every collaborator is required; the
// environment is recorded on each audit record.
func NewExecutor(registry *Registry, classifier *risk.Classifier, permissions *permission.Engine, log *audit.Log, env audit.Environment, logger *zap.Logger) (*Executor, error) {
	switch {
	case registry == nil:
		return nil, fmt.Errorf("executor: nil registry")
	case classifier == nil:
		return nil, fmt.Errorf("executor: nil classifier")
	case permissions == nil:
		return nil, fmt.Errorf("executor: nil permission engine")
	case log == nil:
		return nil, fmt.Errorf("executor: nil audit log")
	}
	if env.WorkDir == "" {
		env.WorkDir = classifier.Root()
	}
	return &Executor{
		registry:    registry,
		classifier:  classifier,
		permissions: permissions,
		audit:       log,
		logger:      logging.OrNop(logger),
		env:         env,
	}, nil
}

// Registry returns the tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Audit returns the audit log.
func (e *Executor) Audit() *audit.Log {
	return e.audit
}

// Classifier returns the risk classifier.
func (e *Executor) Classifier() *risk.Classifier {
	return e.classifier
}

// invocationState accumulates what the audit record needs.
type invocationState struct {
	assessment    risk.Assessment
	classified    bool
	decision      string
	justification string
}

// Execute runs one invocation. Errors are returned as *toolerr.Error,
// unchanged from the component that raised them, and every path out appends
// one audit record.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	start := time.Now()
	if inv.Timestamp.IsZero() {
		inv.Timestamp = start
	}

	st := &invocationState{decision: decisionNotEvaluated}
	outcome := Outcome{ID: inv.ID, Tool: inv.Tool}

	res, err := e.run(ctx, inv, st)
	end := time.Now()

	outcome.Duration = end.Sub(start)
	outcome.Risk = st.assessment.Level
	outcome.Decision = permission.Verdict(st.decision)
	outcome.Result = res
	if err != nil {
		err = e.annotate(err, inv.Tool, st)
	}

	rec := audit.Record{
		ID:            inv.ID,
		SessionID:     inv.SessionID,
		Tool:          inv.Tool,
		Decision:      st.decision,
		Justification: st.justification,
		StartedAt:     start,
		EndedAt:       end,
		Outcome:       outcomeOf(err),
		Environment:   e.env,
	}
	if st.classified {
		rec.Risk = st.assessment.Level.String()
	}

	// the record is written even when the caller has already given up
	seq, aerr := e.audit.Append(context.WithoutCancel(ctx), rec)
	if aerr != nil {
		e.logger.Error("invocation not audited", zap.String("id", inv.ID), zap.String("tool", inv.Tool), zap.Error(aerr))
	}
	outcome.AuditSeq = seq

	fields := []zap.Field{
		zap.String("id", inv.ID),
		zap.String("tool", inv.Tool),
		zap.String("session", inv.SessionID),
		zap.String("risk", rec.Risk),
		zap.String("decision", st.decision),
		zap.Duration("duration", outcome.Duration),
	}
	if err != nil {
		e.logger.Info("tool invocation failed", append(fields, zap.String("kind", string(toolerr.KindOf(err))), zap.Error(err))...)
		return outcome, err
	}
	e.logger.Debug("tool invocation succeeded", fields...)
	return outcome, nil
}

// run is the pipeline between lookup and execution.
func (e *Executor) run(ctx context.Context, inv Invocation, st *invocationState) (Result, error) {
	tool := e.registry.Get(inv.Tool)
	if tool == nil {
		return Result{}, toolerr.Newf(toolerr.ToolNotFound, "unknown tool: %s", inv.Tool)
	}

	args, instance, err := normalizeArgs(inv.Args)
	if err != nil {
		return Result{}, err
	}
	if err := validateSchema(tool, instance); err != nil {
		return Result{}, err
	}
	if err := tool.Executor.Validate(args); err != nil {
		return Result{}, err
	}

	ops, err := tool.Executor.Plan(ctx, args)
	if err != nil {
		return Result{}, err
	}
	for _, op := range ops {
		if err := e.classifier.CheckSize(op); err != nil {
			return Result{}, err
		}
	}
	st.assessment = e.classifier.ClassifyAll(ops)
	st.classified = true

	decision, err := e.permissions.Decide(ctx, permission.Request{
		SessionID:   inv.SessionID,
		Tool:        tool.Name,
		Args:        args,
		Assessment:  st.assessment,
		Requirement: e.registry.Requirement(tool.Name),
	})
	if decision.Verdict != "" {
		// a cancelled confirmation still settles as Denied
		st.decision = string(decision.Verdict)
		st.justification = decision.Justification
	}
	if err != nil {
		return Result{}, err
	}
	if !decision.Approved() {
		return Result{}, decision.Err(tool.Name)
	}

	return e.dispatch(ctx, tool, args)
}

type dispatchResult struct {
	res Result
	err error
}

// dispatch runs the tool on its own goroutine. A panicking tool becomes an
// ExecutionFailed error rather than taking the host down.
func (e *Executor) dispatch(ctx context.Context, tool *Tool, args Args) (Result, error) {
	done := make(chan dispatchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked", zap.String("tool", tool.Name), zap.Any("panic", r))
				done <- dispatchResult{err: toolerr.Newf(toolerr.ExecutionFailed, "tool %s panicked: %v", tool.Name, r)}
			}
		}()
		res, err := tool.Executor.Execute(ctx, args)
		done <- dispatchResult{res: res, err: err}
	}()
	// tools observe ctx themselves; waiting here keeps the audit record
	// behind every side effect
	r := <-done
	return r.res, r.err
}

// annotate turns err into a *toolerr.Error carrying the tool and risk.
func (e *Executor) annotate(err error, tool string, st *invocationState) error {
	var te *toolerr.Error
	if !errors.As(err, &te) {
		kind := toolerr.ExecutionFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = toolerr.Aborted
		}
		te = toolerr.Wrap(kind, err, "tool failed")
	}
	if te.Tool == "" {
		te.Tool = tool
	}
	if te.Risk == "" && st.classified {
		te.Risk = st.assessment.Level.String()
	}
	return te
}

func outcomeOf(err error) audit.Outcome {
	if err == nil {
		return audit.Outcome{Success: true}
	}
	return audit.Outcome{
		Success:   false,
		ErrorKind: string(toolerr.KindOf(err)),
		Message:   err.Error(),
	}
}
