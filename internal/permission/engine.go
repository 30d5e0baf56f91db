// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package permission decides whether a classified tool invocation may run.
package permission

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-guard/internal/logging"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// =============================================================================
// DECISIONS
// =============================================================================

// Verdict is the outcome of a permission decision.
type Verdict string

const (
	Approved             Verdict = "Approved"
	Denied               Verdict = "Denied"
	RequiresConfirmation Verdict = "RequiresConfirmation"
)

// State is a step of the per-invocation state machine.
type State string

const (
	StatePending              State = "Pending"
	StateApproved             State = "Approved"
	StateDenied               State = "Denied"
	StateAwaitingConfirmation State = "AwaitingConfirmation"
)

// Decision carries the verdict, the risk it was made at and why.
type Decision struct {
	Verdict       Verdict    `json:"verdict"`
	Risk          risk.Level `json:"risk"`
	Justification string     `json:"justification"`
	Cached        bool       `json:"cached,omitempty"`
	States        []State    `json:"states"`
}

// Approved reports whether the operation may proceed.
func (d Decision) Approved() bool { return d.Verdict == Approved }

// Err converts a non-approved decision into a PermissionDenied error.
func (d Decision) Err(tool string) error {
	if d.Approved() {
		return nil
	}
	e := toolerr.New(toolerr.PermissionDenied, d.Justification)
	e.Tool = tool
	e.Risk = d.Risk.String()
	return e.With("verdict", string(d.Verdict))
}

// Requirement is a tool's default permission requirement.
type Requirement int

const (
	// RequireAuto lets the risk level drive the decision
	RequireAuto Requirement = iota
	// RequireAsk sends every invocation through confirmation, Low included
	RequireAsk
	// RequireNever denies every invocation
	RequireNever
)

// String returns the string representation of a requirement.
func (r Requirement) String() string {
	switch r {
	case RequireAuto:
		return "auto"
	case RequireAsk:
		return "ask"
	case RequireNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseRequirement parses "auto", "ask" or "never".
func ParseRequirement(s string) (Requirement, error) {
	switch s {
	case "auto":
		return RequireAuto, nil
	case "ask":
		return RequireAsk, nil
	case "never":
		return RequireNever, nil
	}
	return RequireAuto, fmt.Errorf("unknown permission requirement %q", s)
}

// Request is one permission question.
type Request struct {
	SessionID   string
	Tool        string
	Args        map[string]any
	Assessment  risk.Assessment
	Requirement Requirement
}

// =============================================================================
// SESSION POLICY
// =============================================================================

// SessionPolicy is supplied once per session.
type SessionPolicy struct {
	// AutoApproveCeiling approves Medium and High invocations at or below it
	// without confirmation. Values above High are treated as High.
	AutoApproveCeiling risk.Level
	// CacheTiers lists levels whose confirmed approvals are reused for the
	// rest of the session, keyed by tool and level. Critical is ignored.
	CacheTiers []risk.Level
	// Confirmer resolves AwaitingConfirmation. Nil leaves the decision at
	// RequiresConfirmation.
	Confirmer Confirmer
	// RateLimit caps invocations per second for the session. Zero disables it.
	RateLimit float64
	Burst     int
}

func (p SessionPolicy) cachesAt(level risk.Level) bool {
	if level == risk.Critical {
		return false
	}
	for _, l := range p.CacheTiers {
		if l == level {
			return true
		}
	}
	return false
}

func (p SessionPolicy) ceiling() risk.Level {
	if p.AutoApproveCeiling > risk.High {
		return risk.High
	}
	return p.AutoApproveCeiling
}

type cacheKey struct {
	tool  string
	level risk.Level
}

// session state is guarded by its own lock so sessions never contend.
type session struct {
	mu        sync.Mutex
	policy    SessionPolicy
	cache     map[cacheKey]struct{}
	overrides map[string]struct{}
	limiter   *rate.Limiter

	// confirmMu serialises prompts within a session
	confirmMu sync.Mutex
}

func newSession(policy SessionPolicy) *session {
	s := &session{
		policy:    policy,
		cache:     make(map[cacheKey]struct{}),
		overrides: make(map[string]struct{}),
	}
	if policy.RateLimit > 0 {
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(policy.RateLimit), burst)
	}
	return s
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine makes permission decisions and holds session-scoped grants in memory.
type Engine struct {
	sessions      sync.Map // session id -> *session
	defaultPolicy SessionPolicy
	logger        *zap.Logger
}

// NewEngine creates an engine. Sessions that are never opened explicitly use
// defaultPolicy.
func NewEngine(defaultPolicy SessionPolicy, logger *zap.Logger) *Engine {
	return &Engine{defaultPolicy: defaultPolicy, logger: logging.OrNop(logger)}
}

// OpenSession installs policy for a session, discarding any previous state.
func (e *Engine) OpenSession(id string, policy SessionPolicy) {
	e.sessions.Store(id, newSession(policy))
}

// CloseSession discards the session's cache and overrides.
func (e *Engine) CloseSession(id string) {
	e.sessions.Delete(id)
}

func (e *Engine) session(id string) *session {
	if s, ok := e.sessions.Load(id); ok {
		return s.(*session)
	}
	s, _ := e.sessions.LoadOrStore(id, newSession(e.defaultPolicy))
	return s.(*session)
}

// GrantOverride allows one exact Critical invocation (tool plus arguments)
// for the rest of the session. It returns the argument hash.
func (e *Engine) GrantOverride(sessionID, tool string, args map[string]any) (string, error) {
	h, err := ArgumentHash(tool, args)
	if err != nil {
		return "", err
	}
	s := e.session(sessionID)
	s.mu.Lock()
	s.overrides[h] = struct{}{}
	s.mu.Unlock()
	e.logger.Info("critical override granted", zap.String("session", sessionID), zap.String("tool", tool), zap.String("hash", h))
	return h, nil
}

// ArgumentHash is a BLAKE2b-256 digest of the tool name and its arguments
// encoded as JSON with sorted keys.
func ArgumentHash(tool string, args map[string]any) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", toolerr.Wrap(toolerr.InvalidParameters, err, "arguments are not JSON-encodable")
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Decide runs the state machine for one invocation. The only error is an
// Aborted from a cancelled confirmation.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	d, err := e.decide(ctx, req)
	e.logger.Debug("permission decision",
		zap.String("session", req.SessionID),
		zap.String("tool", req.Tool),
		zap.String("risk", req.Assessment.Level.String()),
		zap.String("verdict", string(d.Verdict)),
		zap.Bool("cached", d.Cached),
		zap.String("justification", d.Justification))
	return d, err
}

func (e *Engine) decide(ctx context.Context, req Request) (Decision, error) {
	level := req.Assessment.Level
	d := Decision{Risk: level, States: []State{StatePending}}

	finish := func(v Verdict, why string) Decision {
		d.Verdict = v
		d.Justification = why
		switch v {
		case Approved:
			d.States = append(d.States, StateApproved)
		case Denied:
			d.States = append(d.States, StateDenied)
		}
		return d
	}

	if req.Requirement == RequireNever {
		return finish(Denied, req.Tool+" is disabled by policy"), nil
	}

	s := e.session(req.SessionID)

	if s.limiter != nil && !s.limiter.Allow() {
		return finish(Denied, "session rate limit exceeded"), nil
	}

	switch {
	case level == risk.Critical:
		h, err := ArgumentHash(req.Tool, req.Args)
		if err != nil {
			return finish(Denied, "critical operation with unhashable arguments"), nil
		}
		s.mu.Lock()
		_, ok := s.overrides[h]
		s.mu.Unlock()
		if ok {
			return finish(Approved, "critical operation allowed by session override"), nil
		}
		return finish(Denied, "critical risk: "+req.Assessment.Reason), nil

	case level == risk.Low && req.Requirement != RequireAsk:
		return finish(Approved, "low risk"), nil
	}

	key := cacheKey{tool: req.Tool, level: level}
	if s.cached(key) {
		d.Cached = true
		return finish(Approved, fmt.Sprintf("approved earlier this session for %s at %s risk", req.Tool, level)), nil
	}
	if req.Requirement != RequireAsk && level <= s.policy.ceiling() {
		return finish(Approved, fmt.Sprintf("%s risk is within the session auto-approve ceiling", level)), nil
	}

	d.States = append(d.States, StateAwaitingConfirmation)
	if s.policy.Confirmer == nil {
		d.Verdict = RequiresConfirmation
		d.Justification = fmt.Sprintf("%s risk requires confirmation and no confirmation provider is configured", level)
		return d, nil
	}

	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	// another prompt may have approved this pair while we waited
	if s.cached(key) {
		d.Cached = true
		return finish(Approved, fmt.Sprintf("approved earlier this session for %s at %s risk", req.Tool, level)), nil
	}

	ok, err := s.policy.Confirmer.Confirm(ctx, Prompt{
		SessionID: req.SessionID,
		Tool:      req.Tool,
		Risk:      level,
		Reason:    req.Assessment.Reason,
		Args:      req.Args,
	})
	if err != nil {
		if ctx.Err() != nil {
			finish(Denied, "confirmation cancelled")
			return d, toolerr.Wrap(toolerr.Aborted, ctx.Err(), "confirmation cancelled")
		}
		return finish(Denied, "confirmation failed: "+err.Error()), nil
	}
	if !ok {
		return finish(Denied, fmt.Sprintf("%s risk operation was not confirmed", level)), nil
	}

	if s.policy.cachesAt(level) {
		s.mu.Lock()
		s.cache[key] = struct{}{}
		s.mu.Unlock()
	}
	return finish(Approved, fmt.Sprintf("%s risk operation confirmed", level)), nil
}

func (s *session) cached(key cacheKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[key]
	return ok
}
