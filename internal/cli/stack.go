// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-guard/internal/audit"
	"github.com/jeranaias/rigrun-guard/internal/config"
	"github.com/jeranaias/rigrun-guard/internal/logging"
	"github.com/jeranaias/rigrun-guard/internal/multiedit"
	"github.com/jeranaias/rigrun-guard/internal/permission"
	"github.com/jeranaias/rigrun-guard/internal/risk"
	"github.com/jeranaias/rigrun-guard/internal/sandbox"
	"github.com/jeranaias/rigrun-guard/internal/tools"
)

// =============================================================================
// STACK
// =============================================================================

// Stack is every component built from one Config.
type Stack struct {
	Config      *config.Config
	Classifier  *risk.Classifier
	Sandbox     *sandbox.Sandbox
	Coordinator *multiedit.Coordinator
	Registry    *tools.Registry
	Permissions *permission.Engine
	Audit       *audit.Log
	Executor    *tools.Executor
	Policy      permission.SessionPolicy
}

// BuildStack wires the guard from cfg. The caller closes the stack.
func BuildStack(cfg *config.Config, logger *zap.Logger) (*Stack, error) {
	logger = logging.OrNop(logger)

	classifier, sb, err := buildGuards(cfg, logger)
	if err != nil {
		return nil, err
	}
	coord := multiedit.NewCoordinator(cfg.Limits.MaxFileSize, logger)

	registry, err := buildRegistry(cfg, classifier.Root(), coord, sb)
	if err != nil {
		return nil, err
	}

	policy, err := sessionPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	engine := permission.NewEngine(policy, logger)

	store, err := openAuditStore(cfg.Audit)
	if err != nil {
		return nil, err
	}
	log, err := audit.NewLog(store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	env := audit.Environment{WorkDir: classifier.Root(), ConstrainedPaths: sb.AllowedPaths()}
	executor, err := tools.NewExecutor(registry, classifier, engine, log, env, logger)
	if err != nil {
		log.Close()
		return nil, err
	}

	return &Stack{
		Config:      cfg,
		Classifier:  classifier,
		Sandbox:     sb,
		Coordinator: coord,
		Registry:    registry,
		Permissions: engine,
		Audit:       log,
		Executor:    executor,
		Policy:      policy,
	}, nil
}

// Close flushes and closes the audit log.
func (s *Stack) Close() error {
	if s == nil || s.Audit == nil {
		return nil
	}
	return s.Audit.Close()
}

// buildGuards builds the classifier and sandbox, which share the project
// root, the rule file and the configured deny patterns.
func buildGuards(cfg *config.Config, logger *zap.Logger) (*risk.Classifier, *sandbox.Sandbox, error) {
	rf, err := risk.LoadRuleFile(cfg.Rules.CommandRulesFile)
	if err != nil {
		return nil, nil, err
	}
	classifier, err := risk.NewClassifier(risk.Config{
		ProjectRoot:         cfg.Project.Root,
		MaxFileSize:         cfg.Limits.MaxFileSize,
		ProtectedPatterns:   cfg.Rules.ProtectedPatterns,
		ProtectedExtensions: cfg.Rules.ProtectedExtensions,
		Rules:               rf.Rules,
		Programs:            rf.Programs,
	})
	if err != nil {
		return nil, nil, err
	}

	deny := append([]risk.Rule(nil), rf.Deny...)
	for i, p := range cfg.Rules.DenyPatterns {
		deny = append(deny, risk.Rule{
			Name:    fmt.Sprintf("config-deny-%d", i+1),
			Pattern: p,
			Message: "matches configured deny pattern",
		})
	}
	sb, err := sandbox.New(sandbox.Config{
		Root:           classifier.Root(),
		AllowedPaths:   cfg.Project.AllowedPaths,
		DenyRules:      deny,
		DefaultTimeout: cfg.Limits.CommandTimeout.Duration,
		MaxTimeout:     cfg.Limits.MaxCommandTimeout.Duration,
		GracePeriod:    cfg.Limits.KillGrace.Duration,
		MaxOutput:      cfg.Limits.MaxOutputBytes,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return classifier, sb, nil
}

func buildRegistry(cfg *config.Config, root string, coord *multiedit.Coordinator, sb *sandbox.Sandbox) (*tools.Registry, error) {
	builtins, err := tools.Builtins(tools.Deps{Root: root, Coordinator: coord, Sandbox: sb})
	if err != nil {
		return nil, err
	}
	caps := make([]tools.Capability, len(cfg.Tools.Capabilities))
	for i, c := range cfg.Tools.Capabilities {
		caps[i] = tools.Capability(c)
	}
	opts := []tools.Option{
		tools.WithTools(builtins...),
		tools.WithDisabled(cfg.Tools.Disabled...),
	}
	if len(caps) > 0 {
		opts = append(opts, tools.WithCapabilities(caps...))
	}
	for name, v := range cfg.Tools.Permissions {
		req, err := permission.ParseRequirement(v)
		if err != nil {
			return nil, fmt.Errorf("tools.permissions.%s: %w", name, err)
		}
		opts = append(opts, tools.WithPermissionOverride(name, req))
	}
	return tools.NewRegistry(opts...)
}

// sessionPolicy converts the [policy] section. The confirmer is chosen per
// command.
func sessionPolicy(p config.PolicyConfig) (permission.SessionPolicy, error) {
	ceiling, err := p.Ceiling()
	if err != nil {
		return permission.SessionPolicy{}, err
	}
	tiers := make([]risk.Level, 0, len(p.CacheTiers))
	for _, t := range p.CacheTiers {
		lvl, err := risk.ParseLevel(t)
		if err != nil {
			return permission.SessionPolicy{}, err
		}
		tiers = append(tiers, lvl)
	}
	return permission.SessionPolicy{
		AutoApproveCeiling: ceiling,
		CacheTiers:         tiers,
		RateLimit:          p.MaxInvocationsPerSecond,
		Burst:              p.Burst,
	}, nil
}

// openAuditStore opens the configured backend.
func openAuditStore(a config.AuditConfig) (audit.Store, error) {
	switch a.Backend {
	case "memory":
		return audit.NewMemoryStore(a.RingSize), nil
	case "jsonl":
		return audit.OpenJSONL(a.Path,
			audit.WithMaxSize(int64(a.MaxSizeMB)*1024*1024),
			audit.WithMaxBackups(a.MaxBackups),
		)
	case "sqlite":
		return audit.OpenSQLite(a.Path, time.Duration(a.RetentionDays)*24*time.Hour)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", a.Backend)
	}
}
