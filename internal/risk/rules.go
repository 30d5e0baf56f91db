// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// RULES
// =============================================================================

// Rule is a regex pattern matched against a whole, normalised command.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Level   Level  `yaml:"level"`
	Message string `yaml:"message"`

	re *regexp.Regexp
}

// Compile compiles the rule's pattern. It is idempotent.
func (r *Rule) Compile() error {
	if r.re != nil {
		return nil
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %q: empty pattern", r.Name)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	r.re = re
	return nil
}

// Match reports whether the compiled rule matches s.
func (r *Rule) Match(s string) bool {
	return r.re != nil && r.re.MatchString(s)
}

// ProgramTables extends the built-in program classification tables.
type ProgramTables struct {
	Low      []string `yaml:"low"`
	Medium   []string `yaml:"medium"`
	High     []string `yaml:"high"`
	Critical []string `yaml:"critical"`
}

// RuleFile is the YAML schema root for command rules.
//
//	rules:
//	  - name: fork-bomb
//	    pattern: ':\(\)\s*\{'
//	    level: critical
//	deny:
//	  - name: disk-wipe
//	    pattern: '\bshred\b.*\/dev\/'
//	programs:
//	  medium: [bazel]
type RuleFile struct {
	Rules    []Rule        `yaml:"rules"`
	Deny     []Rule        `yaml:"deny"`
	Programs ProgramTables `yaml:"programs"`
}

// LoadRuleFile reads a YAML rule file. A missing file yields an empty RuleFile,
// so only the built-in defaults apply.
func LoadRuleFile(path string) (*RuleFile, error) {
	rf := &RuleFile{}
	if path == "" {
		return rf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rf, nil
		}
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	for i := range rf.Rules {
		if err := rf.Rules[i].Compile(); err != nil {
			return nil, err
		}
	}
	for i := range rf.Deny {
		if err := rf.Deny[i].Compile(); err != nil {
			return nil, err
		}
	}
	return rf, nil
}

// =============================================================================
// DEFAULT RULES
// =============================================================================

// DefaultRules are the whole-command patterns applied before tokenization.
// Fork bombs span control operators, so they cannot be caught per segment.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "fork-bomb", Pattern: `:\s*\(\s*\)\s*\{[^}]*:\s*\|\s*:`, Level: Critical, Message: "fork bomb"},
		{Name: "fork-bomb-func", Pattern: `(\w+)\s*\(\s*\)\s*\{[^}]*\|\s*\w+\s*&`, Level: Critical, Message: "self-replicating function"},
		{Name: "filesystem-format", Pattern: `\bmkfs(\.\w+)?\b`, Level: Critical, Message: "formats a filesystem"},
		{Name: "raw-device-write", Pattern: `\bdd\b[^|;&]*\bof=/dev/`, Level: Critical, Message: "writes to a raw device"},
		{Name: "device-redirect", Pattern: `>\s*/dev/(sd|hd|nvme|xvd|vd|disk)`, Level: Critical, Message: "overwrites a block device"},
		{Name: "recursive-root-chmod", Pattern: `\bch(mod|own|grp)\s+(-\w*R\w*\s+)+\S*\s+/(\s|$)`, Level: Critical, Message: "recursive permission change on /"},
		{Name: "system-power", Pattern: `(^|[\s;&|])(shutdown|reboot|halt|poweroff|init\s+[06])(\s|$)`, Level: Critical, Message: "shuts down or reboots the host"},
		{Name: "pipe-to-shell", Pattern: `\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|k|da)?sh\b`, Level: Critical, Message: "executes downloaded code"},
		{Name: "history-wipe", Pattern: `\bhistory\s+-c\b`, Level: High, Message: "clears shell history"},
		{Name: "crontab-remove", Pattern: `\bcrontab\s+-r\b`, Level: High, Message: "removes crontab"},
	}
}

// DefaultDenyRules are patterns refused outright before any classification.
func DefaultDenyRules() []Rule {
	return []Rule{
		{Name: "rm-root", Pattern: `\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*(--no-preserve-root\s+)?(/|/\*|~|~/|\$HOME|\$\{HOME\})(\s|$|;|&|\|)`, Message: "recursive delete of a root-level path"},
		{Name: "rm-no-preserve-root", Pattern: `--no-preserve-root`, Message: "disables root deletion safeguard"},
		{Name: "fork-bomb", Pattern: `:\s*\(\s*\)\s*\{[^}]*:\s*\|\s*:`, Message: "fork bomb"},
		{Name: "filesystem-format", Pattern: `\bmkfs(\.\w+)?\b`, Message: "formats a filesystem"},
		{Name: "raw-device-write", Pattern: `\bdd\b[^|;&]*\bof=/dev/(sd|hd|nvme|xvd|vd|disk)`, Message: "writes to a raw device"},
		{Name: "device-redirect", Pattern: `>\s*/dev/(sd|hd|nvme|xvd|vd|disk)`, Message: "overwrites a block device"},
	}
}

// compileRules returns compiled copies of rules.
func compileRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, len(rules))
	copy(out, rules)
	for i := range out {
		if err := out[i].Compile(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompileDenyRules returns the default deny rules followed by extra, compiled.
func CompileDenyRules(extra []Rule) ([]Rule, error) {
	return compileRules(append(DefaultDenyRules(), extra...))
}
