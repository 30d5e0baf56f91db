// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"fmt"
	"slices"
	"sort"

	"github.com/jeranaias/rigrun-guard/internal/permission"
)

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds the tools available to an executor. The set is fixed at
// construction.
type Registry struct {
	tools map[string]*Tool

	// Permission overrides (tool name -> requirement)
	overrides map[string]permission.Requirement
}

type registryOptions struct {
	tools        []*Tool
	capabilities map[Capability]bool
	disabled     map[string]bool
	overrides    map[string]permission.Requirement
}

// Option configures NewRegistry.
type Option func(*registryOptions)

// WithTools adds tools to the registry.
func WithTools(tools ...*Tool) Option {
	return func(o *registryOptions) {
		o.tools = append(o.tools, tools...)
	}
}

// WithCapabilities restricts the registry to tools whose every capability is
// in caps. Without it all capabilities are allowed.
func WithCapabilities(caps ...Capability) Option {
	return func(o *registryOptions) {
		o.capabilities = make(map[Capability]bool, len(caps))
		for _, c := range caps {
			o.capabilities[c] = true
		}
	}
}

// WithDisabled leaves the named tools out.
func WithDisabled(names ...string) Option {
	return func(o *registryOptions) {
		for _, n := range names {
			o.disabled[n] = true
		}
	}
}

// WithPermissionOverride replaces a tool's default permission requirement.
func WithPermissionOverride(name string, req permission.Requirement) Option {
	return func(o *registryOptions) {
		o.overrides[name] = req
	}
}

// NewRegistry builds a registry and compiles every tool's argument schema.
func NewRegistry(opts ...Option) (*Registry, error) {
	o := &registryOptions{
		disabled:  make(map[string]bool),
		overrides: make(map[string]permission.Requirement),
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{
		tools:     make(map[string]*Tool),
		overrides: o.overrides,
	}
	for _, t := range o.tools {
		if t == nil || t.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if t.Executor == nil {
			return nil, fmt.Errorf("tool %s has no executor", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", t.Name)
		}
		if c, ok := unknownCapability(t); ok {
			return nil, fmt.Errorf("tool %s declares unknown capability %q", t.Name, c)
		}
		if o.disabled[t.Name] || !allowed(t, o.capabilities) {
			continue
		}
		sch, err := compileSchema(t.Name, t.Schema)
		if err != nil {
			return nil, err
		}
		registered := *t
		registered.compiled = sch
		r.tools[t.Name] = &registered
	}
	return r, nil
}

func unknownCapability(t *Tool) (Capability, bool) {
	for _, c := range t.Capabilities {
		if !slices.Contains(AllCapabilities(), c) {
			return c, true
		}
	}
	return "", false
}

func allowed(t *Tool, caps map[Capability]bool) bool {
	if caps == nil {
		return true
	}
	for _, c := range AllCapabilities() {
		if t.HasCapability(c) && !caps[c] {
			return false
		}
	}
	return true
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []*Tool {
	tools := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Requirement returns the effective permission requirement for a tool.
func (r *Registry) Requirement(name string) permission.Requirement {
	if req, ok := r.overrides[name]; ok {
		return req
	}
	if t, ok := r.tools[name]; ok {
		return t.Permission
	}
	return permission.RequireNever
}

// Describe returns descriptors for every tool, with any permission override
// applied.
func (r *Registry) Describe() []Descriptor {
	all := r.All()
	out := make([]Descriptor, len(all))
	for i, t := range all {
		d := t.Describe()
		d.Permission = r.Requirement(t.Name).String()
		out[i] = d
	}
	return out
}
