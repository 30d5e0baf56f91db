// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jeranaias/rigrun-guard/internal/toolerr"
)

// =============================================================================
// PARAMETER SCHEMA
// =============================================================================

// Schema defines a tool's parameters.
type Schema struct {
	Parameters []Parameter
}

// Parameter defines a single tool parameter.
type Parameter struct {
	// Name of the parameter
	Name string

	// Type is the JSON type ("string", "integer", "number", "boolean",
	// "array", "object")
	Type string

	// Required indicates if the parameter must be provided
	Required bool

	// Description explains the parameter
	Description string

	// Default is the value used when the parameter is omitted
	Default any

	// Enum restricts a string parameter to fixed values
	Enum []string

	// Minimum and Maximum bound numeric parameters
	Minimum *float64
	Maximum *float64

	// MinItems bounds array parameters
	MinItems int

	// Items describes array elements
	Items *Parameter

	// Properties describes object fields
	Properties []Parameter
}

func bound(v float64) *float64 { return &v }

// Document renders the schema as a JSON Schema object. Unknown arguments are
// rejected.
func (s Schema) Document() map[string]any {
	return objectDocument(s.Parameters)
}

func objectDocument(params []Parameter) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.Name] = p.document()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (p Parameter) document() map[string]any {
	if p.Type == "object" {
		doc := objectDocument(p.Properties)
		if p.Description != "" {
			doc["description"] = p.Description
		}
		return doc
	}
	doc := map[string]any{"type": p.Type}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if p.Default != nil {
		doc["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		doc["enum"] = p.Enum
	}
	if p.Minimum != nil {
		doc["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		doc["maximum"] = *p.Maximum
	}
	if p.Type == "array" {
		if p.MinItems > 0 {
			doc["minItems"] = p.MinItems
		}
		if p.Items != nil {
			doc["items"] = p.Items.document()
		}
	}
	return doc
}

// compileSchema compiles the tool's schema once, at registry construction.
func compileSchema(name string, s Schema) (*jsonschema.Schema, error) {
	// the compiler wants JSON-decoded values, not Go maps of typed slices
	raw, err := json.Marshal(s.Document())
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", name, err)
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return sch, nil
}

// normalizeArgs round-trips args through JSON, so tools always see the
// types a JSON decoder produces regardless of how the caller built the map.
func normalizeArgs(args map[string]any) (Args, any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, toolerr.Wrap(toolerr.InvalidParameters, err, "arguments are not JSON-encodable")
	}
	var decoded Args
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, toolerr.Wrap(toolerr.InvalidParameters, err, "arguments are not a JSON object")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, toolerr.Wrap(toolerr.InvalidParameters, err, "arguments are not valid JSON")
	}
	return decoded, instance, nil
}

// validateSchema checks a JSON-decoded instance against the compiled schema.
func validateSchema(t *Tool, instance any) error {
	if t.compiled == nil {
		return nil
	}
	err := t.compiled.Validate(instance)
	if err == nil {
		return nil
	}
	e := toolerr.New(toolerr.InvalidParameters, "arguments do not match the schema")
	e.Tool = t.Name
	if causes := violations(err); len(causes) > 0 {
		e.Message = "invalid arguments: " + causes[0]
		e = e.With("violations", causes)
	}
	return e
}

// violations returns one entry per failed keyword, taken from the indented
// lines of the validator's report.
func violations(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		out = append(out, strings.TrimPrefix(line, "- "))
	}
	if len(out) == 0 {
		out = append(out, firstLine(err.Error()))
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
