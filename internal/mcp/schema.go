package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator validates tool call input against a ToolDescriptor's
// InputSchema before dispatch, so malformed arguments fail fast instead of
// inside the tool's Execute. Compiled schemas are cached per tool name since
// a server's tool list rarely changes between calls.
type schemaValidator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{cached: make(map[string]*jsonschema.Schema)}
}

// validate is a no-op when the tool declares no schema.
func (v *schemaValidator) validate(toolName string, schema json.RawMessage, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.compile(toolName, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("decode input for %s: %w", toolName, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("input for %s: %w", toolName, err)
	}
	return nil
}

func (v *schemaValidator) compile(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cached[toolName]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://tool/" + toolName + ".schema.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, err
	}
	v.cached[toolName] = compiled
	return compiled, nil
}

// forget drops a cached schema, used when a tool is re-registered with a
// different InputSchema under the same name.
func (v *schemaValidator) forget(toolName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cached, toolName)
}
