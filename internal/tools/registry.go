// Package tools is the single table of functions the voice agent may call:
// each entry carries the JSON schema sent to the provider and the handler
// that runs when the provider invokes it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/satriahrh/voicebridge/domain/entities"
)

// Result is the structured output of a handler. The orchestrator adds
// "ok": true when the handler did not set it.
type Result map[string]any

// Handler runs one invocation. args has already passed schema validation.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Tool is one registry entry.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler

	schemaJSON []byte
}

// NewTool derives the argument schema from Args and decodes the arguments
// into it before calling fn.
func NewTool[Args any](name, description string, fn func(ctx context.Context, args Args) (Result, error)) (*Tool, error) {
	schema, err := jsonschema.For[Args](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to derive schema for %s: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handler: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args Args
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// Registry maps tool names to tools. It is built at startup and read-only
// afterwards in practice, but Register is safe at any time.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	order     []string
	validator *SchemaValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		validator: NewSchemaValidator(),
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}
	schemaJSON, err := json.Marshal(tool.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema for %s: %w", tool.Name, err)
	}
	if tool.Schema == nil {
		schemaJSON = []byte(`{"type":"object"}`)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	tool.schemaJSON = schemaJSON
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// MustRegister is Register that panics, for static startup tables.
func (r *Registry) MustRegister(tool *Tool, err error) {
	if err != nil {
		panic(err)
	}
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names lists tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions produces the tool list of the session configuration.
func (r *Registry) Definitions() []entities.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]entities.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, entities.ToolDefinition{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  json.RawMessage(tool.schemaJSON),
		})
	}
	return defs
}

// Validate checks raw arguments against the tool's schema.
func (r *Registry) Validate(tool *Tool, args json.RawMessage) error {
	return r.validator.ValidateArgs(tool.Name, tool.schemaJSON, args)
}
