package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists why arguments did not match a tool schema.
type ValidationError struct {
	Tool    string
	Details []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Details, "; ")
}

// SchemaValidator compiles schemas once and validates arguments against them.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*gojsonschema.Schema),
	}
}

// ValidateArgs validates tool arguments against the input schema.
func (sv *SchemaValidator) ValidateArgs(tool string, schemaJSON []byte, args json.RawMessage) error {
	schema, err := sv.getSchema(schemaJSON)
	if err != nil {
		return fmt.Errorf("invalid input schema for tool %s: %w", tool, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("validation error for tool %s: %w", tool, err)
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			details[i] = desc.String()
		}
		return &ValidationError{Tool: tool, Details: details}
	}
	return nil
}

func (sv *SchemaValidator) getSchema(schemaJSON []byte) (*gojsonschema.Schema, error) {
	key := string(schemaJSON)

	sv.mu.Lock()
	defer sv.mu.Unlock()
	if schema, exists := sv.cache[key]; exists {
		return schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(key))
	if err != nil {
		return nil, err
	}
	sv.cache[key] = schema
	return schema, nil
}
