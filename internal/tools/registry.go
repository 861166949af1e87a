package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/llm"
)

// Handler executes one tool call on behalf of a principal. Arguments have
// already been validated against the tool's declared parameter schema.
type Handler func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error)

// Definition declares one callable function: its schema as presented to the
// model service, and the handler that executes it.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Handler     Handler
}

// Registry holds the declared tool surface with pre-compiled argument
// schemas. Immutable after construction.
type Registry struct {
	defs     []Definition
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry compiles the definitions' parameter schemas and builds the
// dispatch table.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:     defs,
		handlers: make(map[string]Handler, len(defs)),
		schemas:  make(map[string]*jsonschema.Schema, len(defs)),
	}
	for _, d := range defs {
		if _, dup := r.handlers[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool definition: %s", d.Name)
		}
		sch, err := compileSchema(d.Name, d.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", d.Name, err)
		}
		r.handlers[d.Name] = d.Handler
		r.schemas[d.Name] = sch
	}
	return r, nil
}

// Declarations returns the tool schema to send to the model service.
func (r *Registry) Declarations() []llm.Tool {
	out := make([]llm.Tool, len(r.defs))
	for i, d := range r.defs {
		out[i] = llm.Tool{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

// Handler returns the handler for a function name.
func (r *Registry) Handler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// ValidateArguments parses the JSON-encoded arguments and validates them
// against the tool's declared parameter schema.
func (r *Registry) ValidateArguments(name, argsJSON string) (map[string]any, error) {
	sch, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	if argsJSON == "" {
		argsJSON = "{}"
	}
	var parsed any
	if err := json.Unmarshal([]byte(argsJSON), &parsed); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := sch.Validate(parsed); err != nil {
		return nil, fmt.Errorf("argument validation failed: %w", err)
	}

	args, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through JSON so the compiler sees plain decoded values
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid parameter schema: %w", err)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return nil, fmt.Errorf("schema unmarshal error: %w", err)
	}

	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, schemaObj); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return sch, nil
}
