package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"agentd/internal/orchestrator/providers"
)

// ToolHandler executes one tool call against a turn's Context and returns
// the text to append as the tool-result message.
type ToolHandler func(ctx context.Context, tc *ToolContext, args json.RawMessage) (string, error)

// ToolDescriptor is an explicit tool-descriptor record (spec §9 redesign:
// replaces decorator/reflection-based discovery) registered into a
// session: name, schema, description, and a typed handler.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     ToolHandler
}

// ToolRegistry maps declared tool names to their descriptors. One registry
// instance is shared by every session of the same kind (a "team" session's
// registry simply has two extra entries over a "solo" one, per spec §9's
// "collapse session types" note).
type ToolRegistry struct {
	tools    map[string]ToolDescriptor
	compiled sync.Map // name -> *jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolDescriptor)}
}

// Register adds or replaces a tool descriptor.
func (r *ToolRegistry) Register(d ToolDescriptor) {
	r.tools[d.Name] = d
}

// Get looks up a handler by name.
func (r *ToolRegistry) Get(name string) (ToolDescriptor, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// Schemas renders every registered tool as the LLM-facing schema list.
func (r *ToolRegistry) Schemas() []providers.ToolSchema {
	out := make([]providers.ToolSchema, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, providers.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return out
}

// Subset returns a new registry containing only the named tools, used to
// build a helper agent's restricted tool set (spec §4.7: helpers get
// execute_terminal only).
func (r *ToolRegistry) Subset(names ...string) *ToolRegistry {
	sub := NewToolRegistry()
	for _, n := range names {
		if d, ok := r.tools[n]; ok {
			sub.Register(d)
		}
	}
	return sub
}

// normalizeArgs unwraps double-wrapped tool-call payloads
// (`{name, arguments:{...}}`) per spec §4.6's argument-normalization rule,
// and defaults non-mapping payloads to an empty mapping.
func normalizeArgs(raw json.RawMessage) json.RawMessage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return json.RawMessage(`{}`)
	}
	if inner, ok := probe["arguments"]; ok {
		if _, hasName := probe["name"]; hasName {
			return inner
		}
	}
	return raw
}

// unwrapArgsError is returned when a tool's argument schema cannot be
// satisfied after normalization.
type unwrapArgsError struct {
	Tool string
	Err  error
}

func (e *unwrapArgsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

// ValidateArgs checks args against name's declared JSON schema (spec §9's
// schema-validation supplement), compiling and caching each tool's schema on
// first use. A tool with no schema, or an unknown tool, validates trivially;
// invokeTool already turns an unknown tool into its own synthetic message.
func (r *ToolRegistry) ValidateArgs(name string, args json.RawMessage) error {
	d, ok := r.tools[name]
	if !ok || len(d.Schema) == 0 {
		return nil
	}

	schema, err := r.compiledSchema(d)
	if err != nil {
		return &unwrapArgsError{Tool: name, Err: fmt.Errorf("compile schema: %w", err)}
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &unwrapArgsError{Tool: name, Err: err}
	}
	if err := schema.Validate(decoded); err != nil {
		return &unwrapArgsError{Tool: name, Err: err}
	}
	return nil
}

func (r *ToolRegistry) compiledSchema(d ToolDescriptor) (*jsonschema.Schema, error) {
	if cached, ok := r.compiled.Load(d.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	raw, err := json.Marshal(d.Schema)
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString(d.Name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	r.compiled.Store(d.Name, compiled)
	return compiled, nil
}
