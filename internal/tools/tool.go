// Package tools declares the structured calls the analysis model may emit.
// Calls are proposals: the decision policy maps them to ledger actions, no
// tool is executed against a real system.
package tools

import (
	"encoding/json"
	"sort"
)

// Tool is a capability offered to the model during analysis.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage // JSON Schema
}

// ToolDef is the format for tool definitions expected by the AI API, derived from the Tool interface.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry holds available tools and converts them to the AI API format.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, keyed by its Name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name, returns the tool and a boolean indicating if it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ToToolDefs returns the tool definitions sorted by name.
func (r *Registry) ToToolDefs() []ToolDef {
	out := make([]ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
