package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry maps tool names to tool instances. Registration order is
// preserved for display; lookup is by name. Read-mostly: writes happen at
// startup, so the registry sits behind a read-write lock.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  slog.With("component", "tools"),
	}
}

// Register adds a tool. A duplicate name replaces the prior tool and is
// logged. The tool's parameter schema is compiled once here; a schema that
// does not compile disables argument validation for that tool but does not
// reject it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("replacing previously registered tool", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool

	if schema, err := compileSchema(name, tool.Schema()); err != nil {
		r.logger.Warn("tool schema does not compile, skipping validation",
			"tool", name, "error", err)
		delete(r.schemas, name)
	} else {
		r.schemas[name] = schema
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs a tool by name with the given raw JSON arguments.
//
// Malformed or schema-invalid arguments are not an execution failure: the
// tool receives a synthetic {"_parse_error": "..."} payload so the model
// can observe its mistake and retry.
func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	params := json.RawMessage(args)
	if strings.TrimSpace(args) == "" {
		params = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		params = syntheticParseError(fmt.Sprintf("arguments are not valid JSON: %v", err))
	} else if schema != nil {
		if err := schema.Validate(decoded); err != nil {
			params = syntheticParseError(fmt.Sprintf("arguments do not match schema: %v", err))
		}
	}

	return tool.Execute(ctx, params)
}

func syntheticParseError(msg string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"_parse_error": msg})
	return payload
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
