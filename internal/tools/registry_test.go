package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
)

// echoTool returns its raw params, letting tests observe what the registry
// actually delivered.
type echoTool struct {
	name string
}

func (e *echoTool) Name() string                { return e.name }
func (e *echoTool) Description() string         { return "echoes params" }
func (e *echoTool) CompactDescription() string  { return "echo" }
func (e *echoTool) Category() autonomy.Category { return autonomy.CategoryMemory }
func (e *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
}

func (e *echoTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return string(params), nil
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "echo"})

	out, err := r.Execute(context.Background(), "echo", `{"text":"hi"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"hi"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Execute(context.Background(), "nope", "{}"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegistryParseErrorSynthesized(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "echo"})

	out, err := r.Execute(context.Background(), "echo", `{"text": not json`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "_parse_error") {
		t.Fatalf("expected synthetic parse error, got %q", out)
	}
}

func TestRegistrySchemaViolationSynthesized(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "echo"})

	// Valid JSON, wrong shape: "text" missing.
	out, err := r.Execute(context.Background(), "echo", `{"other": 1}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "_parse_error") {
		t.Fatalf("expected schema violation to synthesize parse error, got %q", out)
	}
}

func TestRegistryDuplicateReplaces(t *testing.T) {
	r := NewRegistry()
	first := &echoTool{name: "echo"}
	second := &echoTool{name: "echo"}
	r.Register(first)
	r.Register(second)

	if got := len(r.List()); got != 1 {
		t.Fatalf("List() has %d entries, want 1", got)
	}
	tool, _ := r.Get("echo")
	if tool != second {
		t.Fatal("duplicate registration should replace the prior tool")
	}
}

func TestRegistryOrderPreserved(t *testing.T) {
	r := NewRegistry()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		r.Register(&echoTool{name: n})
	}
	for i, tool := range r.List() {
		if tool.Name() != names[i] {
			t.Fatalf("List()[%d] = %s, want %s", i, tool.Name(), names[i])
		}
	}
}

func TestRegistryEmptyArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "echo"})

	out, err := r.Execute(context.Background(), "echo", "")
	if err != nil {
		t.Fatal(err)
	}
	// Empty args become an empty object, which violates the schema and is
	// surfaced to the tool as a parse error.
	if !strings.Contains(out, "_parse_error") {
		t.Fatalf("got %q", out)
	}
}
