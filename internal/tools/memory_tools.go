package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/memory"
)

// MemorySaveTool stores a fact in long-term memory.
type MemorySaveTool struct {
	store *memory.Store
}

func NewMemorySaveTool(store *memory.Store) *MemorySaveTool {
	return &MemorySaveTool{store: store}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save a fact to long-term memory with optional tags and importance. Pinned facts are injected into every future system prompt."
}

func (t *MemorySaveTool) CompactDescription() string  { return "Save a long-term memory." }
func (t *MemorySaveTool) Category() autonomy.Category { return autonomy.CategoryMemory }

func (t *MemorySaveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "description": "The fact to remember."},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "Optional tags for retrieval."},
			"importance": {"type": "number", "minimum": 0, "maximum": 1, "description": "How important the fact is (0-1)."},
			"pinned": {"type": "boolean", "description": "Pin the fact so it never decays."}
		},
		"required": ["text"]
	}`)
}

func (t *MemorySaveTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Text       string   `json:"text"`
		Tags       []string `json:"tags"`
		Importance float64  `json:"importance"`
		Pinned     bool     `json:"pinned"`
		ParseError string   `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	if strings.TrimSpace(args.Text) == "" {
		return "Error: text is required", nil
	}
	id := t.store.Add(args.Text, args.Tags, args.Importance, args.Pinned)
	return "remembered (id " + id + ")", nil
}

// MemorySearchTool retrieves long-term memories by query.
type MemorySearchTool struct {
	store *memory.Store
}

func NewMemorySearchTool(store *memory.Store) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory. Results are ranked by importance with recency decay."
}

func (t *MemorySearchTool) CompactDescription() string  { return "Search long-term memory." }
func (t *MemorySearchTool) Category() autonomy.Category { return autonomy.CategoryMemory }

func (t *MemorySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search terms."},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum results, default 5."}
		},
		"required": ["query"]
	}`)
}

func (t *MemorySearchTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Query      string `json:"query"`
		Limit      int    `json:"limit"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	if args.Limit <= 0 {
		args.Limit = 5
	}

	entries := t.store.Search(args.Query, args.Limit)
	if len(entries) == 0 {
		return "no matching memories", nil
	}
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s", i+1, e.Text)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(e.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
