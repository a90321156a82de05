package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
)

// resolvePath resolves a workspace-relative path and rejects escapes.
func resolvePath(root, path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return target, nil
}

func workspaceFrom(ctx context.Context) string {
	if inv, ok := InvocationFrom(ctx); ok {
		return inv.Workspace
	}
	return "."
}

// ReadFileTool reads a file from the session workspace.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Paths are resolved relative to the workspace root and may not escape it."
}
func (t *ReadFileTool) CompactDescription() string  { return "Read a workspace file." }
func (t *ReadFileTool) Category() autonomy.Category { return autonomy.CategoryFilesystemRead }

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path relative to the workspace."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Path       string `json:"path"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	path, err := resolvePath(workspaceFrom(ctx), args.Path)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return string(data), nil
}

// WriteFileTool writes a file into the session workspace.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed."
}
func (t *WriteFileTool) CompactDescription() string  { return "Write a workspace file." }
func (t *WriteFileTool) Category() autonomy.Category { return autonomy.CategoryFilesystemWrite }

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path relative to the workspace."},
			"content": {"type": "string", "description": "Content to write."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Path       string `json:"path"`
		Content    string `json:"content"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	path, err := resolvePath(workspaceFrom(ctx), args.Path)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "Error: " + err.Error(), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "Error: " + err.Error(), nil
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct{}

func (t *ListDirTool) Name() string                { return "list_dir" }
func (t *ListDirTool) Description() string         { return "List the entries of a workspace directory." }
func (t *ListDirTool) CompactDescription() string  { return "List a directory." }
func (t *ListDirTool) Category() autonomy.Category { return autonomy.CategoryFilesystemRead }

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path relative to the workspace. Defaults to the root."}
		}
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Path       string `json:"path"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	if args.Path == "" {
		args.Path = "."
	}
	path, err := resolvePath(workspaceFrom(ctx), args.Path)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
