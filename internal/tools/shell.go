package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/runtime"
)

// ShellTool executes a shell command through the configured container
// runtime. The workdir comes from the invocation context, never from the
// model; the timeout is the tool's default unless the call passes
// timeout_secs.
type ShellTool struct {
	rt             runtime.Runtime
	defaultTimeout time.Duration
	mounts         []runtime.Mount
	env            map[string]string
}

// NewShellTool creates the shell tool bound to a runtime.
func NewShellTool(rt runtime.Runtime, defaultTimeout time.Duration) *ShellTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &ShellTool{rt: rt, defaultTimeout: defaultTimeout}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command in the agent's sandboxed runtime and return stdout, stderr, and the exit code."
}

func (t *ShellTool) CompactDescription() string { return "Run a shell command." }

func (t *ShellTool) Category() autonomy.Category { return autonomy.CategoryShell }

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to execute."},
			"timeout_secs": {"type": "integer", "description": "Optional timeout override in seconds.", "minimum": 1, "maximum": 600}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Command     string `json:"command"`
		TimeoutSecs int    `json:"timeout_secs"`
		ParseError  string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	if strings.TrimSpace(args.Command) == "" {
		return "Error: command is required", nil
	}

	timeout := t.defaultTimeout
	if args.TimeoutSecs > 0 {
		timeout = time.Duration(args.TimeoutSecs) * time.Second
	}

	cfg := runtime.Config{
		Mounts:  t.mounts,
		Env:     t.env,
		Timeout: timeout,
	}
	if inv, ok := InvocationFrom(ctx); ok {
		cfg.Workdir = inv.Workspace
	}

	out, err := t.rt.Execute(ctx, args.Command, cfg)
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	var b strings.Builder
	if out.Stdout != "" {
		b.WriteString(out.Stdout)
	}
	if out.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(out.Stderr)
	}
	if out.ExitCode != nil && *out.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "exit code: %d", *out.ExitCode)
	}
	if b.Len() == 0 {
		return "(no output)", nil
	}
	return b.String(), nil
}
