package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// SubAgentRunner runs a nested agent turn and returns its final text.
// The agent loop implements this; the indirection keeps the tools package
// from importing the loop.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, task string) (string, error)
}

// DelegateTool hands a task to a sub-agent with its own conversation.
// Sub-agents run under the sentinel delegate channel; invoked from that
// channel, the tool refuses to run, which bans recursive delegation.
type DelegateTool struct {
	runner SubAgentRunner
}

func NewDelegateTool(runner SubAgentRunner) *DelegateTool {
	return &DelegateTool{runner: runner}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return "Delegate a self-contained task to a sub-agent and return its result. The sub-agent cannot delegate further."
}

func (t *DelegateTool) CompactDescription() string  { return "Delegate a task to a sub-agent." }
func (t *DelegateTool) Category() autonomy.Category { return autonomy.CategoryShell }

func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "A complete, self-contained task description."}
		},
		"required": ["task"]
	}`)
}

func (t *DelegateTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Task       string `json:"task"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	if strings.TrimSpace(args.Task) == "" {
		return "Error: task is required", nil
	}

	if inv, ok := InvocationFrom(ctx); ok && inv.Channel == models.ChannelDelegate {
		return "Error: sub-agents cannot delegate further", nil
	}

	result, err := t.runner.RunSubAgent(ctx, args.Task)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return result, nil
}
