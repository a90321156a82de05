// Package tools holds the tool contract, the registry that executes tools
// by name, the result sanitizer, and the built-in tool set (shell, files,
// web, memory, messaging, delegation).
package tools

import (
	"context"
	"encoding/json"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Tool is the capability contract every tool implements.
//
// Execute receives the raw JSON argument payload. When the registry could
// not parse the model's arguments, the payload is a synthetic
// {"_parse_error": "..."} object instead, so the tool (and through it the
// model) can self-correct rather than the call hard-failing.
type Tool interface {
	// Name is the unique, stable identifier used by the LLM.
	Name() string

	// Description tells the LLM what the tool does.
	Description() string

	// CompactDescription is a short variant for token-budgeted contexts.
	CompactDescription() string

	// Category is the coarse risk class used by the autonomy policy.
	Category() autonomy.Category

	// Schema is the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Errors become error-result strings in the
	// transcript; they never abort the turn.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// Invocation carries per-call context: where the triggering message came
// from and which session is running.
type Invocation struct {
	Channel    models.ChannelType
	ChatID     string
	SenderID   string
	SessionKey string
	Workspace  string
}

type invocationKey struct{}

// WithInvocation attaches the invocation to a context.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom extracts the invocation, if any.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
