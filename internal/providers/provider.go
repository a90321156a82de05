// Package providers implements the LLM provider stack: Claude-style and
// OpenAI-style base providers translating the internal message list to
// their wire schemas, plus the composable retry and fallback wrappers that
// present a single provider-call contract to the agent loop.
//
// Responses stream as a channel of chunks. Non-streaming callers use
// Collect to drain the stream into one response. Errors are classified into
// a small taxonomy (see errors.go) the wrappers make decisions on.
package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Provider is the single provider-call contract. Implementations must be
// safe for concurrent use: multiple sessions call Complete simultaneously.
type Provider interface {
	// Name returns the stable provider identifier used for routing, logging,
	// and metrics labels.
	Name() string

	// Complete sends a chat turn and returns a stream of response chunks.
	// The channel closes when the stream completes or fails; a failure is
	// delivered as a chunk with Err set.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// ToolSpec describes one tool in provider-neutral form. The agent loop
// builds these from the tool registry; base providers translate them to
// their wire schemas.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request contains one chat turn: conversation history, system prompt,
// available tools, and generation limits.
type Request struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Chunk is one streaming event. Exactly one of Text, ToolCall, Done, or Err
// is meaningful per chunk; usage totals ride on the Done chunk.
type Chunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	InputTokens  int
	OutputTokens int
	Err          error
}

// Response is the collected form of a completed stream.
type Response struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// Collect drains a chunk stream into a single response. The first error
// chunk aborts the drain and is returned.
func Collect(chunks <-chan *Chunk) (*Response, error) {
	var text strings.Builder
	resp := &Response{}
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			resp.Usage.InputTokens = chunk.InputTokens
			resp.Usage.OutputTokens = chunk.OutputTokens
		}
	}
	resp.Text = text.String()
	return resp, nil
}
