package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Anthropic implements Provider against the Claude Messages API.
//
// The base provider does exactly one attempt per Complete call and surfaces
// classified errors; retry and failover policy live in the Retry and
// Fallback wrappers so the behavior is identical across providers.
//
// Thread safety: safe for concurrent use. Each Complete call creates an
// independent stream and goroutine.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures the Claude provider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL optionally overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropic creates a Claude provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Anthropic) Name() string {
	return "anthropic"
}

// Complete sends one chat turn and streams the response.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, wrap(p.Name(), model, 0, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, wrap(p.Name(), model, 0, err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		p.processStream(stream, chunks, model)
	}()
	return chunks, nil
}

// processStream converts Anthropic SSE events into chunks. Tool calls
// arrive as a block start (id, name) followed by partial-JSON deltas and a
// block stop; the complete call is emitted at block stop.
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	var currentToolCall *models.ToolCall
	var toolInput []byte
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput = toolInput[:0]
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				toolInput = append(toolInput, delta.PartialJSON...)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := toolInput
				if len(input) == 0 {
					input = []byte("{}")
				}
				currentToolCall.Input = json.RawMessage(append([]byte(nil), input...))
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &Chunk{Err: wrap(p.Name(), model, 0, errors.New("anthropic stream error"))}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: p.wrapError(err, model)}
		return
	}
	// Stream ended without message_stop; report what we have.
	chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

// wrapError classifies SDK errors, preserving the HTTP status when the SDK
// surfaces one.
func (p *Anthropic) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return wrap(p.Name(), model, apiErr.StatusCode, err)
	}
	return wrap(p.Name(), model, 0, err)
}

// convertMessages translates the internal transcript to Anthropic content
// blocks. Tool results become user-role tool_result blocks; tool calls
// become assistant-role tool_use blocks.
func (p *Anthropic) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *Anthropic) convertTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
