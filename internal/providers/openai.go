package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// OpenAI implements Provider against the OpenAI chat completions API.
// Like the Anthropic base provider, it makes a single attempt per call and
// leaves retry and failover to the wrappers.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL optionally points at an OpenAI-compatible endpoint.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAI) Name() string {
	return "openai"
}

// Complete sends one chat turn and streams the response.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream assembles tool calls across deltas (arguments arrive in
// fragments keyed by index) and emits them once complete.
func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	toolArgs := make(map[int][]byte)
	var order []int
	var inputTokens, outputTokens int

	flushToolCalls := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			input := toolArgs[idx]
			if len(input) == 0 {
				input = []byte("{}")
			}
			tc.Input = json.RawMessage(input)
			chunks <- &Chunk{ToolCall: tc}
		}
		toolCalls = make(map[int]*models.ToolCall)
		toolArgs = make(map[int][]byte)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &Chunk{Err: p.wrapError(err, model)}
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &models.ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolArgs[idx] = append(toolArgs[idx], tc.Function.Arguments...)
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls()
		}
	}
}

func (p *OpenAI) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return wrap(p.Name(), model, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return wrap(p.Name(), model, reqErr.HTTPStatusCode, err)
	}
	return wrap(p.Name(), model, 0, err)
}

// convertMessages translates the internal transcript to OpenAI chat
// messages. The system prompt leads; tool results become role=tool
// messages referencing their call ids.
func (p *OpenAI) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *OpenAI) convertTools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		}
	}
	return result
}
