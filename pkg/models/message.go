// Package models defines the shared data model for the ZeptoClaw runtime:
// inbound/outbound envelopes, conversation messages, tool calls, and the
// panel event stream.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies a message channel (telegram, discord, slack, cli, ...).
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelCLI      ChannelType = "cli"
	ChannelCron     ChannelType = "cron"

	// ChannelDelegate is the sentinel channel for sub-agent runs. Tools that
	// would spawn further sub-agents check for it to break recursion.
	ChannelDelegate ChannelType = "delegate"
)

// InboundMessage is the envelope a channel publishes onto the bus when an
// external message arrives. Immutable once created.
type InboundMessage struct {
	Channel   ChannelType `json:"channel"`
	SenderID  string      `json:"sender_id"`
	ChatID    string      `json:"chat_id"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionKey derives the session identity for this message.
// Sessions are scoped per channel and per chat.
func (m *InboundMessage) SessionKey() string {
	return string(m.Channel) + ":" + m.ChatID
}

// OutboundMessage is the envelope the agent publishes for a channel to
// deliver. Immutable once created.
type OutboundMessage struct {
	Channel   ChannelType `json:"channel"`
	ChatID    string      `json:"chat_id"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request from the LLM to invoke a named tool.
// Input is the raw JSON argument payload as produced by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult carries the outcome of one tool call back to the LLM.
// Errors are communicated as results with IsError set, so the model can
// self-correct instead of the turn failing.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one record in a session transcript.
//
// Invariants maintained by the agent loop:
//   - every ToolCall in an assistant message is answered by exactly one
//     ToolResult in the following tool message, in call order
//   - no user message interleaves between an assistant message with tool
//     calls and its tool results
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Usage reports token consumption for a single provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
