package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// SendMessageTool publishes an outbound message to any chat, letting the
// agent notify someone other than the requester. Delivery rides the same
// outbound bus path as normal replies.
type SendMessageTool struct {
	bus *bus.Bus
}

func NewSendMessageTool(b *bus.Bus) *SendMessageTool {
	return &SendMessageTool{bus: b}
}

func (t *SendMessageTool) Name() string { return "send_message" }

func (t *SendMessageTool) Description() string {
	return "Send a message to a specific channel and chat, independent of the current conversation."
}

func (t *SendMessageTool) CompactDescription() string  { return "Send a message to a chat." }
func (t *SendMessageTool) Category() autonomy.Category { return autonomy.CategoryMessaging }

func (t *SendMessageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"channel": {"type": "string", "description": "Target channel name. Defaults to the current channel."},
			"chat_id": {"type": "string", "description": "Target chat id. Defaults to the current chat."},
			"content": {"type": "string", "description": "Message text to send."}
		},
		"required": ["content"]
	}`)
}

func (t *SendMessageTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Channel    string `json:"channel"`
		ChatID     string `json:"chat_id"`
		Content    string `json:"content"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}
	if strings.TrimSpace(args.Content) == "" {
		return "Error: content is required", nil
	}

	inv, _ := InvocationFrom(ctx)
	channel := models.ChannelType(args.Channel)
	if channel == "" {
		channel = inv.Channel
	}
	chatID := args.ChatID
	if chatID == "" {
		chatID = inv.ChatID
	}
	if channel == "" || chatID == "" {
		return "Error: channel and chat_id are required outside a conversation", nil
	}

	t.bus.PublishOutbound(models.OutboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		Content:   args.Content,
		Timestamp: time.Now(),
	})
	return fmt.Sprintf("sent to %s:%s", channel, chatID), nil
}
