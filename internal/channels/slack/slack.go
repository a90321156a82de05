// Package slack adapts Slack via Socket Mode to the bus envelope contract.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/channels"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Config configures the Slack channel. Socket Mode needs both a bot token
// (xoxb-) and an app-level token (xapp-).
type Config struct {
	BotToken string
	AppToken string
	Policy   channels.AccessPolicy
}

// Channel is the Slack adapter.
type Channel struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	client  *slackapi.Client
	socket  *socketmode.Client
	cancel  context.CancelFunc
	running bool
}

// New creates a Slack channel.
func New(cfg Config, b *bus.Bus) *Channel {
	return &Channel{
		cfg:    cfg,
		bus:    b,
		logger: slog.With("component", "channel.slack"),
	}
}

func (c *Channel) Name() models.ChannelType {
	return models.ChannelSlack
}

func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.cfg.BotToken == "" || c.cfg.AppToken == "" {
		return fmt.Errorf("slack: bot_token and app_token are required")
	}

	client := slackapi.New(c.cfg.BotToken, slackapi.OptionAppLevelToken(c.cfg.AppToken))
	socket := socketmode.New(client)
	c.client = client
	c.socket = socket

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.eventLoop(runCtx)
	go func() {
		if err := socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			c.logger.Error("socket mode stopped", "error", err)
		}
	}()

	c.running = true
	c.logger.Info("slack channel started")
	return nil
}

func (c *Channel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if event.Request != nil {
					c.socket.Ack(*event.Request)
				}
				c.handleEventsAPI(apiEvent)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					c.socket.Ack(*event.Request)
				}
			case socketmode.EventTypeConnectionError:
				c.logger.Warn("slack connection error")
			}
		}
	}
}

func (c *Channel) handleEventsAPI(apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Skip bot echoes and edits.
		if ev.BotID != "" || ev.SubType != "" || ev.Text == "" {
			return
		}
		if !c.IsAllowed(ev.User) {
			c.logger.Warn("rejecting message from unlisted sender", "sender", ev.User)
			return
		}
		c.bus.PublishInbound(models.InboundMessage{
			Channel:   c.Name(),
			SenderID:  ev.User,
			ChatID:    ev.Channel,
			Content:   ev.Text,
			Timestamp: time.Now(),
		})
	}
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

func (c *Channel) Send(ctx context.Context, msg models.OutboundMessage) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("slack: not started")
	}
	_, _, err := client.PostMessageContext(ctx, msg.ChatID,
		slackapi.MsgOptionText(msg.Content, false))
	return err
}

func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Channel) IsAllowed(senderID string) bool {
	return c.cfg.Policy.Allowed(senderID)
}
