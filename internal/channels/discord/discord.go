// Package discord adapts the Discord gateway to the bus envelope contract.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/channels"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Config configures the Discord channel.
type Config struct {
	Token  string
	Policy channels.AccessPolicy
}

// Channel is the Discord adapter.
type Channel struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
	running bool
}

// New creates a Discord channel.
func New(cfg Config, b *bus.Bus) *Channel {
	return &Channel{
		cfg:    cfg,
		bus:    b,
		logger: slog.With("component", "channel.discord"),
	}
}

func (c *Channel) Name() models.ChannelType {
	return models.ChannelDiscord
}

func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.cfg.Token == "" {
		return fmt.Errorf("discord: token is required")
	}

	session, err := discordgo.New("Bot " + c.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	session.AddHandler(c.handleMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	c.session = session
	c.running = true
	c.logger.Info("discord channel started")
	return nil
}

func (c *Channel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore our own messages and other bots.
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		c.logger.Warn("rejecting message from unlisted sender", "sender", m.Author.ID)
		return
	}
	c.bus.PublishInbound(models.InboundMessage{
		Channel:   c.Name(),
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		Content:   m.Content,
		Timestamp: time.Now(),
	})
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			return err
		}
		c.session = nil
	}
	c.running = false
	return nil
}

func (c *Channel) Send(ctx context.Context, msg models.OutboundMessage) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord: not started")
	}
	_, err := session.ChannelMessageSend(msg.ChatID, msg.Content)
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
