// Package telegram adapts the Telegram Bot API (long polling) to the bus
// envelope contract.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/channels"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Config configures the Telegram channel.
type Config struct {
	Token  string
	Policy channels.AccessPolicy
}

// Channel is the Telegram adapter.
type Channel struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	bot     *tgbot.Bot
	cancel  context.CancelFunc
	running bool
}

// New creates a Telegram channel.
func New(cfg Config, b *bus.Bus) *Channel {
	return &Channel{
		cfg:    cfg,
		bus:    b,
		logger: slog.With("component", "channel.telegram"),
	}
}

func (c *Channel) Name() models.ChannelType {
	return models.ChannelTelegram
}

func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.cfg.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}

	b, err := tgbot.New(c.cfg.Token, tgbot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	c.bot = b

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go b.Start(runCtx)

	c.running = true
	c.logger.Info("telegram channel started")
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	senderID := ""
	if update.Message.From != nil {
		senderID = strconv.FormatInt(update.Message.From.ID, 10)
	}
	if !c.IsAllowed(senderID) {
		c.logger.Warn("rejecting message from unlisted sender", "sender", senderID)
		return
	}
	c.bus.PublishInbound(models.InboundMessage{
		Channel:   c.Name(),
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:   update.Message.Text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
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
	b := c.bot
	c.mu.Unlock()
	if b == nil {
		return fmt.Errorf("telegram: not started")
	}

	var chatID any = msg.ChatID
	if id, err := strconv.ParseInt(msg.ChatID, 10, 64); err == nil {
		chatID = id
	}
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
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
