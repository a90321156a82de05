package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Registry holds the enabled channels and pumps outbound envelopes from the
// bus to the channel whose name matches.
type Registry struct {
	mu       sync.RWMutex
	channels map[models.ChannelType]Channel
	logger   *slog.Logger
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[models.ChannelType]Channel),
		logger:   slog.With("component", "channels"),
	}
}

// Register adds a channel. A duplicate name replaces the prior channel.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (r *Registry) Get(name models.ChannelType) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// List returns all registered channels.
func (r *Registry) List() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// StartAll starts every channel. A channel that fails to start is logged
// and skipped; one broken transport must not take the runtime down.
func (r *Registry) StartAll(ctx context.Context, b *bus.Bus) {
	for _, ch := range r.List() {
		if err := ch.Start(ctx); err != nil {
			r.logger.Error("channel failed to start", "channel", ch.Name(), "error", err)
			b.EmitPanel(models.PanelEvent{
				Type: models.PanelChannelStatus, Channel: ch.Name(),
				Detail: "start failed: " + err.Error(), Timestamp: time.Now(),
			})
			continue
		}
		b.EmitPanel(models.PanelEvent{
			Type: models.PanelChannelStatus, Channel: ch.Name(),
			Detail: "running", Timestamp: time.Now(),
		})
	}
}

// StopAll stops every channel.
func (r *Registry) StopAll(ctx context.Context) {
	for _, ch := range r.List() {
		if err := ch.Stop(ctx); err != nil {
			r.logger.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}

// PumpOutbound routes outbound envelopes to their channels until the
// subscription closes or the context ends.
func (r *Registry) PumpOutbound(ctx context.Context, sub <-chan models.OutboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			ch, found := r.Get(msg.Channel)
			if !found {
				r.logger.Warn("outbound for unknown channel", "channel", msg.Channel)
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				r.logger.Error("outbound send failed",
					"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
			}
		}
	}
}
