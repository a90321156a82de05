// Package bus provides the async pub/sub fabric that routes inbound and
// outbound message envelopes between channels and the agent dispatcher, plus
// a lossy broadcast stream of panel events for observability.
//
// Delivery is at-most-once, broadcast to all subscribers. Publishers never
// block: a subscriber that cannot keep up observes dropped events. The bus
// imposes no ordering across session keys; per-session ordering is the
// session lock's job, not the bus's.
package bus

import (
	"log/slog"
	"sync"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

const (
	// inboundBuffer sizes each inbound subscription. The dispatcher drains
	// quickly (it only enqueues per session), so this bound is generous.
	inboundBuffer = 1024

	outboundBuffer = 256
	panelBuffer    = 64
)

// Bus is the in-process message fabric. The zero value is not usable; call New.
type Bus struct {
	mu       sync.RWMutex
	closed   bool
	inbound  []chan models.InboundMessage
	outbound []chan models.OutboundMessage
	panel    []chan models.PanelEvent
	logger   *slog.Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{logger: slog.With("component", "bus")}
}

// PublishInbound broadcasts an inbound envelope to all inbound subscribers.
// Never blocks; full subscribers drop the message.
func (b *Bus) PublishInbound(msg models.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.inbound {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("dropping inbound for slow subscriber",
				"channel", msg.Channel, "chat_id", msg.ChatID)
		}
	}
}

// PublishOutbound broadcasts an outbound envelope to all outbound subscribers.
func (b *Bus) PublishOutbound(msg models.OutboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.outbound {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("dropping outbound for slow subscriber",
				"channel", msg.Channel, "chat_id", msg.ChatID)
		}
	}
}

// EmitPanel broadcasts a panel event. Lossy; slow consumers miss events.
func (b *Bus) EmitPanel(ev models.PanelEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.panel {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscribeInbound registers a new inbound subscriber.
func (b *Bus) SubscribeInbound() <-chan models.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.InboundMessage, inboundBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.inbound = append(b.inbound, ch)
	return ch
}

// SubscribeOutbound registers a new outbound subscriber.
func (b *Bus) SubscribeOutbound() <-chan models.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.OutboundMessage, outboundBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.outbound = append(b.outbound, ch)
	return ch
}

// SubscribePanel registers a new panel event subscriber.
func (b *Bus) SubscribePanel() <-chan models.PanelEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.PanelEvent, panelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.panel = append(b.panel, ch)
	return ch
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.inbound {
		close(ch)
	}
	for _, ch := range b.outbound {
		close(ch)
	}
	for _, ch := range b.panel {
		close(ch)
	}
	b.inbound, b.outbound, b.panel = nil, nil, nil
}
