// Package channels adapts external messaging protocols to the bus envelope
// contract. A channel translates its wire protocol into InboundMessages,
// publishes them, and delivers OutboundMessages addressed to it. Sender
// allowlists are enforced at this boundary, before anything reaches the
// dispatcher.
package channels

import (
	"context"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Channel is the contract every adapter implements.
type Channel interface {
	// Name identifies the channel; outbound envelopes are routed by it.
	Name() models.ChannelType

	// Start connects the channel and begins publishing inbound messages.
	Start(ctx context.Context) error

	// Stop disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers one outbound message over the wire.
	Send(ctx context.Context, msg models.OutboundMessage) error

	// IsRunning reports whether the channel is connected.
	IsRunning() bool

	// IsAllowed reports whether a sender id passes the channel's allowlist.
	IsAllowed(senderID string) bool
}

// AccessPolicy is the allowlist gate shared by all adapters.
//
// Semantics: with DenyByDefault set and a non-empty allowlist, only listed
// senders pass. With DenyByDefault set and an empty allowlist, every sender
// is rejected. Without DenyByDefault, an empty allowlist admits everyone
// and a non-empty one still restricts to its members.
type AccessPolicy struct {
	AllowFrom     []string
	DenyByDefault bool
}

// Allowed applies the policy to a sender id.
func (p AccessPolicy) Allowed(senderID string) bool {
	if len(p.AllowFrom) == 0 {
		return !p.DenyByDefault
	}
	for _, id := range p.AllowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
