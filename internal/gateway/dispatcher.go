// Package gateway wires the runtime together: the dispatcher pulls inbound
// envelopes off the bus, serializes them per session through the lock
// manager, runs the agent loop, and replays queued messages per the
// configured queue mode.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/channels"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Handler processes one inbound message to completion. The agent loop
// implements it.
type Handler interface {
	HandleMessage(ctx context.Context, msg models.InboundMessage)
}

// Dispatcher routes inbound messages into per-session turns.
type Dispatcher struct {
	bus       *bus.Bus
	manager   *sessions.Manager
	handler   Handler
	registry  *channels.Registry
	queueMode sessions.QueueMode
	logger    *slog.Logger
	wg        sync.WaitGroup
	inbound   <-chan models.InboundMessage
	outbound  <-chan models.OutboundMessage
}

// NewDispatcher creates a dispatcher. It subscribes to the bus here, so
// messages published after construction reach Run.
func NewDispatcher(b *bus.Bus, manager *sessions.Manager, handler Handler, registry *channels.Registry, queueMode sessions.QueueMode) *Dispatcher {
	if queueMode == "" {
		queueMode = sessions.QueueCollect
	}
	return &Dispatcher{
		bus:       b,
		manager:   manager,
		handler:   handler,
		registry:  registry,
		queueMode: queueMode,
		logger:    slog.With("component", "gateway"),
		inbound:   b.SubscribeInbound(),
		outbound:  b.SubscribeOutbound(),
	}
}

// Run consumes the bus until the context ends. Sessions proceed
// concurrently with each other; messages within one session are strictly
// serialized by the lock manager.
func (d *Dispatcher) Run(ctx context.Context) {
	inbound := d.inbound
	outbound := d.outbound

	go d.registry.PumpOutbound(ctx, outbound)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case msg, ok := <-inbound:
			if !ok {
				d.wg.Wait()
				return
			}
			d.dispatch(ctx, msg)
		}
	}
}

// dispatch starts a turn, or queues the message when the session is busy.
func (d *Dispatcher) dispatch(ctx context.Context, msg models.InboundMessage) {
	if !d.manager.AcquireOrEnqueue(msg) {
		d.logger.Debug("session busy, message queued",
			"session", msg.SessionKey(), "pending", d.manager.PendingCount(msg.SessionKey()))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		key := msg.SessionKey()
		defer d.manager.Release(key, d.replay)
		d.handler.HandleMessage(ctx, msg)
	}()
}

// replay re-publishes messages that queued up during the finished turn,
// before the session lock is released. Collect mode folds them into one
// synthetic inbound; followup mode replays them individually in arrival
// order.
func (d *Dispatcher) replay(pending []models.InboundMessage) {
	if len(pending) == 0 {
		return
	}
	if d.queueMode == sessions.QueueFollowup {
		for _, msg := range pending {
			d.bus.PublishInbound(msg)
		}
		return
	}
	synthetic := sessions.CollectPending(pending)
	synthetic.Timestamp = time.Now()
	d.bus.PublishInbound(synthetic)
}
