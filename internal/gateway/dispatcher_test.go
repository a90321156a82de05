package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/channels"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// blockingHandler records handled messages and blocks each turn until
// released.
type blockingHandler struct {
	mu      sync.Mutex
	handled []models.InboundMessage
	release chan struct{}
	started chan struct{}
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (h *blockingHandler) HandleMessage(ctx context.Context, msg models.InboundMessage) {
	h.mu.Lock()
	h.handled = append(h.handled, msg)
	h.mu.Unlock()
	h.started <- struct{}{}
	<-h.release
}

func (h *blockingHandler) contents() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.handled))
	for i, m := range h.handled {
		out[i] = m.Content
	}
	return out
}

func inbound(content string) models.InboundMessage {
	return models.InboundMessage{
		Channel: models.ChannelCLI, SenderID: "u1", ChatID: "c1",
		Content: content, Timestamp: time.Now(),
	}
}

func TestQueueCollectPublishesOneSynthetic(t *testing.T) {
	b := bus.New()
	defer b.Close()

	handler := newBlockingHandler()
	d := NewDispatcher(b, sessions.NewManager(), handler, channels.NewRegistry(), sessions.QueueCollect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	b.PublishInbound(inbound("A"))
	<-handler.started // turn A is running

	b.PublishInbound(inbound("B"))
	b.PublishInbound(inbound("C"))
	// Give the dispatcher time to enqueue both.
	time.Sleep(100 * time.Millisecond)

	handler.release <- struct{}{} // finish turn A

	// The synthetic message starts its own turn.
	select {
	case <-handler.started:
	case <-time.After(2 * time.Second):
		t.Fatal("synthetic turn never started")
	}
	handler.release <- struct{}{}

	got := handler.contents()
	if len(got) != 2 {
		t.Fatalf("handled %d turns, want 2 (A + one synthetic): %v", len(got), got)
	}
	want := "[Queued messages while I was busy]\n\n1. B\n2. C"
	if !strings.HasPrefix(got[1], want) {
		t.Fatalf("synthetic = %q, want prefix %q", got[1], want)
	}
}

func TestQueueFollowupReplaysIndividually(t *testing.T) {
	b := bus.New()
	defer b.Close()

	handler := newBlockingHandler()
	d := NewDispatcher(b, sessions.NewManager(), handler, channels.NewRegistry(), sessions.QueueFollowup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	b.PublishInbound(inbound("A"))
	<-handler.started

	b.PublishInbound(inbound("B"))
	b.PublishInbound(inbound("C"))
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		handler.release <- struct{}{}
		if i < 2 {
			select {
			case <-handler.started:
			case <-time.After(2 * time.Second):
				t.Fatalf("turn %d never started", i+2)
			}
		}
	}

	got := handler.contents()
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("handled = %v", got)
	}
}

func TestDifferentSessionsRunConcurrently(t *testing.T) {
	b := bus.New()
	defer b.Close()

	handler := newBlockingHandler()
	d := NewDispatcher(b, sessions.NewManager(), handler, channels.NewRegistry(), sessions.QueueCollect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	m1 := inbound("one")
	m2 := inbound("two")
	m2.ChatID = "c2"
	b.PublishInbound(m1)
	b.PublishInbound(m2)

	// Both turns must start without either being released.
	for i := 0; i < 2; i++ {
		select {
		case <-handler.started:
		case <-time.After(2 * time.Second):
			t.Fatal("sessions did not run concurrently")
		}
	}
	handler.release <- struct{}{}
	handler.release <- struct{}{}
}
