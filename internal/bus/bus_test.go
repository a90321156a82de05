package bus

import (
	"testing"
	"time"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

func TestPublishInboundBroadcast(t *testing.T) {
	b := New()
	defer b.Close()

	sub1 := b.SubscribeInbound()
	sub2 := b.SubscribeInbound()

	msg := models.InboundMessage{
		Channel:   models.ChannelCLI,
		SenderID:  "u1",
		ChatID:    "c1",
		Content:   "hello",
		Timestamp: time.Now(),
	}
	b.PublishInbound(msg)

	for i, sub := range []<-chan models.InboundMessage{sub1, sub2} {
		select {
		case got := <-sub:
			if got.Content != "hello" || got.SessionKey() != "cli:c1" {
				t.Fatalf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive message", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	defer b.Close()

	// Subscriber that never drains.
	_ = b.SubscribePanel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < panelBuffer*3; i++ {
			b.EmitPanel(models.PanelEvent{Type: models.PanelToolStarted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	sub := b.SubscribeOutbound()
	b.Close()

	b.PublishOutbound(models.OutboundMessage{Channel: models.ChannelCLI})

	if _, ok := <-sub; ok {
		t.Fatal("expected closed subscriber channel")
	}
}
