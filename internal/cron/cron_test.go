package cron

import (
	"testing"
	"time"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

func TestInvalidScheduleRejected(t *testing.T) {
	b := bus.New()
	defer b.Close()
	if _, err := New(b, []Job{{Schedule: "not a schedule", ChatID: "c", Message: "m"}}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if _, err := New(b, []Job{{Schedule: "* * * * *", ChatID: "", Message: "m"}}); err == nil {
		t.Fatal("expected error for missing chat_id")
	}
}

func TestFirePublishesInbound(t *testing.T) {
	b := bus.New()
	defer b.Close()
	inbound := b.SubscribeInbound()
	panel := b.SubscribePanel()

	s, err := New(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.fire(Job{Schedule: "* * * * *", ChatID: "c1", Message: "daily checkin"})

	select {
	case msg := <-inbound:
		if msg.Channel != models.ChannelCron || msg.Content != "daily checkin" || msg.SenderID != "cron" {
			t.Fatalf("inbound = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no inbound published")
	}

	select {
	case ev := <-panel:
		if ev.Type != models.PanelCronFired {
			t.Fatalf("panel = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no panel event")
	}
}
