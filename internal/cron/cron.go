// Package cron publishes scheduled inbound messages onto the bus. To the
// rest of the runtime a cron firing is just another inbound producer; the
// dispatcher treats it like any user message.
package cron

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Job is one scheduled message.
type Job struct {
	Schedule string
	Channel  models.ChannelType
	ChatID   string
	Message  string
}

// Service runs the schedule table.
type Service struct {
	bus    *bus.Bus
	runner *cron.Cron
	logger *slog.Logger
}

// New creates a cron service with the given jobs registered. Invalid
// schedules are reported, not ignored.
func New(b *bus.Bus, jobs []Job) (*Service, error) {
	s := &Service{
		bus:    b,
		runner: cron.New(),
		logger: slog.With("component", "cron"),
	}
	for _, job := range jobs {
		job := job
		if job.Message == "" || job.ChatID == "" {
			return nil, fmt.Errorf("cron job needs message and chat_id")
		}
		if _, err := s.runner.AddFunc(job.Schedule, func() { s.fire(job) }); err != nil {
			return nil, fmt.Errorf("cron schedule %q: %w", job.Schedule, err)
		}
	}
	return s, nil
}

func (s *Service) fire(job Job) {
	s.logger.Info("cron fired", "schedule", job.Schedule, "chat_id", job.ChatID)
	channel := job.Channel
	if channel == "" {
		channel = models.ChannelCron
	}
	s.bus.PublishInbound(models.InboundMessage{
		Channel:   channel,
		SenderID:  "cron",
		ChatID:    job.ChatID,
		Content:   job.Message,
		Timestamp: time.Now(),
	})
	s.bus.EmitPanel(models.PanelEvent{
		Type:      models.PanelCronFired,
		Channel:   channel,
		Detail:    job.Schedule,
		Timestamp: time.Now(),
	})
}

// Start begins running schedules.
func (s *Service) Start() {
	s.runner.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Service) Stop() {
	ctx := s.runner.Stop()
	<-ctx.Done()
}
