package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/qhkm/zeptoclaw/internal/cache"
	"github.com/qhkm/zeptoclaw/internal/providers"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/internal/tools"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Terminal user-facing notices. Plain prose, never stack traces.
const (
	noticeBudgetExhausted = "I've used up my token budget for this session. Send another message to continue with a fresh allowance."
	noticeTimeout         = "I ran out of time working on that. Anything in progress was stopped; feel free to try again or narrow the request."
	noticeIterationCap    = "[Stopped: reached the tool iteration limit before finishing.]"
)

// HandleMessage runs one full turn for an inbound message. The caller holds
// the session lock; exactly one terminal outbound is published per call.
func (l *Loop) HandleMessage(ctx context.Context, msg models.InboundMessage) {
	sessionKey := msg.SessionKey()
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	l.bus.EmitPanel(models.PanelEvent{
		Type: models.PanelMessageReceived, SessionKey: sessionKey,
		Channel: msg.Channel, Timestamp: time.Now(),
	})
	l.bus.EmitPanel(models.PanelEvent{
		Type: models.PanelAgentStarted, SessionKey: sessionKey,
		Channel: msg.Channel, Timestamp: time.Now(),
	})

	inv := tools.Invocation{
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SessionKey: sessionKey,
		Workspace:  l.cfg.Workspace,
	}

	session, err := l.store.Load(sessionKey)
	if err != nil {
		l.logger.Error("session load failed, starting fresh", "session", sessionKey, "error", err)
		session = &sessions.Session{Key: sessionKey, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	}

	if l.budgetExhausted(sessionKey) {
		l.finish(msg, sessionKey, noticeBudgetExhausted, 0, start)
		return
	}

	system := l.buildSystemPrompt(msg.Content)

	// The cache is consulted only here, for the initial call of a turn;
	// tool-resulting follow-ups never hit it.
	cacheKey := cache.Key(l.cfg.Model, system, msg.Content)
	if text, ok := l.cache.Get(cacheKey); ok {
		session.Append(models.Message{Role: models.RoleUser, Content: msg.Content})
		session.Append(models.Message{Role: models.RoleAssistant, Content: text})
		session.Turns++
		l.saveSession(session)
		l.finish(msg, sessionKey, text, 0, start)
		return
	}

	messages := l.buildMessages(session, msg.Content)
	session.Append(models.Message{Role: models.RoleUser, Content: msg.Content})
	specs := l.toolSpecs()

	totalTokens := 0
	lastText := ""

	for iteration := 0; iteration < l.cfg.MaxToolIterations; iteration++ {
		if iteration > 0 && l.budgetExhausted(sessionKey) {
			l.saveSession(session)
			l.finish(msg, sessionKey, noticeBudgetExhausted, totalTokens, start)
			return
		}

		resp, reduced, err := l.callProvider(runCtx, system, messages, specs, sessionKey)
		messages = reduced
		if err != nil {
			l.saveSession(session)
			l.finish(msg, sessionKey, l.describeFailure(runCtx, err), totalTokens, start)
			return
		}

		totalTokens += resp.Usage.Total()
		l.chargeBudget(sessionKey, resp.Usage.Total())
		lastText = resp.Text

		if len(resp.ToolCalls) == 0 {
			if iteration == 0 {
				l.cache.Put(cacheKey, resp.Text, resp.Usage.Total())
			}
			session.Append(models.Message{Role: models.RoleAssistant, Content: resp.Text})
			session.Turns++
			l.saveSession(session)
			l.finish(msg, sessionKey, resp.Text, totalTokens, start)
			return
		}

		assistantMsg := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)

		results := l.executeTools(runCtx, inv, resp.ToolCalls)
		if runCtx.Err() != nil {
			// Timed out mid-execution: partial results are discarded, the
			// session keeps only what was complete before this iteration.
			l.saveSession(session)
			l.finish(msg, sessionKey, noticeTimeout, totalTokens, start)
			return
		}

		toolMsg := models.Message{Role: models.RoleTool, ToolResults: results}
		messages = append(messages, toolMsg)
		session.Append(assistantMsg)
		session.Append(toolMsg)
	}

	// Iteration cap: emit best-effort text plus a note.
	text := noticeIterationCap
	if strings.TrimSpace(lastText) != "" {
		text = lastText + "\n\n" + noticeIterationCap
	}
	session.Turns++
	l.saveSession(session)
	l.finish(msg, sessionKey, text, totalTokens, start)
}

// callProvider performs one provider call with context-overflow recovery:
// up to three reduction tiers before the error surfaces.
func (l *Loop) callProvider(ctx context.Context, system string, messages []models.Message, specs []providers.ToolSpec, sessionKey string) (*providers.Response, []models.Message, error) {
	tier := 0
	for {
		req := &providers.Request{
			Model:       l.cfg.Model,
			System:      system,
			Messages:    messages,
			Tools:       specs,
			MaxTokens:   l.cfg.MaxTokens,
			Temperature: l.cfg.Temperature,
		}

		start := time.Now()
		chunks, err := l.provider.Complete(ctx, req)
		var resp *providers.Response
		if err == nil {
			resp, err = l.collectStream(chunks, sessionKey)
		}
		elapsed := time.Since(start)

		if err == nil {
			l.metrics.RecordRequest(l.provider.Name(), l.cfg.Model, resp.Usage, elapsed, true)
			return resp, messages, nil
		}

		l.metrics.RecordRequest(l.provider.Name(), l.cfg.Model, models.Usage{}, elapsed, false)

		if providers.KindOf(err) == providers.KindContextOverflow && tier < maxCompactionTiers {
			tier++
			reduced, changed := l.compact(messages, tier, sessionKey)
			if changed {
				l.logger.Info("context overflow, reduced history", "tier", tier, "session", sessionKey)
				messages = reduced
			}
			continue
		}
		return nil, messages, err
	}
}

// collectStream drains provider chunks, forwarding text deltas to the
// streaming sink when one is wired.
func (l *Loop) collectStream(chunks <-chan *providers.Chunk, sessionKey string) (*providers.Response, error) {
	var text strings.Builder
	resp := &providers.Response{}
	for chunk := range chunks {
		if chunk.Err != nil {
			for range chunks {
			}
			return nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if l.onDelta != nil {
				l.onDelta(sessionKey, chunk.Text)
			}
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			resp.Usage.InputTokens = chunk.InputTokens
			resp.Usage.OutputTokens = chunk.OutputTokens
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// describeFailure renders a terminal provider failure as plain prose.
func (l *Loop) describeFailure(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return noticeTimeout
	}
	switch providers.KindOf(err) {
	case providers.KindContextOverflow:
		return "This conversation has grown too large for me to process, even after compacting history. Starting a new conversation will fix it."
	case providers.KindRateLimited:
		return "The model provider is rate limiting me right now. Give it a moment and try again."
	case providers.KindAuthFailed:
		return "I couldn't authenticate with the model provider. The API credentials need attention."
	default:
		return "I hit a problem talking to the model provider and couldn't recover. Please try again."
	}
}

// finish publishes the single terminal outbound and the AgentDone event.
func (l *Loop) finish(msg models.InboundMessage, sessionKey, text string, tokens int, start time.Time) {
	l.bus.PublishOutbound(models.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   text,
		Timestamp: time.Now(),
	})
	l.bus.EmitPanel(models.PanelEvent{
		Type:       models.PanelAgentDone,
		SessionKey: sessionKey,
		Channel:    msg.Channel,
		Tokens:     tokens,
		Duration:   time.Since(start),
		Timestamp:  time.Now(),
	})
}

func (l *Loop) saveSession(session *sessions.Session) {
	if err := l.store.Save(session); err != nil {
		l.logger.Error("session save failed", "session", session.Key, "error", err)
	}
}
