package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qhkm/zeptoclaw/internal/providers"
	"github.com/qhkm/zeptoclaw/internal/tools"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// subAgentIterations bounds a delegated task's tool loop. Sub-agents get a
// tighter leash than the main loop.
const subAgentIterations = 5

// RunSubAgent implements tools.SubAgentRunner: a delegated task runs as a
// compact nested loop with its own throwaway conversation under the
// delegate sentinel channel. No cache, no queue, no persistence; the
// result is the sub-agent's final text.
func (l *Loop) RunSubAgent(ctx context.Context, task string) (string, error) {
	sessionKey := string(models.ChannelDelegate) + ":" + uuid.NewString()
	inv := tools.Invocation{
		Channel:    models.ChannelDelegate,
		ChatID:     sessionKey,
		SenderID:   "delegate",
		SessionKey: sessionKey,
		Workspace:  l.cfg.Workspace,
	}

	system := "You are a sub-agent handling one delegated task. Complete it and reply with the result only."
	messages := []models.Message{{Role: models.RoleUser, Content: task, CreatedAt: time.Now()}}
	specs := l.toolSpecs()

	for iteration := 0; iteration < subAgentIterations; iteration++ {
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
			resp, err = providers.Collect(chunks)
		}
		elapsed := time.Since(start)
		if err != nil {
			l.metrics.RecordRequest(l.provider.Name(), l.cfg.Model, models.Usage{}, elapsed, false)
			return "", fmt.Errorf("sub-agent provider call: %w", err)
		}
		l.metrics.RecordRequest(l.provider.Name(), l.cfg.Model, resp.Usage, elapsed, true)
		l.chargeBudget(sessionKey, resp.Usage.Total())

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		messages = append(messages, models.Message{
			Role: models.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls,
		})
		results := l.executeTools(ctx, inv, resp.ToolCalls)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		messages = append(messages, models.Message{Role: models.RoleTool, ToolResults: results})
	}

	return "", fmt.Errorf("sub-agent exceeded %d tool iterations", subAgentIterations)
}
