package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qhkm/zeptoclaw/internal/approval"
	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/hooks"
	"github.com/qhkm/zeptoclaw/internal/tools"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// executeTools runs one assistant turn's tool calls. Gating happens
// sequentially in call order (autonomy first, then approval); approved
// calls execute in parallel as sibling tasks. Results land at the index of
// their originating call, so the returned slice always matches call order
// regardless of completion order.
func (l *Loop) executeTools(ctx context.Context, inv tools.Invocation, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	var approved []int

	for i, call := range calls {
		tool, found := l.registry.Get(call.Name)
		if !found {
			results[i] = errorResult(call.ID, fmt.Sprintf("Error: unknown tool %q", call.Name))
			continue
		}

		// Autonomy gate first.
		decision := autonomy.Check(l.cfg.Mode, tool.Category())
		if decision == autonomy.Blocked {
			results[i] = errorResult(call.ID, fmt.Sprintf(
				"Error: tool %q is blocked in %s mode", call.Name, l.cfg.Mode))
			l.emitToolEvent(models.PanelToolFailed, inv, call.Name, "blocked by autonomy policy", 0)
			continue
		}

		// Approval gate second. A RequiresApproval category forces the
		// prompt even when the gate's own rules would auto-approve.
		ok, reason := l.gate.Decide(ctx, approval.Request{
			SessionKey: inv.SessionKey,
			Channel:    string(inv.Channel),
			ChatID:     inv.ChatID,
			ToolName:   call.Name,
			Arguments:  string(call.Input),
			Forced:     decision == autonomy.RequiresApproval,
		})
		if !ok {
			results[i] = errorResult(call.ID, fmt.Sprintf(
				"Error: tool %q not approved: %s", call.Name, reason))
			l.emitToolEvent(models.PanelToolFailed, inv, call.Name, reason, 0)
			continue
		}

		approved = append(approved, i)
	}

	toolCtx := tools.WithInvocation(ctx, inv)
	var wg sync.WaitGroup
	for _, idx := range approved {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = l.runTool(toolCtx, inv, calls[idx])
		}(idx)
	}
	wg.Wait()

	return results
}

// runTool executes one approved call with hooks, metrics, panel events,
// and result sanitization.
func (l *Loop) runTool(ctx context.Context, inv tools.Invocation, call models.ToolCall) models.ToolResult {
	event := hooks.Event{
		Tool:       call.Name,
		Channel:    inv.Channel,
		SessionKey: inv.SessionKey,
	}
	l.hooks.Fire(ctx, hooks.StageBeforeTool, event)
	l.emitToolEvent(models.PanelToolStarted, inv, call.Name, "", 0)

	start := time.Now()
	output, err := l.registry.Execute(ctx, call.Name, string(call.Input))
	elapsed := time.Since(start)

	if err != nil {
		l.metrics.RecordTool(call.Name, elapsed, false)
		event.Error = err.Error()
		event.Duration = elapsed
		l.hooks.Fire(ctx, hooks.StageOnError, event)
		l.emitToolEvent(models.PanelToolFailed, inv, call.Name, err.Error(), elapsed)
		return errorResult(call.ID, "Error: "+err.Error())
	}

	sanitized := tools.Sanitize(output)
	l.metrics.RecordTool(call.Name, elapsed, true)
	event.Result = truncateSnippet(sanitized, 200)
	event.Duration = elapsed
	l.hooks.Fire(ctx, hooks.StageAfterTool, event)
	l.emitToolEvent(models.PanelToolDone, inv, call.Name, "", elapsed)

	return models.ToolResult{ToolCallID: call.ID, Content: sanitized}
}

func (l *Loop) emitToolEvent(kind models.PanelEventType, inv tools.Invocation, tool, detail string, elapsed time.Duration) {
	l.bus.EmitPanel(models.PanelEvent{
		Type:       kind,
		SessionKey: inv.SessionKey,
		Channel:    inv.Channel,
		ToolName:   tool,
		Detail:     detail,
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})
}

func errorResult(callID, content string) models.ToolResult {
	return models.ToolResult{ToolCallID: callID, Content: content, IsError: true}
}
