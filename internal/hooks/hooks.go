// Package hooks dispatches config-driven actions around tool execution:
// before a tool runs, after it completes, and on error. Hooks observe the
// pipeline, they never steer it: a hook cannot cancel a tool (only the
// autonomy and approval gates do that), and a slow hook is cut off rather
// than allowed to stall the turn.
package hooks

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Stage identifies where in the tool pipeline a hook fires.
type Stage string

const (
	StageBeforeTool Stage = "before_tool"
	StageAfterTool  Stage = "after_tool"
	StageOnError    Stage = "on_error"
)

// ActionType enumerates what a matched rule does.
type ActionType string

const (
	ActionLog    ActionType = "log"
	ActionMetric ActionType = "metric"
	ActionNotify ActionType = "notify"
)

// Rule is one configured hook.
type Rule struct {
	Stage Stage `json:"stage"`

	// ToolPattern and ChannelPattern filter events; empty matches all.
	ToolPattern    string `json:"tool_pattern"`
	ChannelPattern string `json:"channel_pattern"`

	Action ActionType `json:"action"`

	// Level and Template apply to log and notify actions. Templates expand
	// {tool}, {channel}, {session}, {error}, and {result}.
	Level    string `json:"level,omitempty"`
	Template string `json:"template,omitempty"`

	// Metric names the counter for metric actions.
	Metric string `json:"metric,omitempty"`

	// Channel and ChatID address notify actions.
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// Event carries the context a hook can observe.
type Event struct {
	Tool       string
	Channel    models.ChannelType
	SessionKey string
	Result     string
	Error      string
	Duration   time.Duration
}

// MetricSink receives metric-action increments. The telemetry package
// implements it.
type MetricSink interface {
	IncHookCounter(name string)
}

// hookBudget bounds each individual hook action.
const hookBudget = 2 * time.Second

// Engine evaluates rules sequentially per firing.
type Engine struct {
	rules   []Rule
	bus     *bus.Bus
	metrics MetricSink
	logger  *slog.Logger
}

// NewEngine creates a hook engine. bus and metrics may be nil; actions that
// need a missing sink are skipped with a warning.
func NewEngine(rules []Rule, b *bus.Bus, metrics MetricSink) *Engine {
	return &Engine{
		rules:   rules,
		bus:     b,
		metrics: metrics,
		logger:  slog.With("component", "hooks"),
	}
}

// Fire runs all rules matching the stage and event, in order. Errors and
// overruns are logged and swallowed.
func (e *Engine) Fire(ctx context.Context, stage Stage, ev Event) {
	for _, rule := range e.rules {
		if rule.Stage != stage {
			continue
		}
		if !matches(rule.ToolPattern, ev.Tool) {
			continue
		}
		if !matches(rule.ChannelPattern, string(ev.Channel)) {
			continue
		}
		e.run(ctx, rule, ev)
	}
}

func (e *Engine) run(ctx context.Context, rule Rule, ev Event) {
	runCtx, cancel := context.WithTimeout(ctx, hookBudget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		switch rule.Action {
		case ActionLog:
			e.doLog(rule, ev)
		case ActionMetric:
			e.doMetric(rule)
		case ActionNotify:
			e.doNotify(rule, ev)
		default:
			e.logger.Warn("unknown hook action", "action", rule.Action)
		}
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		e.logger.Warn("hook exceeded budget, abandoning",
			"action", rule.Action, "tool", ev.Tool)
	}
}

func (e *Engine) doLog(rule Rule, ev Event) {
	msg := expand(rule.Template, ev)
	switch strings.ToLower(rule.Level) {
	case "debug":
		e.logger.Debug(msg, "tool", ev.Tool, "channel", ev.Channel)
	case "warn":
		e.logger.Warn(msg, "tool", ev.Tool, "channel", ev.Channel)
	case "error":
		e.logger.Error(msg, "tool", ev.Tool, "channel", ev.Channel)
	default:
		e.logger.Info(msg, "tool", ev.Tool, "channel", ev.Channel)
	}
}

func (e *Engine) doMetric(rule Rule) {
	if e.metrics == nil || rule.Metric == "" {
		return
	}
	e.metrics.IncHookCounter(rule.Metric)
}

func (e *Engine) doNotify(rule Rule, ev Event) {
	if e.bus == nil || rule.Channel == "" || rule.ChatID == "" {
		e.logger.Warn("notify hook missing bus or address")
		return
	}
	e.bus.PublishOutbound(models.OutboundMessage{
		Channel:   models.ChannelType(rule.Channel),
		ChatID:    rule.ChatID,
		Content:   expand(rule.Template, ev),
		Timestamp: time.Now(),
	})
}

// expand substitutes event fields into a template.
func expand(template string, ev Event) string {
	if template == "" {
		template = "{tool} on {channel}"
	}
	r := strings.NewReplacer(
		"{tool}", ev.Tool,
		"{channel}", string(ev.Channel),
		"{session}", ev.SessionKey,
		"{error}", ev.Error,
		"{result}", ev.Result,
	)
	return r.Replace(template)
}

func matches(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if pattern == value {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
