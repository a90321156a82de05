// Package agent implements the per-message conversational state machine:
// build context, consult the response cache, call the provider stack,
// execute tool calls in parallel under the policy gates, and iterate until
// a terminal condition produces exactly one final outbound message.
//
// The loop runs while the dispatcher holds the session lock and under an
// outer wall-clock timeout. Sessions are append-only within a turn; the
// loop is the only writer.
package agent

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qhkm/zeptoclaw/internal/approval"
	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/cache"
	"github.com/qhkm/zeptoclaw/internal/hooks"
	"github.com/qhkm/zeptoclaw/internal/memory"
	"github.com/qhkm/zeptoclaw/internal/providers"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/internal/telemetry"
	"github.com/qhkm/zeptoclaw/internal/tools"
)

// Config controls loop behavior. Zero values fall back to defaults.
type Config struct {
	// Model names the LLM model for provider calls.
	Model string

	// SystemPrompt is the base system prompt before memory injection.
	SystemPrompt string

	// MaxTokens bounds each provider response.
	MaxTokens int

	// Temperature is passed through to the provider.
	Temperature float64

	// MaxToolIterations caps provider/tool round trips per turn. Default 10.
	MaxToolIterations int

	// Timeout is the outer wall-clock bound per turn. Default 300s.
	Timeout time.Duration

	// TokenBudget is the per-session token allowance; 0 means unlimited.
	TokenBudget int64

	// Mode is the autonomy mode applied to tool categories.
	Mode autonomy.Mode

	// Workspace is the directory tools operate in.
	Workspace string

	// MaxInjectedMemories bounds workspace memory snippets added to context.
	MaxInjectedMemories int

	// HistoryLimit bounds how many transcript messages enter the provider
	// context. Default 50.
	HistoryLimit int
}

func (c *Config) applyDefaults() {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.Mode == "" {
		c.Mode = autonomy.ModeAssistant
	}
	if c.MaxInjectedMemories <= 0 {
		c.MaxInjectedMemories = 5
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
}

// Loop orchestrates turns. One Loop serves all sessions; per-session state
// lives in the session store and the budget map.
type Loop struct {
	provider providers.Provider
	registry *tools.Registry
	store    sessions.Store
	cache    *cache.Cache
	bus      *bus.Bus
	hooks    *hooks.Engine
	metrics  *telemetry.Metrics
	gate     *approval.Gate
	memory   *memory.Store
	cfg      Config
	logger   *slog.Logger

	// onDelta, when set, receives streaming text deltas for channels that
	// support progressive delivery. The final outbound still carries the
	// complete text.
	onDelta func(sessionKey, delta string)

	budgetMu sync.Mutex
	budgets  map[string]*atomic.Int64
}

// Deps bundles the loop's collaborators.
type Deps struct {
	Provider providers.Provider
	Registry *tools.Registry
	Store    sessions.Store
	Cache    *cache.Cache
	Bus      *bus.Bus
	Hooks    *hooks.Engine
	Metrics  *telemetry.Metrics
	Gate     *approval.Gate
	Memory   *memory.Store
}

// New creates a loop.
func New(deps Deps, cfg Config) *Loop {
	cfg.applyDefaults()
	return &Loop{
		provider: deps.Provider,
		registry: deps.Registry,
		store:    deps.Store,
		cache:    deps.Cache,
		bus:      deps.Bus,
		hooks:    deps.Hooks,
		metrics:  deps.Metrics,
		gate:     deps.Gate,
		memory:   deps.Memory,
		cfg:      cfg,
		logger:   slog.With("component", "agent"),
		budgets:  make(map[string]*atomic.Int64),
	}
}

// SetDeltaSink wires a streaming consumer for text deltas.
func (l *Loop) SetDeltaSink(sink func(sessionKey, delta string)) {
	l.onDelta = sink
}

// budgetFor returns the session's remaining-token counter, creating it at
// the configured allowance on first use.
func (l *Loop) budgetFor(sessionKey string) *atomic.Int64 {
	l.budgetMu.Lock()
	defer l.budgetMu.Unlock()
	b, ok := l.budgets[sessionKey]
	if !ok {
		b = &atomic.Int64{}
		b.Store(l.cfg.TokenBudget)
		l.budgets[sessionKey] = b
	}
	return b
}

// budgetExhausted reports whether the session has spent its allowance.
func (l *Loop) budgetExhausted(sessionKey string) bool {
	if l.cfg.TokenBudget <= 0 {
		return false
	}
	return l.budgetFor(sessionKey).Load() <= 0
}

// chargeBudget decrements the session allowance by observed usage.
func (l *Loop) chargeBudget(sessionKey string, tokens int) {
	if l.cfg.TokenBudget <= 0 {
		return
	}
	l.budgetFor(sessionKey).Add(-int64(tokens))
}
