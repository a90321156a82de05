// Package approval implements the interactive approval gate that runs after
// the autonomy check. The gate matches tool names against configured
// patterns, asks for a yes/no decision through a channel-specific prompter,
// and caches decisions for the rest of the session.
package approval

import (
	"context"
	"log/slog"
	"path"
	"sync"
)

// Prompter asks a human for a yes/no decision. Implementations are channel
// specific; a CLI channel reads stdin, a chat channel sends a prompt message
// and waits for a reply.
type Prompter interface {
	RequestApproval(ctx context.Context, req Request) (bool, error)
}

// Request describes one pending tool invocation.
type Request struct {
	SessionKey string
	Channel    string
	ChatID     string
	ToolName   string
	Arguments  string

	// Forced marks requests routed here by the autonomy policy. A forced
	// request ignores the gate's own require/auto-approve rules: the policy
	// already decided a prompt is mandatory.
	Forced bool
}

// Config mirrors the approval section of the runtime config.
type Config struct {
	Enabled         bool     `json:"enabled"`
	RequireApproval []string `json:"require_approval"`
	AutoApprove     []string `json:"auto_approve"`
}

// Gate evaluates approval policy. Safe for concurrent use.
type Gate struct {
	cfg      Config
	prompter Prompter
	logger   *slog.Logger

	mu        sync.Mutex
	decisions map[string]bool
}

// NewGate creates a gate. A nil prompter denies every prompt: with no
// interactive channel available, unapproved tools must not run.
func NewGate(cfg Config, prompter Prompter) *Gate {
	return &Gate{
		cfg:       cfg,
		prompter:  prompter,
		logger:    slog.With("component", "approval"),
		decisions: make(map[string]bool),
	}
}

// Decide returns whether the tool call may proceed, plus a human-readable
// reason when it may not.
func (g *Gate) Decide(ctx context.Context, req Request) (bool, string) {
	if !req.Forced {
		if !g.cfg.Enabled {
			return true, ""
		}
		if !matchesAny(g.cfg.RequireApproval, req.ToolName) {
			return true, ""
		}
		if matchesAny(g.cfg.AutoApprove, req.ToolName) {
			return true, ""
		}
	}

	cacheKey := req.SessionKey + "\x00" + req.ToolName
	g.mu.Lock()
	decision, cached := g.decisions[cacheKey]
	g.mu.Unlock()
	if cached {
		if decision {
			return true, ""
		}
		return false, "denied earlier this session"
	}

	if g.prompter == nil {
		return false, "approval required but no interactive channel is available"
	}

	approved, err := g.prompter.RequestApproval(ctx, req)
	if err != nil {
		g.logger.Warn("approval prompt failed", "tool", req.ToolName, "error", err)
		return false, "approval prompt failed"
	}

	g.mu.Lock()
	g.decisions[cacheKey] = approved
	g.mu.Unlock()

	if approved {
		return true, ""
	}
	return false, "denied by user"
}

// Reset clears cached decisions for a session.
func (g *Gate) Reset(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.decisions {
		if len(key) > len(sessionKey) && key[:len(sessionKey)] == sessionKey && key[len(sessionKey)] == '\x00' {
			delete(g.decisions, key)
		}
	}
}

// matchesAny matches a tool name against glob-style patterns.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
