package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/qhkm/zeptoclaw/internal/agent"
	"github.com/qhkm/zeptoclaw/internal/approval"
	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/cache"
	"github.com/qhkm/zeptoclaw/internal/channels"
	clichannel "github.com/qhkm/zeptoclaw/internal/channels/cli"
	"github.com/qhkm/zeptoclaw/internal/channels/discord"
	slackchannel "github.com/qhkm/zeptoclaw/internal/channels/slack"
	"github.com/qhkm/zeptoclaw/internal/channels/telegram"
	"github.com/qhkm/zeptoclaw/internal/config"
	"github.com/qhkm/zeptoclaw/internal/cron"
	"github.com/qhkm/zeptoclaw/internal/hooks"
	"github.com/qhkm/zeptoclaw/internal/memory"
	"github.com/qhkm/zeptoclaw/internal/providers"
	"github.com/qhkm/zeptoclaw/internal/runtime"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/internal/telemetry"
	"github.com/qhkm/zeptoclaw/internal/tools"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// App owns the assembled runtime: bus, channels, provider stack, agent
// loop, dispatcher, and the cron producer.
type App struct {
	cfg        *config.Config
	bus        *bus.Bus
	metrics    *telemetry.Metrics
	dispatcher *Dispatcher
	chanReg    *channels.Registry
	cron       *cron.Service
	logger     *slog.Logger
}

// NewApp builds the runtime from config. Unrecoverable problems (no
// provider credentials, unavailable container runtime with fallback
// disabled) surface here so main can exit non-zero.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := slog.With("component", "app")
	stateDir := defaultStateDir()

	b := bus.New()
	metrics := telemetry.NewMetrics()

	provider, err := buildProviderStack(cfg)
	if err != nil {
		return nil, err
	}

	rt, err := runtime.NewFromConfig(ctx, cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("container runtime: %w", err)
	}

	sessionsDir := cfg.Sessions.Dir
	if sessionsDir == "" {
		sessionsDir = filepath.Join(stateDir, "sessions")
	}
	store, err := sessions.NewFileStore(sessionsDir)
	if err != nil {
		return nil, err
	}

	cachePath := cfg.Cache.Path
	if cachePath == "" {
		cachePath = filepath.Join(stateDir, "cache.json")
	}
	respCache := cache.New(cache.Config{
		Enabled:    cfg.Cache.Enabled,
		Path:       cachePath,
		TTL:        time.Duration(cfg.Cache.TTLSecs) * time.Second,
		MaxEntries: cfg.Cache.MaxEntries,
	})

	memoryPath := cfg.Memory.Path
	if memoryPath == "" {
		memoryPath = filepath.Join(stateDir, "memory.json")
	}
	memStore := memory.NewStore(memoryPath)

	workspace := cfg.Workspace
	if workspace == "" {
		workspace = filepath.Join(stateDir, "workspace")
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	mode, err := autonomy.ParseMode(cfg.Security.AgentMode)
	if err != nil {
		return nil, err
	}
	queueMode, err := sessions.ParseQueueMode(cfg.Agents.Defaults.MessageQueueMode)
	if err != nil {
		return nil, err
	}

	chanReg := channels.NewRegistry()
	var prompter approval.Prompter
	if cfg.Channels.CLI.Enabled {
		cliCh := clichannel.New(b)
		chanReg.Register(cliCh)
		prompter = cliCh
	}
	if cfg.Channels.Telegram.Enabled {
		chanReg.Register(telegram.New(telegram.Config{
			Token:  cfg.Channels.Telegram.Token,
			Policy: accessPolicy(cfg.Channels.Telegram.ChannelAccess),
		}, b))
	}
	if cfg.Channels.Discord.Enabled {
		chanReg.Register(discord.New(discord.Config{
			Token:  cfg.Channels.Discord.Token,
			Policy: accessPolicy(cfg.Channels.Discord.ChannelAccess),
		}, b))
	}
	if cfg.Channels.Slack.Enabled {
		chanReg.Register(slackchannel.New(slackchannel.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Policy:   accessPolicy(cfg.Channels.Slack.ChannelAccess),
		}, b))
	}

	gate := approval.NewGate(cfg.Approval, prompter)
	hookEngine := hooks.NewEngine(cfg.Hooks, b, metrics)

	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool(rt, 60*time.Second))
	registry.Register(&tools.ReadFileTool{})
	registry.Register(&tools.WriteFileTool{})
	registry.Register(&tools.ListDirTool{})
	registry.Register(tools.NewWebFetchTool(30 * time.Second))
	registry.Register(tools.NewMemorySaveTool(memStore))
	registry.Register(tools.NewMemorySearchTool(memStore))
	registry.Register(tools.NewSendMessageTool(b))

	defaults := cfg.Agents.Defaults
	loop := agent.New(agent.Deps{
		Provider: provider,
		Registry: registry,
		Store:    store,
		Cache:    respCache,
		Bus:      b,
		Hooks:    hookEngine,
		Metrics:  metrics,
		Gate:     gate,
		Memory:   memStore,
	}, agent.Config{
		Model:               defaults.Model,
		SystemPrompt:        defaults.SystemPrompt,
		MaxTokens:           defaults.MaxTokens,
		Temperature:         defaults.Temperature,
		MaxToolIterations:   defaults.MaxToolIterations,
		Timeout:             time.Duration(defaults.AgentTimeoutSecs) * time.Second,
		TokenBudget:         defaults.TokenBudget,
		Mode:                mode,
		Workspace:           workspace,
		MaxInjectedMemories: cfg.Memory.MaxInjected,
	})

	// The delegate tool closes over the loop, so it registers last.
	registry.Register(tools.NewDelegateTool(loop))

	dispatcher := NewDispatcher(b, sessions.NewManager(), loop, chanReg, queueMode)

	var cronSvc *cron.Service
	if len(cfg.Cron) > 0 {
		jobs := make([]cron.Job, 0, len(cfg.Cron))
		for _, job := range cfg.Cron {
			jobs = append(jobs, cron.Job{
				Schedule: job.Schedule,
				Channel:  models.ChannelType(job.Channel),
				ChatID:   job.ChatID,
				Message:  job.Message,
			})
		}
		cronSvc, err = cron.New(b, jobs)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfg:        cfg,
		bus:        b,
		metrics:    metrics,
		dispatcher: dispatcher,
		chanReg:    chanReg,
		cron:       cronSvc,
		logger:     logger,
	}, nil
}

// Run starts channels and the dispatcher and blocks until the context ends.
func (a *App) Run(ctx context.Context) error {
	a.chanReg.StartAll(ctx, a.bus)
	if a.cron != nil {
		a.cron.Start()
	}
	a.logger.Info("zeptoclaw running", "channels", len(a.chanReg.List()))

	a.dispatcher.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.cron != nil {
		a.cron.Stop()
	}
	a.chanReg.StopAll(stopCtx)
	a.bus.Close()
	return nil
}

// Metrics exposes the collector for the doctor command and tests.
func (a *App) Metrics() *telemetry.Metrics {
	return a.metrics
}

// buildProviderStack assembles base -> retry -> fallback from config.
func buildProviderStack(cfg *config.Config) (providers.Provider, error) {
	base := map[string]providers.Provider{}

	if cfg.Providers.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:       cfg.Providers.Anthropic.APIKey,
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			DefaultModel: cfg.Providers.Anthropic.Model,
		})
		if err != nil {
			return nil, err
		}
		base["anthropic"] = p
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:       cfg.Providers.OpenAI.APIKey,
			BaseURL:      cfg.Providers.OpenAI.BaseURL,
			DefaultModel: cfg.Providers.OpenAI.Model,
		})
		if err != nil {
			return nil, err
		}
		base["openai"] = p
	}
	if len(base) == 0 {
		return nil, fmt.Errorf("no provider configured: set an anthropic or openai API key")
	}

	retryCfg := providers.RetryConfig{
		MaxRetries: cfg.Providers.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Providers.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Providers.Retry.MaxDelayMs) * time.Millisecond,
	}

	primaryName := cfg.Providers.Primary
	primary, ok := base[primaryName]
	if !ok {
		for name, p := range base {
			primaryName, primary = name, p
			break
		}
	}
	stack := providers.Provider(providers.NewRetry(primary, retryCfg))

	secondaryName := cfg.Providers.Secondary
	if secondaryName == "" {
		for name := range base {
			if name != primaryName {
				secondaryName = name
			}
		}
	}
	if secondary, ok := base[secondaryName]; ok && secondaryName != primaryName {
		stack = providers.NewFallback(stack, providers.NewRetry(secondary, retryCfg), providers.FallbackConfig{
			BreakerThreshold: cfg.Providers.Fallback.BreakerThreshold,
			BreakerCooldown:  time.Duration(cfg.Providers.Fallback.BreakerCooldownSecs) * time.Second,
		})
	}
	return stack, nil
}

func accessPolicy(access config.ChannelAccess) channels.AccessPolicy {
	return channels.AccessPolicy{
		AllowFrom:     access.AllowFrom,
		DenyByDefault: access.DenyByDefault,
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zeptoclaw"
	}
	return filepath.Join(home, ".zeptoclaw")
}
