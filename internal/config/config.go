// Package config loads the runtime's single configuration document (JSON5
// or YAML by extension), applies ZEPTOCLAW_* environment overrides, and
// warns about unknown keys with did-you-mean suggestions.
package config

import (
	"github.com/qhkm/zeptoclaw/internal/approval"
	"github.com/qhkm/zeptoclaw/internal/hooks"
	"github.com/qhkm/zeptoclaw/internal/runtime"
)

// Config is the root configuration document.
type Config struct {
	Agents    AgentsConfig          `json:"agents"`
	Providers ProvidersConfig       `json:"providers"`
	Channels  ChannelsConfig        `json:"channels"`
	Runtime   runtime.FactoryConfig `json:"runtime"`
	Cache     CacheConfig           `json:"cache"`
	Security  SecurityConfig        `json:"security"`
	Approval  approval.Config       `json:"approval"`
	Hooks     []hooks.Rule          `json:"hooks"`
	Memory    MemoryConfig          `json:"memory"`
	Cron      []CronJob             `json:"cron"`
	Workspace string                `json:"workspace"`
	Sessions  SessionsConfig        `json:"sessions"`
}

// AgentsConfig holds agent behavior settings.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults configure every agent turn.
type AgentDefaults struct {
	Model             string  `json:"model"`
	SystemPrompt      string  `json:"system_prompt"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	AgentTimeoutSecs  int     `json:"agent_timeout_secs"`
	MessageQueueMode  string  `json:"message_queue_mode"`
	TokenBudget       int64   `json:"token_budget"`
}

// ProvidersConfig holds provider credentials and the retry/fallback knobs.
type ProvidersConfig struct {
	Anthropic ProviderCreds    `json:"anthropic"`
	OpenAI    ProviderCreds    `json:"openai"`
	Primary   string           `json:"primary"`
	Secondary string           `json:"secondary"`
	Retry     RetrySettings    `json:"retry"`
	Fallback  FallbackSettings `json:"fallback"`
}

// ProviderCreds configures one provider backend.
type ProviderCreds struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// RetrySettings configure the retry wrapper.
type RetrySettings struct {
	MaxRetries  int `json:"max_retries"`
	BaseDelayMs int `json:"base_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms"`
}

// FallbackSettings configure the fallback wrapper's circuit breaker.
type FallbackSettings struct {
	BreakerThreshold    int `json:"breaker_threshold"`
	BreakerCooldownSecs int `json:"breaker_cooldown_secs"`
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	CLI      CLIChannelConfig      `json:"cli"`
	Telegram TelegramChannelConfig `json:"telegram"`
	Discord  DiscordChannelConfig  `json:"discord"`
	Slack    SlackChannelConfig    `json:"slack"`
}

// ChannelAccess is the allowlist shared by all channels. With
// deny_by_default set and a non-empty allowlist, only listed senders pass;
// with deny_by_default set and an empty allowlist, every sender is
// rejected.
type ChannelAccess struct {
	AllowFrom     []string `json:"allow_from"`
	DenyByDefault bool     `json:"deny_by_default"`
}

// CLIChannelConfig configures the stdin/stdout channel.
type CLIChannelConfig struct {
	Enabled bool `json:"enabled"`
}

// TelegramChannelConfig configures the Telegram channel.
type TelegramChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChannelAccess
}

// DiscordChannelConfig configures the Discord channel.
type DiscordChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChannelAccess
}

// SlackChannelConfig configures the Slack Socket Mode channel.
type SlackChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
	ChannelAccess
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	TTLSecs    int    `json:"ttl_secs"`
	MaxEntries int    `json:"max_entries"`
}

// SecurityConfig holds the autonomy mode.
type SecurityConfig struct {
	AgentMode string `json:"agent_mode"`
}

// MemoryConfig configures long-term memory.
type MemoryConfig struct {
	Path        string `json:"path"`
	MaxInjected int    `json:"max_injected"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	Dir string `json:"dir"`
}

// CronJob publishes a scheduled inbound message.
type CronJob struct {
	Schedule string `json:"schedule"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	Message  string `json:"message"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Model:             "claude-sonnet-4-20250514",
				MaxTokens:         4096,
				MaxToolIterations: 10,
				AgentTimeoutSecs:  300,
				MessageQueueMode:  "collect",
			},
		},
		Providers: ProvidersConfig{
			Primary: "anthropic",
			Retry: RetrySettings{
				MaxRetries:  3,
				BaseDelayMs: 500,
				MaxDelayMs:  30000,
			},
			Fallback: FallbackSettings{
				BreakerThreshold:    5,
				BreakerCooldownSecs: 60,
			},
		},
		Channels: ChannelsConfig{
			CLI: CLIChannelConfig{Enabled: true},
		},
		Runtime: runtime.FactoryConfig{
			Type:                  "native",
			AllowFallbackToNative: true,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSecs:    3600,
			MaxEntries: 1000,
		},
		Security: SecurityConfig{AgentMode: "assistant"},
		Memory:   MemoryConfig{MaxInjected: 5},
	}
}
