package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if cfg.Agents.Defaults.MaxToolIterations != 10 {
		t.Fatalf("defaults not applied: %+v", cfg.Agents.Defaults)
	}
	if cfg.Agents.Defaults.AgentTimeoutSecs != 300 {
		t.Fatalf("timeout default = %d", cfg.Agents.Defaults.AgentTimeoutSecs)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		// agent settings
		"agents": {"defaults": {"model": "gpt-4o", "max_tokens": 8192}},
		"security": {"agent_mode": "autonomous"},
	}`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents.Defaults.Model != "gpt-4o" || cfg.Agents.Defaults.MaxTokens != 8192 {
		t.Fatalf("agents = %+v", cfg.Agents.Defaults)
	}
	if cfg.Security.AgentMode != "autonomous" {
		t.Fatalf("mode = %s", cfg.Security.AgentMode)
	}
	// Values absent from the file keep their defaults.
	if cfg.Agents.Defaults.MaxToolIterations != 10 {
		t.Fatal("defaults clobbered by partial config")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
agents:
  defaults:
    model: claude-opus-4-20250514
channels:
  telegram:
    enabled: true
    token: tg-token
    allow_from: ["1", "2"]
    deny_by_default: true
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents.Defaults.Model != "claude-opus-4-20250514" {
		t.Fatalf("model = %s", cfg.Agents.Defaults.Model)
	}
	tg := cfg.Channels.Telegram
	if !tg.Enabled || tg.Token != "tg-token" || len(tg.AllowFrom) != 2 || !tg.DenyByDefault {
		t.Fatalf("telegram = %+v", tg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ZEPTOCLAW_AGENTS_DEFAULTS_MAX_TOKENS", "1234")
	t.Setenv("ZEPTOCLAW_SECURITY_AGENT_MODE", "observer")
	t.Setenv("ZEPTOCLAW_CACHE_ENABLED", "false")
	t.Setenv("ZEPTOCLAW_CHANNELS_TELEGRAM_ALLOW_FROM", "10,20,30")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents.Defaults.MaxTokens != 1234 {
		t.Fatalf("max_tokens = %d", cfg.Agents.Defaults.MaxTokens)
	}
	if cfg.Security.AgentMode != "observer" {
		t.Fatalf("agent_mode = %s", cfg.Security.AgentMode)
	}
	if cfg.Cache.Enabled {
		t.Fatal("cache.enabled override lost")
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 3 {
		t.Fatalf("allow_from = %v", cfg.Channels.Telegram.AllowFrom)
	}
}

func TestEnvOverrideBeatsFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{"agents": {"defaults": {"model": "from-file"}}}`)
	t.Setenv("ZEPTOCLAW_AGENTS_DEFAULTS_MODEL", "from-env")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents.Defaults.Model != "from-env" {
		t.Fatalf("model = %s", cfg.Agents.Defaults.Model)
	}
}

func TestUnknownKeyWarnings(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"agents": {"defaults": {"max_tokns": 100}},
		"chanels": {}
	}`)

	_, warnings, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(warnings, "\n")
	if !strings.Contains(joined, "agents.defaults.max_tokns") {
		t.Fatalf("missing nested warning: %v", warnings)
	}
	if !strings.Contains(joined, `did you mean "max_tokens"`) {
		t.Fatalf("missing suggestion: %v", warnings)
	}
	if !strings.Contains(joined, `did you mean "channels"`) {
		t.Fatalf("missing top-level suggestion: %v", warnings)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"max_tokns", "max_tokens", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
