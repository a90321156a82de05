package gateway

import (
	"testing"

	"github.com/qhkm/zeptoclaw/internal/config"
)

func TestBuildProviderStackRequiresCredentials(t *testing.T) {
	if _, err := buildProviderStack(config.Default()); err == nil {
		t.Fatal("expected error with no API keys configured")
	}
}

func TestBuildProviderStackSingleProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Anthropic.APIKey = "sk-ant-test"

	stack, err := buildProviderStack(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if stack.Name() != "anthropic" {
		t.Fatalf("primary = %s", stack.Name())
	}
}

func TestBuildProviderStackWithFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Anthropic.APIKey = "sk-ant-test"
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.Primary = "anthropic"

	stack, err := buildProviderStack(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// The fallback wrapper reports the primary's name.
	if stack.Name() != "anthropic" {
		t.Fatalf("stack = %s", stack.Name())
	}
}
