package runtime

import (
	"context"
	"fmt"
	"log/slog"
)

// FactoryConfig selects and configures the runtime variant.
type FactoryConfig struct {
	// Type is one of native, docker, apple.
	Type string `json:"runtime_type"`

	Docker DockerConfig `json:"docker"`
	Apple  AppleConfig  `json:"apple"`

	// AllowFallbackToNative permits downgrading to the native runtime when
	// the requested variant is unavailable. When false, an unavailable
	// variant is a startup failure.
	AllowFallbackToNative bool `json:"allow_fallback_to_native"`
}

// NewFromConfig builds the configured runtime, probing availability. An
// unavailable variant either falls back to native (with a warning) or fails.
func NewFromConfig(ctx context.Context, cfg FactoryConfig) (Runtime, error) {
	logger := slog.With("component", "runtime")

	var rt Runtime
	switch cfg.Type {
	case "", "native":
		return NewNative(), nil
	case "docker":
		rt = NewDocker(cfg.Docker)
	case "apple":
		rt = NewApple(cfg.Apple)
	default:
		return nil, fmt.Errorf("unknown runtime type %q", cfg.Type)
	}

	if rt.IsAvailable(ctx) {
		return rt, nil
	}

	if cfg.AllowFallbackToNative {
		logger.Warn("requested runtime unavailable, falling back to native",
			"requested", cfg.Type)
		return NewNative(), nil
	}

	return nil, &Error{
		Kind: ErrNotAvailable, Runtime: cfg.Type,
		Cause: fmt.Errorf("runtime unavailable and fallback disabled"),
	}
}
