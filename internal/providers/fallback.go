package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FallbackConfig controls the fallback wrapper and its circuit breaker.
type FallbackConfig struct {
	// FailoverKinds are the error classes that trigger the secondary.
	// Default: ServerError, AuthFailed, Network.
	FailoverKinds []ErrorKind

	// BreakerThreshold is the number of consecutive primary failures that
	// opens the circuit. Default 5.
	BreakerThreshold int

	// BreakerCooldown is how long an open circuit routes straight to the
	// secondary. Default 60s.
	BreakerCooldown time.Duration
}

func (c *FallbackConfig) applyDefaults() {
	if len(c.FailoverKinds) == 0 {
		c.FailoverKinds = []ErrorKind{KindServerError, KindAuthFailed, KindNetwork}
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
}

// Fallback calls a primary provider and fails over to a secondary on
// configured error classes. A per-instance circuit breaker skips the
// primary entirely for a cooldown window after enough consecutive failures.
// RateLimited alone never trips the breaker: backoff, not failover, is the
// right response to throttling.
//
// Streaming: failover happens only when the primary failed before emitting
// anything; once the primary has streamed bytes, its error surfaces.
type Fallback struct {
	primary   Provider
	secondary Provider
	cfg       FallbackConfig
	logger    *slog.Logger

	mu          sync.Mutex
	consecutive int
	openUntil   time.Time
	now         func() time.Time
}

// NewFallback wraps a primary and secondary provider.
func NewFallback(primary, secondary Provider, cfg FallbackConfig) *Fallback {
	cfg.applyDefaults()
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		logger: slog.With("component", "provider.fallback",
			"primary", primary.Name(), "secondary", secondary.Name()),
		now: time.Now,
	}
}

func (f *Fallback) Name() string {
	return f.primary.Name()
}

func (f *Fallback) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	out := make(chan *Chunk)
	go func() {
		defer close(out)

		if f.breakerOpen() {
			f.logger.Warn("circuit open, routing to secondary")
			f.runSecondary(ctx, req, out)
			return
		}

		chunks, err := f.primary.Complete(ctx, req)
		if err != nil {
			f.recordPrimaryFailure(err)
			if f.shouldFailover(err) {
				f.runSecondary(ctx, req, out)
				return
			}
			out <- &Chunk{Err: err}
			return
		}

		emitted := false
		for chunk := range chunks {
			if chunk.Err != nil {
				for range chunks {
				}
				f.recordPrimaryFailure(chunk.Err)
				if !emitted && f.shouldFailover(chunk.Err) {
					f.runSecondary(ctx, req, out)
					return
				}
				out <- chunk
				return
			}
			if chunk.Text != "" || chunk.ToolCall != nil {
				emitted = true
			}
			out <- chunk
		}
		f.recordPrimarySuccess()
	}()
	return out, nil
}

func (f *Fallback) runSecondary(ctx context.Context, req *Request, out chan<- *Chunk) {
	chunks, err := f.secondary.Complete(ctx, req)
	if err != nil {
		out <- &Chunk{Err: err}
		return
	}
	for chunk := range chunks {
		out <- chunk
	}
}

func (f *Fallback) shouldFailover(err error) bool {
	kind := KindOf(err)
	for _, k := range f.cfg.FailoverKinds {
		if kind == k {
			f.logger.Warn("failing over to secondary", "kind", kind)
			return true
		}
	}
	return false
}

func (f *Fallback) breakerOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.openUntil)
}

func (f *Fallback) recordPrimaryFailure(err error) {
	// Rate limits are the retry wrapper's problem, not the breaker's.
	if KindOf(err) == KindRateLimited {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutive++
	if f.consecutive >= f.cfg.BreakerThreshold {
		f.openUntil = f.now().Add(f.cfg.BreakerCooldown)
		f.consecutive = 0
		f.logger.Warn("circuit breaker opened", "cooldown", f.cfg.BreakerCooldown)
	}
}

func (f *Fallback) recordPrimarySuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutive = 0
}
