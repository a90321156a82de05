package providers

import (
	"context"
	"log/slog"
	"time"
)

// RetryConfig controls the retry wrapper's backoff schedule.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Default 3.
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles per attempt.
	// Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Default 30s.
	MaxDelay time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
}

// Retry wraps a provider with exponential-backoff retries.
//
// Only RateLimited and ServerError failures are retried; everything else
// surfaces immediately. A rate-limit retry-after hint is honored when it
// exceeds the computed backoff. For streams, a retry happens only when the
// failure arrives before anything was emitted to the consumer: once bytes
// are out, replaying the stream would duplicate them.
type Retry struct {
	inner  Provider
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetry wraps inner with retry policy.
func NewRetry(inner Provider, cfg RetryConfig) *Retry {
	cfg.applyDefaults()
	return &Retry{
		inner:  inner,
		cfg:    cfg,
		logger: slog.With("component", "provider.retry", "provider", inner.Name()),
	}
}

func (r *Retry) Name() string {
	return r.inner.Name()
}

func (r *Retry) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	out := make(chan *Chunk)
	go func() {
		defer close(out)

		var lastErr error
		for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := r.backoff(attempt, lastErr)
				r.logger.Debug("retrying provider call",
					"attempt", attempt, "delay", delay, "error", lastErr)
				select {
				case <-ctx.Done():
					out <- &Chunk{Err: ctx.Err()}
					return
				case <-time.After(delay):
				}
			}

			chunks, err := r.inner.Complete(ctx, req)
			if err != nil {
				lastErr = err
				if !KindOf(err).Retryable() {
					out <- &Chunk{Err: err}
					return
				}
				continue
			}

			emitted, err := r.forward(chunks, out)
			if err == nil {
				return
			}
			lastErr = err
			if emitted || !KindOf(err).Retryable() {
				out <- &Chunk{Err: err}
				return
			}
		}

		out <- &Chunk{Err: lastErr}
	}()
	return out, nil
}

// forward copies chunks to the consumer until completion or an error.
// Returns whether anything was emitted before the error.
func (r *Retry) forward(chunks <-chan *Chunk, out chan<- *Chunk) (bool, error) {
	emitted := false
	for chunk := range chunks {
		if chunk.Err != nil {
			// Drain the rest so the inner goroutine can exit.
			for range chunks {
			}
			return emitted, chunk.Err
		}
		if chunk.Text != "" || chunk.ToolCall != nil {
			emitted = true
		}
		out <- chunk
	}
	return emitted, nil
}

// backoff doubles BaseDelay per attempt, caps at MaxDelay, and honors a
// larger rate-limit retry-after hint.
func (r *Retry) backoff(attempt int, lastErr error) time.Duration {
	delay := r.cfg.BaseDelay << (attempt - 1)
	if delay > r.cfg.MaxDelay || delay <= 0 {
		delay = r.cfg.MaxDelay
	}
	if perr, ok := AsError(lastErr); ok && perr.Kind == KindRateLimited && perr.RetryAfter > delay {
		delay = perr.RetryAfter
	}
	return delay
}
