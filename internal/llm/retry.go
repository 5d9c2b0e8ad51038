package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryProvider is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return r.do(ctx, func() (*Response, error) {
		return r.inner.Generate(ctx, req)
	}, nil)
}

// Stream retries only while nothing has been delivered to onDelta; once
// text has reached the caller a failure is returned as is.
func (r *RetryProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	s, ok := r.inner.(Streamer)
	if !ok {
		resp, err := r.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, onDelta(resp.Text())
	}

	delivered := false
	track := func(d string) error {
		delivered = true
		return onDelta(d)
	}
	return r.do(ctx, func() (*Response, error) {
		return s.Stream(ctx, req, track)
	}, func() bool { return delivered })
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

func (r *RetryProvider) do(ctx context.Context, call func() (*Response, error), committed func() bool) (*Response, error) {
	var lastErr error
	onceUsed := false

	for attempt := range r.config.MaxAttempts {
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if committed != nil && committed() {
			return nil, err
		}
		if !r.shouldRetry(err, &onceUsed) {
			return nil, err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.backoff(attempt, err)):
		}
	}

	return nil, lastErr
}

// shouldRetry reports whether err allows another attempt. retryOnce errors
// get exactly one across the whole call.
func (r *RetryProvider) shouldRetry(err error, onceUsed *bool) bool {
	switch classify(err) {
	case retryNever:
		return false
	case retryOnce:
		if *onceUsed {
			return false
		}
		*onceUsed = true
	}
	return true
}

// backoff computes the wait duration for the given attempt.
func (r *RetryProvider) backoff(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// ±20% jitter
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
