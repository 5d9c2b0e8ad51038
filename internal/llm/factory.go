package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/abhisek/studyloop/internal/logging"
)

// NewProvider builds the backend named by cfg.Provider and wraps it so that
// a call is bounded by cfg.Timeout, retried on transient errors and logged
// to events on every attempt.
func NewProvider(ctx context.Context, cfg Config, events EventRepo, log *logging.Logger) (Provider, error) {
	base, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	// caller → timeout → retry → logging → backend
	p := WithRetry(WithLogging(base, events, log), cfg.Retry)
	return WithTimeout(p, cfg.Timeout), nil
}

func newBackend(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		return NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// TimeoutProvider bounds each call, retries included, to a fixed duration.
type TimeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout wraps p so every call gets a deadline of d. A non-positive d
// returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &TimeoutProvider{inner: p, timeout: d}
}

func (t *TimeoutProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Generate(ctx, req)
}

func (t *TimeoutProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if s, ok := t.inner.(Streamer); ok {
		return s.Stream(ctx, req, onDelta)
	}
	resp, err := t.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, onDelta(resp.Text())
}

func (t *TimeoutProvider) ModelID() string { return t.inner.ModelID() }
