// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Embedder produces embeddings with a fixed dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimensions() int
}

// MaxBatch is the most texts sent to a provider in one request.
const MaxBatch = 100

// Config selects and configures the embedding backend.
type Config struct {
	// Provider is "openai", "gemini" or "mock".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
}

// DefaultConfig returns the OpenAI text-embedding-3-small setup.
func DefaultConfig() Config {
	return Config{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	}
}

// ConfigFromEnv reads STUDYLOOP_EMBEDDING_* variables over the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from STUDYLOOP_EMBEDDING_* variables. The
// OpenAI and Gemini LLM keys are used when no embedding key is set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STUDYLOOP_EMBEDDING_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("STUDYLOOP_EMBEDDING_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("STUDYLOOP_EMBEDDING_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("STUDYLOOP_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dimensions = n
		}
	}
	if v := os.Getenv("STUDYLOOP_EMBEDDING_API_KEY"); v != "" {
		c.APIKey = v
	}
	if c.APIKey != "" {
		return
	}
	switch c.Provider {
	case "openai":
		c.APIKey = os.Getenv("STUDYLOOP_OPENAI_API_KEY")
	case "gemini":
		c.APIKey = os.Getenv("STUDYLOOP_GEMINI_API_KEY")
	}
}

// Validate checks the selected provider can be constructed.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai", "gemini":
		if c.APIKey == "" {
			return fmt.Errorf("an API key is required for the %s embedding provider", c.Provider)
		}
	case "mock":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Provider)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Dimensions)
	}
	return nil
}

// New builds the Embedder selected by cfg.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return NewMock(cfg.Dimensions), nil
	}
}

// inBatches calls fn for consecutive slices of at most size texts and
// concatenates the results.
func inBatches(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
