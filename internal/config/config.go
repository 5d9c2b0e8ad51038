// Package config loads studyloop settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/challenge"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/embedding"
	"github.com/abhisek/studyloop/internal/llm"
	"github.com/abhisek/studyloop/internal/lock"
	"github.com/abhisek/studyloop/internal/notify"
	"github.com/abhisek/studyloop/internal/rag"
	"github.com/abhisek/studyloop/internal/reminders"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	LLM        llm.Config       `yaml:"llm"`
	Embedding  embedding.Config `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Reminders  RemindersConfig  `yaml:"reminders"`
	Challenges ChallengesConfig `yaml:"challenges"`
	Notify     notify.Config    `yaml:"notify"`
	Redis      lock.RedisConfig `yaml:"redis"`
}

type DatabaseConfig struct {
	// DSN is a SQLite path or a postgres:// URL. Empty uses the default
	// data directory.
	DSN string `yaml:"dsn"`
}

type LogConfig struct {
	// Mode is "dev" or "prod".
	Mode string `yaml:"mode"`
}

type ChunkingConfig struct {
	Size      int           `yaml:"size"`
	Overlap   int           `yaml:"overlap"`
	BatchSize int           `yaml:"batch_size"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// Threshold is the minimum relevance score. It can only be raised above
	// rag.RelevanceThreshold.
	Threshold float64 `yaml:"threshold"`
	MaxTokens int     `yaml:"max_tokens"`
}

type RemindersConfig struct {
	InactivityDays int `yaml:"inactivity_days"`
	Concurrency    int `yaml:"concurrency"`
}

type ChallengesConfig struct {
	Difficulty  int `yaml:"difficulty"`
	SendHour    int `yaml:"send_hour"`
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log:       LogConfig{Mode: "dev"},
		LLM:       llm.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Chunking: ChunkingConfig{
			Size:      chunks.DefaultChunkSize,
			Overlap:   chunks.DefaultOverlap,
			BatchSize: 32,
			LeaseTTL:  chunks.DefaultLeaseTTL,
		},
		Retrieval: RetrievalConfig{
			TopK:      rag.DefaultTopK,
			Threshold: rag.RelevanceThreshold,
			MaxTokens: 1024,
		},
		Reminders: RemindersConfig{
			InactivityDays: reminders.DefaultInactivityDays,
			Concurrency:    reminders.DefaultConcurrency,
		},
		Challenges: ChallengesConfig{
			Difficulty:  challenge.DefaultDifficulty,
			SendHour:    challenge.DefaultSendHour,
			Concurrency: challenge.DefaultConcurrency,
		},
		Notify: notify.DefaultConfig(),
	}
}

// DefaultPath resolves the config file in priority order:
// 1. STUDYLOOP_CONFIG environment variable
// 2. $XDG_CONFIG_HOME/studyloop/config.yaml
// 3. ~/.config/studyloop/config.yaml
func DefaultPath() (string, error) {
	if p := os.Getenv("STUDYLOOP_CONFIG"); p != "" {
		return p, nil
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "studyloop", "config.yaml"), nil
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STUDYLOOP_DB"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("STUDYLOOP_LOG_MODE"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("STUDYLOOP_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("STUDYLOOP_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	envInt(&c.Retrieval.TopK, "STUDYLOOP_RETRIEVAL_TOP_K")
	envFloat(&c.Retrieval.Threshold, "STUDYLOOP_RETRIEVAL_THRESHOLD")
	envInt(&c.Reminders.InactivityDays, "STUDYLOOP_INACTIVITY_DAYS")
	envInt(&c.Challenges.Difficulty, "STUDYLOOP_CHALLENGE_DIFFICULTY")
	envInt(&c.Challenges.SendHour, "STUDYLOOP_CHALLENGE_SEND_HOUR")

	c.LLM.ApplyEnv()
	c.Embedding.ApplyEnv()
	c.Notify.ApplyEnv()
}

func envInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the settings that have no safe fallback. Provider keys
// are checked where the provider is built.
func (c *Config) Validate() error {
	if c.Retrieval.Threshold < rag.RelevanceThreshold || c.Retrieval.Threshold >= 1 {
		return fmt.Errorf("retrieval threshold must be in [%.1f, 1), got %g", rag.RelevanceThreshold, c.Retrieval.Threshold)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunk overlap must be in [0, size), got %d with size %d", c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Reminders.InactivityDays < 1 {
		return fmt.Errorf("inactivity_days must be positive, got %d", c.Reminders.InactivityDays)
	}
	if c.Challenges.Difficulty < challenge.MinDifficulty || c.Challenges.Difficulty > challenge.MaxDifficulty {
		return fmt.Errorf("challenge difficulty must be in [%d, %d], got %d",
			challenge.MinDifficulty, challenge.MaxDifficulty, c.Challenges.Difficulty)
	}
	if c.Challenges.SendHour < 0 || c.Challenges.SendHour > 23 {
		return fmt.Errorf("challenge send_hour must be in [0, 23], got %d", c.Challenges.SendHour)
	}
	return nil
}
