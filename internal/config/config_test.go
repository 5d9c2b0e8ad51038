package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.7, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.Reminders.InactivityDays)
	assert.Equal(t, 2, cfg.Challenges.Difficulty)
	assert.Equal(t, 8, cfg.Challenges.SendHour)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
database:
  dsn: /tmp/loop.db
retrieval:
  top_k: 8
  threshold: 0.8
challenges:
  difficulty: 4
  send_hour: 7
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("STUDYLOOP_DB", "postgres://localhost/loop")
	t.Setenv("STUDYLOOP_CHALLENGE_SEND_HOUR", "9")
	t.Setenv("STUDYLOOP_INACTIVITY_DAYS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/loop", cfg.Database.DSN)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.8, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, 4, cfg.Challenges.Difficulty)
	assert.Equal(t, 9, cfg.Challenges.SendHour)
	assert.Equal(t, 3, cfg.Reminders.InactivityDays, "unparsable override is ignored")
	// Sections absent from the file keep their defaults.
	assert.Equal(t, 1000, cfg.Chunking.Size)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"raised threshold", func(c *Config) { c.Retrieval.Threshold = 0.85 }, true},
		{"lowered threshold", func(c *Config) { c.Retrieval.Threshold = 0.5 }, false},
		{"threshold one", func(c *Config) { c.Retrieval.Threshold = 1 }, false},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }, false},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }, false},
		{"zero inactivity", func(c *Config) { c.Reminders.InactivityDays = 0 }, false},
		{"difficulty six", func(c *Config) { c.Challenges.Difficulty = 6 }, false},
		{"send hour 24", func(c *Config) { c.Challenges.SendHour = 24 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Retrieval.TopK = 7
	cfg.Log.Mode = "prod"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Retrieval.TopK)
	assert.Equal(t, "prod", got.Log.Mode)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("STUDYLOOP_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/studyloop/config.yaml", p)

	t.Setenv("STUDYLOOP_CONFIG", "/etc/loop.yaml")
	p, err = DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/loop.yaml", p)
}
