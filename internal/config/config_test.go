package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
	assert.Equal(t, "sqlite://db.sqlite3", cfg.DatabaseURL)
	assert.Equal(t, "ollama", cfg.UpstreamProvider)
	assert.Equal(t, "http://host.docker.internal:11434", cfg.OllamaURL)
	assert.Equal(t, "phi3:3.8b", cfg.DefaultModel)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.False(t, cfg.ContinueOnTurnError)
	assert.Zero(t, cfg.TurnTimeout)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOKAI_PORT", "8081")
	t.Setenv("PIPELINE_QUEUE_CAPACITY", "8")
	t.Setenv("PIPELINE_CONTINUE_ON_TURN_ERROR", "true")
	t.Setenv("PIPELINE_TURN_TIMEOUT", "90s")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 8, cfg.QueueCapacity)
	assert.True(t, cfg.ContinueOnTurnError)
	assert.Equal(t, 90*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 60, cfg.RateLimitRequests)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOKAI_DEFAULT_LLM_MODEL=llama3:8b\nLOKAI_HOST=127.0.0.1\n"), 0o600))
	// t.Setenv restores the variables godotenv sets.
	t.Setenv("LOKAI_DEFAULT_LLM_MODEL", "")
	t.Setenv("LOKAI_HOST", "")
	require.NoError(t, os.Unsetenv("LOKAI_DEFAULT_LLM_MODEL"))
	require.NoError(t, os.Unsetenv("LOKAI_HOST"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3:8b", cfg.DefaultModel)
	assert.Equal(t, "127.0.0.1:3000", cfg.Addr())
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOKAI_PORT=9999\n"), 0o600))
	t.Setenv("LOKAI_PORT", "4000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "4000", cfg.Port)
}
