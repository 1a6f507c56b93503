package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/opsguard/opsguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingDBDSN(t *testing.T) {
	// DB_DSN is only required when DB_DRIVER=postgres.
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoad_SQLiteNoDBDSN(t *testing.T) {
	// With sqlite driver, DB_DSN is not required.
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.NoError(t, err)
}

func TestLoad_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("AI_API_KEY", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_API_KEY")
}

func TestLoad_Defaults(t *testing.T) {
	// Clear optional vars to ensure defaults apply
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("PUBLIC_URL")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")
	os.Unsetenv("AI_PROVIDER")
	os.Unsetenv("SCAN_ENABLED")
	os.Unsetenv("SCAN_INTERVAL")
	os.Unsetenv("WORKER_CONCURRENCY")
	os.Unsetenv("DB_DRIVER")
	os.Unsetenv("DB_FILE")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "http://localhost:8080", cfg.HTTP.PublicURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "heuristic", cfg.AI.Provider)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.True(t, cfg.Scan.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Scan.Interval)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "opsguard.db", cfg.DB.File)
	assert.Equal(t, 1.0, cfg.Remediate.StepDelayScale)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PUBLIC_URL", "https://opsguard.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("AI_API_KEY", "sk-test")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("SCAN_ENABLED", "false")
	t.Setenv("SCAN_INTERVAL", "1h")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_FILE", "test.db")
	t.Setenv("REMEDIATE_DELAY_SCALE", "0")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "https://opsguard.example.com", cfg.HTTP.PublicURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.False(t, cfg.Scan.Enabled)
	assert.Equal(t, time.Hour, cfg.Scan.Interval)
	assert.Equal(t, "test.db", cfg.DB.File)
	assert.Equal(t, 0.0, cfg.Remediate.StepDelayScale)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "not-a-duration")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCAN_INTERVAL")
}
