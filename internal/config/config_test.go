package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "STORAGE", "DATABASE_URL", "SCHEMA_DIR", "LOG_LEVEL", "LOG_FORMAT",
		"DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE", "NOTIFY_WORKERS", "NOTIFY_BUFFER",
		"NOTIFY_RATE", "RATE_LIMIT_RPM",
	} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.NotEmpty(t, cfg.DatabaseURL)
	assert.Equal(t, 50, cfg.DefaultPageSize)
	assert.Equal(t, 200, cfg.MaxPageSize)
	assert.Equal(t, 4, cfg.NotifyWorkers)
	assert.Equal(t, 1000, cfg.NotifyBuffer)
	assert.Zero(t, cfg.NotifyRate)
	assert.Equal(t, 100, cfg.RateLimitRPM)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORAGE", "Memory")
	t.Setenv("DEFAULT_PAGE_SIZE", "10")
	t.Setenv("MAX_PAGE_SIZE", "20")
	t.Setenv("NOTIFY_RATE", "2.5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 10, cfg.DefaultPageSize)
	assert.Equal(t, 20, cfg.MaxPageSize)
	assert.InDelta(t, 2.5, cfg.NotifyRate, 0.0001)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_PAGE_SIZE", "lots"},
		{"NOTIFY_RATE", "fast"},
		{"NOTIFY_WORKERS", "0"},
		{"STORAGE", "sqlite"},
		{"DEFAULT_PAGE_SIZE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "post_id", "abc")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"post_id":"abc"`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
