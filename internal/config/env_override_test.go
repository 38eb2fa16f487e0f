package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Store(t *testing.T) {
	t.Run("DECLNERD_DB overrides database path", func(t *testing.T) {
		t.Setenv("DECLNERD_DB", "/tmp/test.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/test.db", cfg.Store.DatabasePath)
	})

	t.Run("empty DECLNERD_DB keeps configured path", func(t *testing.T) {
		t.Setenv("DECLNERD_DB", "")

		cfg := DefaultConfig()
		cfg.Store.DatabasePath = "custom.db"
		cfg.applyEnvOverrides()

		assert.Equal(t, "custom.db", cfg.Store.DatabasePath)
	})
}

func TestEnvOverrides_Logging(t *testing.T) {
	t.Run("DECLNERD_LOG_LEVEL overrides level", func(t *testing.T) {
		t.Setenv("DECLNERD_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("DECLNERD_DEBUG enables debug mode", func(t *testing.T) {
		t.Setenv("DECLNERD_DEBUG", "1")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Logging.DebugMode)
	})

	t.Run("DECLNERD_DEBUG other values leave debug mode alone", func(t *testing.T) {
		t.Setenv("DECLNERD_DEBUG", "yes")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Logging.DebugMode)
	})
}

func TestEnvOverrides_Watch(t *testing.T) {
	t.Setenv("DECLNERD_WATCH_DEBOUNCE", "2s")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "2s", cfg.Watch.Debounce)
}
