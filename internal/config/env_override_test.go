package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_CDP(t *testing.T) {
	t.Run("host and port", func(t *testing.T) {
		t.Setenv("XHSPILOT_CDP_HOST", "10.0.0.5")
		t.Setenv("XHSPILOT_CDP_PORT", "9333")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "10.0.0.5", cfg.CDP.Host)
		assert.Equal(t, 9333, cfg.CDP.Port)
	})

	t.Run("malformed port is ignored", func(t *testing.T) {
		t.Setenv("XHSPILOT_CDP_PORT", "ninety")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 9222, cfg.CDP.Port)
	})

	t.Run("chrome bin", func(t *testing.T) {
		t.Setenv("XHSPILOT_CHROME_BIN", "/opt/chrome/chrome")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/opt/chrome/chrome", cfg.CDP.ChromeBin)
	})
}

func TestEnvOverrides_Paths(t *testing.T) {
	t.Setenv("XHSPILOT_DATA_DIR", "/tmp/xhs")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/xhs", cfg.Paths.DataDir)
	assert.Equal(t, "/tmp/xhs/config.yaml", DefaultConfigPath())
}

func TestEnvOverrides_JitterClampedOnLoad(t *testing.T) {
	t.Setenv("XHSPILOT_TIMING_JITTER", "5")

	cfg, err := Load(t.TempDir() + "/none.yaml")
	assert.NoError(t, err)
	assert.Equal(t, MaxTimingJitter, cfg.Timing.Jitter)
}
