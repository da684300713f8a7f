package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: "0.0.0.0:9100"
  rate_limit: 5
  rate_limit_burst: 10

meter:
  address: "192.168.1.10:2000"
  dial_timeout: 3s
  read_timeout: 1s
  retry_delay: 10s

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	assert.NoError(t, err)

	// Test loading configuration
	config, err := Load(configPath)
	assert.NoError(t, err)
	assert.NotNil(t, config)

	// Verify loaded values
	assert.Equal(t, "0.0.0.0:9100", config.Server.Address)
	assert.Equal(t, 5.0, config.Server.RateLimit)
	assert.Equal(t, 10, config.Server.RateLimitBurst)
	assert.Equal(t, "192.168.1.10:2000", config.Meter.Address)
	assert.Equal(t, 3*time.Second, config.Meter.DialTimeout)
	assert.Equal(t, time.Second, config.Meter.ReadTimeout)
	assert.Equal(t, 10*time.Second, config.Meter.RetryDelay)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4545", config.Server.Address)
	assert.Equal(t, "", config.Meter.Address)
	assert.Equal(t, 5*time.Second, config.Meter.DialTimeout)
	assert.Equal(t, 2*time.Second, config.Meter.ReadTimeout)
	assert.Equal(t, 5*time.Second, config.Meter.RetryDelay)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
}

func TestLoadWithEnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("P1EXPORTER_METER_ADDRESS", "10.0.0.5:2000")
	t.Setenv("P1EXPORTER_SERVER_ADDRESS", "127.0.0.1:9999")

	config, err := Load("")
	require.NoError(t, err)

	// Verify environment variables override the defaults
	assert.Equal(t, "10.0.0.5:2000", config.Meter.Address)
	assert.Equal(t, "127.0.0.1:9999", config.Server.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidateRequiresMeterAddress(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Error(t, config.Validate())

	config.Meter.Address = "192.168.1.10:2000"
	assert.NoError(t, config.Validate())
}
