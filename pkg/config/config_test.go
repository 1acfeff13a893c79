package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Recording.Enabled)
	assert.Equal(t, 0, cfg.Recording.PortRange.Min%2)
	assert.True(t, cfg.Recording.PublishRetry.Enabled)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_RecordingDisabled_IgnoresRecordingSection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recording.Enabled = false
	cfg.Recording.StagingPath = ""
	cfg.Recording.PortRange.Min = 3

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"zero ping interval", func(c *Config) { c.Signal.PingInterval = 0 }, "signal.ping_interval"},
		{"no workers", func(c *Config) { c.Engine.Workers = 0 }, "engine.workers"},
		{"half engine range", func(c *Config) { c.Engine.PortRange.Min = 0 }, "both be set"},
		{"inverted engine range", func(c *Config) {
			c.Engine.PortRange.Min = 50000
			c.Engine.PortRange.Max = 40000
		}, "engine.port_range.min"},
		{"same folders", func(c *Config) { c.Recording.RecordingPath = c.Recording.StagingPath }, "must differ"},
		{"no encoder", func(c *Config) { c.Recording.EncoderBinary = "" }, "encoder_binary"},
		{"odd port min", func(c *Config) { c.Recording.PortRange.Min = 50001 }, "must be even"},
		{"single port", func(c *Config) { c.Recording.PortRange.Max = c.Recording.PortRange.Min + 1 }, "port pair"},
		{"port above range", func(c *Config) { c.Recording.PortRange.Max = 70000 }, "1-65535"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"redis without channel", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.EventChannel = ""
		}, "redis.event_channel"},
		{"rate limit rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}, "requests_per_second"},
		{"rate limit burst", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.Burst = 0
		}, "burst"},
		{"tracing sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}, "sample_rate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
server:
  address: ":9000"
engine:
  workers: 4
recording:
  staging_path: /tmp/stage
  recording_path: /tmp/rec
  port_range:
    min: 30000
    max: 30100
  publish_retry:
    enabled: true
    max_attempts: 5
    initial_delay: 1s
monitoring:
  sample_interval: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("RILLREC_LOG_LEVEL", "debug")
	t.Setenv("RILLREC_WORKERS", "3")
	t.Setenv("RILLREC_ENCODER_BINARY", "/usr/local/bin/ffmpeg")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, "/tmp/stage", cfg.Recording.StagingPath)
	assert.Equal(t, 30000, cfg.Recording.PortRange.Min)
	assert.Equal(t, 5, cfg.Recording.PublishRetry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Recording.PublishRetry.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.Monitoring.SampleInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.Recording.EncoderBinary)
	// untouched sections keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("RILLREC_RECORDING_ENABLED", "sometimes")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RILLREC_RECORDING_ENABLED")
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
