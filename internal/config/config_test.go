package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultSessionPort, cfg.Server.Port)
	assert.Equal(t, defaultAdminPort, cfg.Admin.Port)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, ByteSize(defaultBufferSize), cfg.Timeshift.BufferSize)
	assert.Equal(t, defaultQueueDepth, cfg.Timeshift.QueueDepth)
	assert.Equal(t, defaultSweepSchedule, cfg.Timeshift.SweepSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 12345
timeshift:
  dir: /tmp/shift
  buffer_size: 64MB
  queue_depth: 100
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Server.Port)
	assert.Equal(t, "/tmp/shift", cfg.Timeshift.Dir)
	assert.Equal(t, int64(64*1024*1024), cfg.Timeshift.BufferSize.Bytes())
	assert.Equal(t, 100, cfg.Timeshift.QueueDepth)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TVSHIFT_TIMESHIFT_DIR", "/srv/timeshift")
	t.Setenv("TVSHIFT_SERVER_PORT", "4455")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/timeshift", cfg.Timeshift.Dir)
	assert.Equal(t, 4455, cfg.Server.Port)
}

func TestValidateErrors(t *testing.T) {
	valid := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
		{"bad admin port", func(c *Config) { c.Admin.Port = 70000 }},
		{"empty timeshift dir", func(c *Config) { c.Timeshift.Dir = "" }},
		{"zero buffer size", func(c *Config) { c.Timeshift.BufferSize = 0 }},
		{"zero queue depth", func(c *Config) { c.Timeshift.QueueDepth = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultServerTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
}
