// Package config provides configuration management for tvshift using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultSessionPort     = 34892
	defaultAdminPort       = 8090
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultBufferSize      = 1024 * 1024 * 1024 // 1GB
	defaultQueueDepth      = 400
	defaultSweepSchedule   = "@hourly"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Timeshift TimeshiftConfig `mapstructure:"timeshift"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the session protocol server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AdminConfig holds the admin/status HTTP API configuration.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// TimeshiftConfig holds the time-shift ring buffer configuration.
// Dir and BufferSize are process-wide and read by every new session;
// they are not mutated while sessions are active.
type TimeshiftConfig struct {
	// Dir is the directory holding per-session ring buffer files.
	Dir string `mapstructure:"dir"`
	// BufferSize is the ring buffer capacity per session.
	// Supports human-readable values like "512MB", "1GB", or raw byte counts.
	BufferSize ByteSize `mapstructure:"buffer_size"`
	// QueueDepth is the bounded writer queue capacity; packets enqueued
	// beyond this depth are dropped rather than blocking the producer.
	QueueDepth int `mapstructure:"queue_depth"`
	// SweepSchedule is a cron expression for the orphan file sweep.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TVSHIFT_ and use underscores
// for nesting. Example: TVSHIFT_TIMESHIFT_BUFFER_SIZE=512MB.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tvshift")
		v.AddConfigPath("$HOME/.tvshift")
	}

	v.SetEnvPrefix("TVSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHooks()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHooks extends viper's defaults so ByteSize fields accept
// human-readable strings like "512MB".
func DecodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Session server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultSessionPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Admin API defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", defaultAdminPort)

	// Timeshift defaults
	v.SetDefault("timeshift.dir", "/video")
	v.SetDefault("timeshift.buffer_size", defaultBufferSize)
	v.SetDefault("timeshift.queue_depth", defaultQueueDepth)
	v.SetDefault("timeshift.sweep_schedule", defaultSweepSchedule)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > maxPort) {
		return fmt.Errorf("admin.port must be between 1 and %d", maxPort)
	}

	if c.Timeshift.Dir == "" {
		return fmt.Errorf("timeshift.dir is required")
	}
	if c.Timeshift.BufferSize < 1 {
		return fmt.Errorf("timeshift.buffer_size must be positive")
	}
	if c.Timeshift.QueueDepth < 1 {
		return fmt.Errorf("timeshift.queue_depth must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
