// Package config provides configuration management for esplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultAudioQueueBytes   = 2 * 1024 * 1024
	defaultVideoQueueBytes   = 16 * 1024 * 1024
	defaultAudioBackendBytes = 512 * 1024
	defaultVideoBackendBytes = 4 * 1024 * 1024

	defaultMaxSessions  = 16
	defaultIdleTimeout  = 30 * time.Minute
	defaultEventLogSize = 256
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Player  PlayerConfig  `mapstructure:"player" yaml:"player"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
	// RequestLogging logs every HTTP request, not only failed ones.
	RequestLogging bool `mapstructure:"request_logging" yaml:"request_logging"`
}

// StreamSizes holds one byte budget per stream type.
type StreamSizes struct {
	Audio ByteSize `mapstructure:"audio" yaml:"audio"`
	Video ByteSize `mapstructure:"video" yaml:"video"`
}

// PlayerConfig tunes the pipeline controller.
type PlayerConfig struct {
	// QueueBytes is the controller-side queue budget per stream.
	QueueBytes           StreamSizes   `mapstructure:"queue_bytes" yaml:"queue_bytes"`
	MinThresholdPercent  int           `mapstructure:"min_threshold_percent" yaml:"min_threshold_percent"`
	MaxThresholdPercent  int           `mapstructure:"max_threshold_percent" yaml:"max_threshold_percent"`
	OverflowPercent      int           `mapstructure:"overflow_percent" yaml:"overflow_percent"`
	StatePollInterval    time.Duration `mapstructure:"state_poll_interval" yaml:"state_poll_interval"`
	TransitionTimeout    time.Duration `mapstructure:"transition_timeout" yaml:"transition_timeout"`
	TimeUpdateInterval   time.Duration `mapstructure:"time_update_interval" yaml:"time_update_interval"`
	BufferingHorizon     time.Duration `mapstructure:"buffering_horizon" yaml:"buffering_horizon"`
	DefaultFrameDuration time.Duration `mapstructure:"default_frame_duration" yaml:"default_frame_duration"`
	AccurateSeek         bool          `mapstructure:"accurate_seek" yaml:"accurate_seek"`
}

// BackendConfig selects and tunes the player backend.
type BackendConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"` // player, es
	// BufferBytes is the backend input buffer capacity per stream.
	BufferBytes       StreamSizes   `mapstructure:"buffer_bytes" yaml:"buffer_bytes"`
	TransitionLatency time.Duration `mapstructure:"transition_latency" yaml:"transition_latency"`
	SeekLatency       time.Duration `mapstructure:"seek_latency" yaml:"seek_latency"`
	InitLatency       time.Duration `mapstructure:"init_latency" yaml:"init_latency"`
	ClockInterval     time.Duration `mapstructure:"clock_interval" yaml:"clock_interval"`
}

// SessionConfig holds session manager configuration.
type SessionConfig struct {
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	EventLogSize    int           `mapstructure:"event_log_size" yaml:"event_log_size"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ESPLAY_ and use underscores for nesting.
// Example: ESPLAY_SERVER_PORT=8080.
//
// Flags bound with WithFlag take precedence over both, but only when the
// user actually set them on the command line.
func Load(configPath string, opts ...LoadOption) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/esplay")
		v.AddConfigPath("$HOME/.esplay")
	}

	v.SetEnvPrefix("ESPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine: defaults and env vars apply.
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOption customizes the viper instance used by Load.
type LoadOption func(v *viper.Viper) error

// WithFlag binds a command-line flag to a configuration key.
func WithFlag(key string, flag *pflag.Flag) LoadOption {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %q to %q: %w", flag.Name, key, err)
		}
		return nil
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", true)

	// Player defaults
	v.SetDefault("player.queue_bytes.audio", ByteSize(defaultAudioQueueBytes).String())
	v.SetDefault("player.queue_bytes.video", ByteSize(defaultVideoQueueBytes).String())
	v.SetDefault("player.min_threshold_percent", 30)
	v.SetDefault("player.max_threshold_percent", 80)
	v.SetDefault("player.overflow_percent", 95)
	v.SetDefault("player.state_poll_interval", 20*time.Millisecond)
	v.SetDefault("player.transition_timeout", 5*time.Second)
	v.SetDefault("player.time_update_interval", 250*time.Millisecond)
	v.SetDefault("player.buffering_horizon", 5*time.Second)
	v.SetDefault("player.default_frame_duration", 33*time.Millisecond)
	v.SetDefault("player.accurate_seek", true)

	// Backend defaults
	v.SetDefault("backend.kind", "player")
	v.SetDefault("backend.buffer_bytes.audio", ByteSize(defaultAudioBackendBytes).String())
	v.SetDefault("backend.buffer_bytes.video", ByteSize(defaultVideoBackendBytes).String())
	v.SetDefault("backend.transition_latency", 10*time.Millisecond)
	v.SetDefault("backend.seek_latency", 20*time.Millisecond)
	v.SetDefault("backend.init_latency", 20*time.Millisecond)
	v.SetDefault("backend.clock_interval", 10*time.Millisecond)

	// Session defaults
	v.SetDefault("session.max_sessions", defaultMaxSessions)
	v.SetDefault("session.idle_timeout", defaultIdleTimeout)
	v.SetDefault("session.cleanup_interval", 30*time.Second)
	v.SetDefault("session.event_log_size", defaultEventLogSize)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validBackends := map[string]bool{"player": true, "es": true}
	if !validBackends[c.Backend.Kind] {
		return fmt.Errorf("backend.kind must be one of: player, es")
	}
	if c.Backend.BufferBytes.Audio <= 0 || c.Backend.BufferBytes.Video <= 0 {
		return fmt.Errorf("backend.buffer_bytes must be positive")
	}
	if c.Backend.ClockInterval <= 0 {
		return fmt.Errorf("backend.clock_interval must be positive")
	}
	if c.Player.QueueBytes.Audio <= 0 || c.Player.QueueBytes.Video <= 0 {
		return fmt.Errorf("player.queue_bytes must be positive")
	}

	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session.max_sessions must be at least 1")
	}
	if c.Session.EventLogSize < 1 {
		return fmt.Errorf("session.event_log_size must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
