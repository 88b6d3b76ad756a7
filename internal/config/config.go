// Package config provides configuration management for playout using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 8080
	defaultServerTimeout        = 30 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultMaxOpenConns         = 25
	defaultMaxIdleConns         = 10
	defaultConnMaxIdleTime      = 30 * time.Minute
	defaultQueueDepth           = 16
	defaultSegmentDuration      = 6 * time.Second
	defaultAheadWindow          = 5
	defaultLiveWindowSegments   = 5
	defaultSegmentFetchTimeout  = 20 * time.Second
	defaultStallTimeout         = 30 * time.Second
	defaultCancelGrace          = 5 * time.Second
	defaultSessionIdleTimeout   = 2 * time.Minute
	defaultReaperInterval       = 15 * time.Second
	defaultMaxAttempts          = 2
	defaultMaxSegmentBytes      = 512 * 1024 * 1024
	defaultRecordRetention      = 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Streaming StreamingConfig `mapstructure:"streaming"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration for the
// session/job record sink.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	SegmentDir string `mapstructure:"segment_dir"`
	TempDir    string `mapstructure:"temp_dir"`
	// MaxSegmentBytesPerJob bounds the bytes of produced segments retained
	// in memory per transcode job. Supports human-readable values like
	// "512MB", "1GB", or raw byte counts.
	MaxSegmentBytesPerJob ByteSize `mapstructure:"max_segment_bytes_per_job"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// StreamingConfig holds the playback-delivery engine configuration.
type StreamingConfig struct {
	// PoolCapacity is the number of concurrent encode slots.
	// Zero means auto-detect from the host CPU count.
	PoolCapacity int `mapstructure:"pool_capacity"`

	// QueueDepth bounds the admission queue; admissions beyond it are rejected.
	QueueDepth int `mapstructure:"queue_depth"`

	// SegmentDuration is the target duration of produced segments.
	SegmentDuration time.Duration `mapstructure:"segment_duration"`

	// AheadWindow caps how many segments may be produced beyond the
	// client's last-requested index before encoding pauses.
	AheadWindow int `mapstructure:"ahead_window"`

	// LiveWindowSegments is the sliding manifest window for live jobs.
	LiveWindowSegments int `mapstructure:"live_window_segments"`

	// SegmentFetchTimeout bounds a client's blocking segment fetch.
	SegmentFetchTimeout time.Duration `mapstructure:"segment_fetch_timeout"`

	// StallTimeout fails a job when no segment or heartbeat arrives within it.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`

	// CancelGrace is how long a cancelled encoder gets to exit before
	// being force-terminated.
	CancelGrace time.Duration `mapstructure:"cancel_grace"`

	// SessionIdleTimeout expires sessions without client activity.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`

	// ReaperInterval is how often the session reaper runs.
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`

	// MaxAttempts is the number of automatic retries (with profile
	// degradation) before an encoder failure is surfaced.
	MaxAttempts int `mapstructure:"max_attempts"`

	// CleanupSchedule is a 5-field cron expression for housekeeping runs.
	CleanupSchedule string `mapstructure:"cleanup_schedule"`

	// RecordRetention is how long finished job records are kept.
	RecordRetention time.Duration `mapstructure:"record_retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PLAYOUT_ and use underscores
// for nesting. Example: PLAYOUT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/playout")
		v.AddConfigPath("$HOME/.playout")
	}

	v.SetEnvPrefix("PLAYOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "playout.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.segment_dir", "segments")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.max_segment_bytes_per_job", defaultMaxSegmentBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Streaming defaults
	v.SetDefault("streaming.pool_capacity", 0) // auto-detect
	v.SetDefault("streaming.queue_depth", defaultQueueDepth)
	v.SetDefault("streaming.segment_duration", defaultSegmentDuration)
	v.SetDefault("streaming.ahead_window", defaultAheadWindow)
	v.SetDefault("streaming.live_window_segments", defaultLiveWindowSegments)
	v.SetDefault("streaming.segment_fetch_timeout", defaultSegmentFetchTimeout)
	v.SetDefault("streaming.stall_timeout", defaultStallTimeout)
	v.SetDefault("streaming.cancel_grace", defaultCancelGrace)
	v.SetDefault("streaming.session_idle_timeout", defaultSessionIdleTimeout)
	v.SetDefault("streaming.reaper_interval", defaultReaperInterval)
	v.SetDefault("streaming.max_attempts", defaultMaxAttempts)
	v.SetDefault("streaming.cleanup_schedule", "*/5 * * * *")
	v.SetDefault("streaming.record_retention", defaultRecordRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Streaming.PoolCapacity < 0 {
		return fmt.Errorf("streaming.pool_capacity must not be negative")
	}
	if c.Streaming.QueueDepth < 1 {
		return fmt.Errorf("streaming.queue_depth must be at least 1")
	}
	if c.Streaming.SegmentDuration < time.Second {
		return fmt.Errorf("streaming.segment_duration must be at least 1s")
	}
	if c.Streaming.AheadWindow < 1 {
		return fmt.Errorf("streaming.ahead_window must be at least 1")
	}
	if c.Streaming.MaxAttempts < 0 {
		return fmt.Errorf("streaming.max_attempts must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SegmentPath returns the full path to the segment spill directory.
func (c *StorageConfig) SegmentPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.SegmentDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
