// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1..65535.
	ErrInvalidPort = errors.New("config: PORT must be in 1..65535")
	// ErrInvalidChunkMinutes is returned when DEFAULT_CHUNK_MINUTES is not positive.
	ErrInvalidChunkMinutes = errors.New("config: DEFAULT_CHUNK_MINUTES must be positive")
	// ErrInvalidOverlap is returned when CHUNK_OVERLAP_SEC is negative or not
	// shorter than the default chunk.
	ErrInvalidOverlap = errors.New("config: CHUNK_OVERLAP_SEC must be in [0, DEFAULT_CHUNK_MINUTES*60)")
	// ErrInvalidRetention is returned when RETENTION_WINDOW is not positive.
	ErrInvalidRetention = errors.New("config: RETENTION_WINDOW must be positive")
	// ErrInvalidReaperInterval is returned when REAPER_INTERVAL is not positive.
	ErrInvalidReaperInterval = errors.New("config: REAPER_INTERVAL must be positive")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_RENDERS is below 1.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_RENDERS must be at least 1")
	// ErrInvalidChannels is returned when OUTPUT_CHANNELS is below 1.
	ErrInvalidChannels = errors.New("config: OUTPUT_CHANNELS must be at least 1")
	// ErrInvalidFetchLimits is returned when a fetch limit is negative.
	ErrInvalidFetchLimits = errors.New("config: FETCH_TIMEOUT, FETCH_MAX_BYTES and FETCH_MAX_RETRIES must not be negative")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port            int           `env:"PORT, default=8080" json:"port"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s" json:"shutdown_timeout"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/audiosplit" json:"temp_dir"`

	// Splitting settings
	DefaultChunkMinutes  float64 `env:"DEFAULT_CHUNK_MINUTES, default=5" json:"default_chunk_minutes"`
	ChunkOverlapSec      float64 `env:"CHUNK_OVERLAP_SEC, default=2" json:"chunk_overlap_sec"`
	MaxConcurrentRenders int     `env:"MAX_CONCURRENT_RENDERS, default=2" json:"max_concurrent_renders"`

	// Output profile
	OutputFormat   string `env:"OUTPUT_FORMAT, default=mp3" json:"output_format"`
	OutputBitrate  string `env:"OUTPUT_BITRATE, default=64k" json:"output_bitrate"`
	OutputChannels int    `env:"OUTPUT_CHANNELS, default=1" json:"output_channels"`

	// Codec binaries
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Upstream fetch settings
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT, default=300s" json:"fetch_timeout"`
	FetchMaxBytes   int64         `env:"FETCH_MAX_BYTES, default=1073741824" json:"fetch_max_bytes"`
	FetchMaxRetries int           `env:"FETCH_MAX_RETRIES, default=0" json:"fetch_max_retries"`

	// Session lifecycle
	RetentionWindow time.Duration `env:"RETENTION_WINDOW, default=1h" json:"retention_window"`
	ReaperInterval  time.Duration `env:"REAPER_INTERVAL, default=1h" json:"reaper_interval"`
	PurgeOnShutdown bool          `env:"PURGE_ON_SHUTDOWN, default=true" json:"purge_on_shutdown"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return ErrInvalidPort
	case c.DefaultChunkMinutes <= 0:
		return ErrInvalidChunkMinutes
	case c.ChunkOverlapSec < 0 || c.ChunkOverlapSec >= c.DefaultChunkMinutes*60:
		return ErrInvalidOverlap
	case c.RetentionWindow <= 0:
		return ErrInvalidRetention
	case c.ReaperInterval <= 0:
		return ErrInvalidReaperInterval
	case c.MaxConcurrentRenders < 1:
		return ErrInvalidConcurrency
	case c.OutputChannels < 1:
		return ErrInvalidChannels
	case c.FetchTimeout < 0 || c.FetchMaxBytes < 0 || c.FetchMaxRetries < 0:
		return ErrInvalidFetchLimits
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, DefaultChunkMinutes: %g, ChunkOverlapSec: %g, MaxConcurrentRenders: %d, "+
			"Output: %s/%s/%dch, RetentionWindow: %s, ReaperInterval: %s, FetchTimeout: %s, "+
			"S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.DefaultChunkMinutes,
		c.ChunkOverlapSec,
		c.MaxConcurrentRenders,
		c.OutputFormat,
		c.OutputBitrate,
		c.OutputChannels,
		c.RetentionWindow,
		c.ReaperInterval,
		c.FetchTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
