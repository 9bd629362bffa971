// Package am holds vidget's configuration: the Config tree, its defaults,
// the TOML file cascade, environment overrides, validation and hot reload.
package am

import "time"

// Config represents the vidget configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	Downloads DownloadsConfig `mapstructure:"downloads" toml:"downloads" json:"downloads" yaml:"downloads"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup" toml:"cleanup" json:"cleanup" yaml:"cleanup"`
	Extractor ExtractorConfig `mapstructure:"extractor" toml:"extractor" json:"extractor" yaml:"extractor"`
	Log       LogConfig       `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host                string   `mapstructure:"host" toml:"host" json:"host" yaml:"host"`
	Port                int      `mapstructure:"port" toml:"port" json:"port" yaml:"port"`
	AllowedOrigins      []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	RequestsPerMinute   int      `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"` // per client IP, 0 = unlimited
	MaxRequestBytes     int64    `mapstructure:"max_request_bytes" toml:"max_request_bytes" json:"max_request_bytes" yaml:"max_request_bytes"`
	ReadTimeoutSeconds  int      `mapstructure:"read_timeout_seconds" toml:"read_timeout_seconds" json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds" toml:"write_timeout_seconds" json:"write_timeout_seconds" yaml:"write_timeout_seconds"` // 0 disables, file streams can be long
	BlockPrivateSources bool     `mapstructure:"block_private_sources" toml:"block_private_sources" json:"block_private_sources" yaml:"block_private_sources"`
}

// DownloadsConfig configures job execution and the output tree
type DownloadsConfig struct {
	Dir               string `mapstructure:"dir" toml:"dir" json:"dir" yaml:"dir"`
	MaxConcurrent     int    `mapstructure:"max_concurrent" toml:"max_concurrent" json:"max_concurrent" yaml:"max_concurrent"`
	JobTimeoutSeconds int    `mapstructure:"job_timeout_seconds" toml:"job_timeout_seconds" json:"job_timeout_seconds" yaml:"job_timeout_seconds"` // 0 = no deadline
	DeleteWaitSeconds int    `mapstructure:"delete_wait_seconds" toml:"delete_wait_seconds" json:"delete_wait_seconds" yaml:"delete_wait_seconds"`
}

// CleanupConfig configures the periodic sweep of stale output directories
type CleanupConfig struct {
	Enabled          bool `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	IntervalMinutes  int  `mapstructure:"interval_minutes" toml:"interval_minutes" json:"interval_minutes" yaml:"interval_minutes"`
	MaxAgeHours      int  `mapstructure:"max_age_hours" toml:"max_age_hours" json:"max_age_hours" yaml:"max_age_hours"`
	IncludeFailed    bool `mapstructure:"include_failed" toml:"include_failed" json:"include_failed" yaml:"include_failed"`
	IncludeCancelled bool `mapstructure:"include_cancelled" toml:"include_cancelled" json:"include_cancelled" yaml:"include_cancelled"`
}

// ExtractorConfig configures the yt-dlp collaborator
type ExtractorConfig struct {
	Binary                 string `mapstructure:"binary" toml:"binary" json:"binary" yaml:"binary"`
	FFmpeg                 string `mapstructure:"ffmpeg" toml:"ffmpeg" json:"ffmpeg" yaml:"ffmpeg"`
	ExtraArgs              string `mapstructure:"extra_args" toml:"extra_args" json:"extra_args" yaml:"extra_args"` // shell-quoted, appended to every invocation
	MinVersion             string `mapstructure:"min_version" toml:"min_version" json:"min_version" yaml:"min_version"` // semver constraint, e.g. ">= 2023.7.6"
	InstallURL             string `mapstructure:"install_url" toml:"install_url" json:"install_url" yaml:"install_url"`
	MetadataTimeoutSeconds int    `mapstructure:"metadata_timeout_seconds" toml:"metadata_timeout_seconds" json:"metadata_timeout_seconds" yaml:"metadata_timeout_seconds"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
}

// Defaults shared by SetDefaults and the config writer
const (
	DefaultServerPort      = 5000
	DefaultDownloadsDir    = "downloads"
	DefaultMaxConcurrent   = 3
	DefaultMaxRequestBytes = 16 << 20
	DefaultInstallURL      = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
	ExecutablePermissions  = 0755
)

// JobTimeout returns the default per-job deadline, zero when disabled.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Downloads.JobTimeoutSeconds) * time.Second
}

// DeleteWait bounds how long DELETE waits for an active job to honour cancellation.
func (c *Config) DeleteWait() time.Duration {
	return time.Duration(c.Downloads.DeleteWaitSeconds) * time.Second
}

// SweepInterval returns how often the cleanup sweep runs
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// SweepMaxAge returns the age past which terminal job output is removed
func (c *Config) SweepMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeHours) * time.Hour
}

// MetadataTimeout bounds synchronous /info and /formats extractor calls
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.Extractor.MetadataTimeoutSeconds) * time.Second
}
