package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.requests_per_minute", 120)
	v.SetDefault("server.max_request_bytes", DefaultMaxRequestBytes)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 0)
	v.SetDefault("server.block_private_sources", true)

	// Downloads
	v.SetDefault("downloads.dir", DefaultDownloadsDir)
	v.SetDefault("downloads.max_concurrent", DefaultMaxConcurrent)
	v.SetDefault("downloads.job_timeout_seconds", 0)
	v.SetDefault("downloads.delete_wait_seconds", 10)

	// Cleanup sweep: hourly, 24h retention, all terminal statuses alike
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval_minutes", 60)
	v.SetDefault("cleanup.max_age_hours", 24)
	v.SetDefault("cleanup.include_failed", true)
	v.SetDefault("cleanup.include_cancelled", true)

	// Extractor
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.ffmpeg", "ffmpeg")
	v.SetDefault("extractor.extra_args", "")
	v.SetDefault("extractor.min_version", "")
	v.SetDefault("extractor.install_url", DefaultInstallURL)
	v.SetDefault("extractor.metadata_timeout_seconds", 60)

	v.SetDefault("log.json", false)
}

// BindLegacyEnvVars binds the unprefixed environment names earlier
// deployments used, alongside the VIDGET_* names.
func BindLegacyEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.port", "VIDGET_SERVER_PORT", "PORT")
	_ = v.BindEnv("downloads.dir", "VIDGET_DOWNLOADS_DIR", "DOWNLOADS_DIR")
	_ = v.BindEnv("downloads.max_concurrent", "VIDGET_DOWNLOADS_MAX_CONCURRENT", "MAX_CONCURRENT_DOWNLOADS")
	_ = v.BindEnv("cleanup.max_age_hours", "VIDGET_CLEANUP_MAX_AGE_HOURS", "CLEANUP_INTERVAL_HOURS")
}

// legacyEnvNames maps config keys to the unprefixed env vars bound above.
var legacyEnvNames = map[string]string{
	"server.port":              "PORT",
	"downloads.dir":            "DOWNLOADS_DIR",
	"downloads.max_concurrent": "MAX_CONCURRENT_DOWNLOADS",
	"cleanup.max_age_hours":    "CLEANUP_INTERVAL_HOURS",
}
