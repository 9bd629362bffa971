package am

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/vidget/errors"
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestsPerMinute < 0 {
		return errors.Newf("server.requests_per_minute must be >= 0, got %d", c.Server.RequestsPerMinute)
	}
	if c.Server.MaxRequestBytes <= 0 {
		return errors.Newf("server.max_request_bytes must be > 0, got %d", c.Server.MaxRequestBytes)
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 {
		return errors.New("server timeouts must be >= 0")
	}

	if strings.TrimSpace(c.Downloads.Dir) == "" {
		return errors.New("downloads.dir cannot be empty")
	}
	if c.Downloads.MaxConcurrent < 1 {
		return errors.Newf("downloads.max_concurrent must be >= 1, got %d", c.Downloads.MaxConcurrent)
	}
	if c.Downloads.JobTimeoutSeconds < 0 {
		return errors.Newf("downloads.job_timeout_seconds must be >= 0, got %d", c.Downloads.JobTimeoutSeconds)
	}
	if c.Downloads.DeleteWaitSeconds < 0 {
		return errors.Newf("downloads.delete_wait_seconds must be >= 0, got %d", c.Downloads.DeleteWaitSeconds)
	}

	if c.Cleanup.Enabled {
		if c.Cleanup.IntervalMinutes <= 0 {
			return errors.Newf("cleanup.interval_minutes must be > 0 when cleanup is enabled, got %d", c.Cleanup.IntervalMinutes)
		}
		if c.Cleanup.MaxAgeHours <= 0 {
			return errors.Newf("cleanup.max_age_hours must be > 0 when cleanup is enabled, got %d", c.Cleanup.MaxAgeHours)
		}
	}

	if strings.TrimSpace(c.Extractor.Binary) == "" {
		return errors.New("extractor.binary cannot be empty")
	}
	if c.Extractor.MinVersion != "" {
		if _, err := semver.NewConstraint(c.Extractor.MinVersion); err != nil {
			return errors.Wrapf(err, "extractor.min_version %q is not a valid constraint", c.Extractor.MinVersion)
		}
	}
	if c.Extractor.MetadataTimeoutSeconds <= 0 {
		return errors.Newf("extractor.metadata_timeout_seconds must be > 0, got %d", c.Extractor.MetadataTimeoutSeconds)
	}

	return nil
}
