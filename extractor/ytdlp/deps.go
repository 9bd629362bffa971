package ytdlp

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/vidget/errors"
)

// DependencyReport describes the external binaries the extractor needs
type DependencyReport struct {
	YTDLPFound     bool   `json:"yt_dlp_found"`
	YTDLPPath      string `json:"yt_dlp_path,omitempty"`
	YTDLPVersion   string `json:"yt_dlp_version,omitempty"`
	VersionOK      bool   `json:"version_ok"`
	VersionProblem string `json:"version_problem,omitempty"`
	FFmpegFound    bool   `json:"ffmpeg_found"`
	FFmpegPath     string `json:"ffmpeg_path,omitempty"`
}

// DependencyStatus looks up yt-dlp and ffmpeg and checks the yt-dlp
// version against constraint. An empty constraint accepts any version.
func DependencyStatus(ctx context.Context, cfg Config, constraint string) DependencyReport {
	report := DependencyReport{}

	if path, err := exec.LookPath(cfg.Binary); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path

		if v, err := binaryVersion(ctx, path); err == nil {
			report.YTDLPVersion = v
			if err := CheckVersion(v, constraint); err != nil {
				report.VersionProblem = err.Error()
			} else {
				report.VersionOK = true
			}
		} else {
			report.VersionProblem = err.Error()
		}
	}

	ffmpeg := cfg.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if path, err := exec.LookPath(ffmpeg); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

// CheckDependencies returns an error describing the first missing or
// unusable dependency. ffmpeg is optional for audio-only and single-file
// formats, so its absence is not an error here.
func (r DependencyReport) CheckDependencies() error {
	if !r.YTDLPFound {
		return errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, "yt-dlp is not installed or not on PATH"),
			"run 'vidget deps install' or set extractor.binary")
	}
	if !r.VersionOK {
		return errors.Wrap(errors.ErrServiceUnavailable, r.VersionProblem)
	}
	return nil
}

func binaryVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "", errors.Wrapf(err, "%s --version", path)
	}
	return strings.TrimSpace(string(out)), nil
}

// CheckVersion reports whether a yt-dlp version string satisfies constraint
func CheckVersion(version, constraint string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}

	v, err := semver.NewVersion(normalizeVersion(version))
	if err != nil {
		return errors.Wrapf(err, "invalid yt-dlp version %s", version)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "invalid version constraint %s", constraint)
	}
	if !c.Check(v) {
		return errors.Newf("extractor requires yt-dlp %s, but found %s", constraint, version)
	}
	return nil
}

// normalizeVersion turns yt-dlp's date versions (2024.08.06, nightly
// 2024.08.06.232345) into three numeric semver parts without leading zeros.
func normalizeVersion(version string) string {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(version), "v"), ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			parts[i] = strconv.Itoa(n)
		}
	}
	return strings.Join(parts, ".")
}
