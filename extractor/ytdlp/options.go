package ytdlp

import (
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/pulse/async"
)

// outputTemplate keeps names short and ASCII; the id suffix keeps playlist
// entries with equal titles apart.
const outputTemplate = "%(title).200B [%(id)s].%(ext)s"

// SplitExtraArgs parses the configured extra arguments with shell quoting rules
func SplitExtraArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shellquote.Split(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse extractor extra_args %q", raw)
	}
	return args, nil
}

// selectFormat maps the quality option to a yt-dlp format selector.
// Unknown values are passed through as selectors.
func selectFormat(opts async.Options) string {
	if opts.AudioOnly {
		return "bestaudio/best"
	}
	quality := strings.ToLower(strings.TrimSpace(opts.Quality))
	switch quality {
	case "", "best":
		return "bv*+ba/b"
	case "worst":
		return "wv*+wa/w"
	case "1080p", "1080", "hd":
		return "bv*[height<=1080]+ba/b[height<=1080]"
	case "720p", "720":
		return "bv*[height<=720]+ba/b[height<=720]"
	case "480p", "480", "sd":
		return "bv*[height<=480]+ba/b[height<=480]"
	case "360p", "360":
		return "bv*[height<=360]+ba/b[height<=360]"
	default:
		return strings.TrimSpace(opts.Quality)
	}
}

// downloadArgs builds the argument list for one job
func downloadArgs(req async.ExecuteRequest, ffmpeg string, extra []string) []string {
	opts := req.Options

	args := []string{
		"--newline",
		"--no-colors",
		"--restrict-filenames",
		"-P", req.OutputDir,
		"-o", outputTemplate,
		"-f", selectFormat(opts),
	}
	if ffmpeg != "" && ffmpeg != "ffmpeg" {
		args = append(args, "--ffmpeg-location", ffmpeg)
	}

	if len(opts.Subtitles) > 0 {
		args = append(args,
			"--write-subs",
			"--write-auto-subs",
			"--sub-langs", strings.Join(opts.Subtitles, ","),
		)
	}

	if !opts.AudioOnly {
		args = append(args,
			"--merge-output-format", "mp4",
			"--write-info-json",
			"--write-thumbnail",
		)
	}

	if opts.Playlist {
		args = append(args, "--yes-playlist")
		if opts.MaxDownloads > 0 {
			args = append(args, "--playlist-end", strconv.Itoa(opts.MaxDownloads))
		}
	} else {
		args = append(args, "--no-playlist")
	}

	args = append(args, extra...)
	return append(args, "--", req.URL)
}

// metadataArgs builds the argument list for a single JSON metadata dump
func metadataArgs(url string, extra []string) []string {
	args := []string{"--dump-single-json", "--no-playlist", "--no-warnings", "--skip-download"}
	args = append(args, extra...)
	return append(args, "--", url)
}
