// Package ytdlp drives the yt-dlp command line tool as the download
// extractor: metadata, format listing and job execution with progress.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/pulse/async"
)

const (
	descriptionLimit = 200
	stderrKeep       = 8192

	// waitDelay bounds how long Wait lingers on pipes held open by
	// children of a killed yt-dlp (ffmpeg)
	waitDelay = 2 * time.Second
)

// Config configures the yt-dlp client
type Config struct {
	Binary    string
	FFmpeg    string
	ExtraArgs []string
}

// ConfigFrom builds a client Config from the application config
func ConfigFrom(cfg *am.Config) (Config, error) {
	extra, err := SplitExtraArgs(cfg.Extractor.ExtraArgs)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Binary:    cfg.Extractor.Binary,
		FFmpeg:    cfg.Extractor.FFmpeg,
		ExtraArgs: extra,
	}, nil
}

// Client implements async.Extractor on top of the yt-dlp binary
type Client struct {
	cfg    Config
	logger *zap.SugaredLogger
}

var _ async.Extractor = (*Client)(nil)

// New creates a yt-dlp client
func New(cfg Config, log *zap.SugaredLogger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	return &Client{cfg: cfg, logger: log.With(logger.FieldComponent, "ytdlp")}
}

// info is the subset of yt-dlp's JSON dump we read
type info struct {
	Title       string   `json:"title"`
	Duration    float64  `json:"duration"`
	Uploader    string   `json:"uploader"`
	ViewCount   int64    `json:"view_count"`
	UploadDate  string   `json:"upload_date"`
	Thumbnail   string   `json:"thumbnail"`
	Description string   `json:"description"`
	Formats     []format `json:"formats"`
}

type format struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
}

func (c *Client) dump(ctx context.Context, url string) (*info, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Binary, metadataArgs(url, c.cfg.ExtraArgs)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrapf(ctxErr, "metadata for %s", url)
		}
		return nil, classify(err, stderr.String())
	}

	var out info
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, errors.Wrapf(async.ErrExtraction, "decode yt-dlp metadata: %v", err)
	}
	return &out, nil
}

// FetchMetadata describes the media at url without downloading it
func (c *Client) FetchMetadata(ctx context.Context, url string) (*async.Metadata, error) {
	out, err := c.dump(ctx, url)
	if err != nil {
		return nil, err
	}
	return &async.Metadata{
		Title:       out.Title,
		Duration:    out.Duration,
		Uploader:    out.Uploader,
		ViewCount:   out.ViewCount,
		UploadDate:  out.UploadDate,
		Formats:     len(out.Formats),
		Thumbnail:   out.Thumbnail,
		Description: truncateDescription(out.Description),
	}, nil
}

// ListFormats returns every rendition yt-dlp offers for url
func (c *Client) ListFormats(ctx context.Context, url string) ([]async.Format, error) {
	out, err := c.dump(ctx, url)
	if err != nil {
		return nil, err
	}
	formats := make([]async.Format, 0, len(out.Formats))
	for _, f := range out.Formats {
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		formats = append(formats, async.Format{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			Filesize:   size,
			FPS:        f.FPS,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
		})
	}
	return formats, nil
}

// Execute runs one download into req.OutputDir, reporting progress as
// yt-dlp prints it. The process is killed when ctx is done.
func (c *Client) Execute(ctx context.Context, req async.ExecuteRequest, progress async.ProgressReporter) ([]string, error) {
	args := downloadArgs(req, c.cfg.FFmpeg, c.cfg.ExtraArgs)
	log := c.logger.With(logger.FieldJobID, req.JobID)
	log.Debugw("Starting yt-dlp", logger.FieldBinary, c.cfg.Binary, "args", args)

	var stderr tailBuffer
	stdoutR, stdoutW := io.Pipe()
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return nil, classify(err, "")
	}

	parser := newProgressParser()
	progress.Report(parser.current)

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(stdoutR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			if p, changed := parser.Parse(scanner.Text()); changed {
				progress.Report(p)
			}
		}
		// keep draining so the process never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stdoutR)
	}()

	waitErr := cmd.Wait()
	stdoutW.Close()
	<-scanned

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classify(waitErr, stderr.String())
	}

	files := parser.Files()
	log.Debugw("yt-dlp finished", logger.FieldFiles, files)
	return files, nil
}

// classify maps a failed run to one of the extractor failure kinds
func classify(runErr error, stderr string) error {
	msg := lastErrorLine(stderr)
	if msg == "" {
		msg = runErr.Error()
	}

	// anything but a non-zero exit means the binary never ran
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, msg),
			"run 'vidget deps check' to verify the extractor is installed")
	}

	switch {
	case strings.Contains(stderr, "Unsupported URL"),
		strings.Contains(stderr, "is not a valid URL"):
		return errors.Wrap(async.ErrUnsupportedSource, msg)
	case strings.Contains(stderr, "HTTP Error"),
		strings.Contains(stderr, "Unable to download"),
		strings.Contains(stderr, "getaddrinfo"),
		strings.Contains(stderr, "Connection refused"),
		strings.Contains(stderr, "timed out"):
		return errors.Wrap(async.ErrNetwork, msg)
	default:
		return errors.Wrap(async.ErrExtraction, msg)
	}
}

// lastErrorLine picks the most useful line of yt-dlp's stderr
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func truncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= descriptionLimit {
		return s
	}
	return string(r[:descriptionLimit]) + "..."
}

// tailBuffer keeps the first stderrKeep bytes written to it
type tailBuffer struct {
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	if room := stderrKeep - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return b.buf.String()
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
