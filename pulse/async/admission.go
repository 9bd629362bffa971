package async

import (
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
)

// DownloadRequest is a client's request to fetch a URL
type DownloadRequest struct {
	URL            string   `json:"url"`
	Quality        string   `json:"quality,omitempty"`
	AudioOnly      bool     `json:"audio_only,omitempty"`
	Subtitles      []string `json:"subtitles,omitempty"`
	Playlist       bool     `json:"playlist,omitempty"`
	MaxDownloads   int      `json:"max_downloads,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// URLValidator rejects source URLs the service must not fetch
type URLValidator func(raw string) error

// Limits on request fields
const (
	DefaultQuality       = "best"
	MaxPlaylistDownloads = 1000
	MaxTimeoutSeconds    = 24 * 60 * 60
	maxURLLength         = 4096
)

var (
	qualityPattern  = regexp.MustCompile(`^[A-Za-z0-9_+\-/\[\]<>=!*.:,?]{1,128}$`)
	subtitlePattern = regexp.MustCompile(`^[A-Za-z0-9_\-.*]{1,32}$`)
)

// ValidateSourceURL requires an absolute http(s) URL with a host
func ValidateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.NewInvalidRequestError("url is required")
	}
	if len(raw) > maxURLLength {
		return errors.NewInvalidRequestError("url exceeds %d characters", maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.NewInvalidRequestError("url is malformed: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewInvalidRequestError("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.NewInvalidRequestError("url must include a host")
	}
	return nil
}

// Normalize validates the request and returns the options snapshot for the job
func (req DownloadRequest) Normalize() (Options, error) {
	opts := Options{
		Quality:        strings.TrimSpace(req.Quality),
		AudioOnly:      req.AudioOnly,
		Playlist:       req.Playlist,
		TimeoutSeconds: req.TimeoutSeconds,
	}
	if opts.Quality == "" {
		opts.Quality = DefaultQuality
	}
	if !qualityPattern.MatchString(opts.Quality) {
		return Options{}, errors.NewInvalidRequestError("quality %q is not a valid format selector", opts.Quality)
	}

	seen := make(map[string]bool, len(req.Subtitles))
	for _, lang := range req.Subtitles {
		lang = strings.TrimSpace(lang)
		if lang == "" || seen[lang] {
			continue
		}
		if !subtitlePattern.MatchString(lang) {
			return Options{}, errors.NewInvalidRequestError("subtitle language %q is invalid", lang)
		}
		seen[lang] = true
		opts.Subtitles = append(opts.Subtitles, lang)
	}

	if req.MaxDownloads < 0 || req.MaxDownloads > MaxPlaylistDownloads {
		return Options{}, errors.NewInvalidRequestError("max_downloads must be between 0 and %d", MaxPlaylistDownloads)
	}
	if req.Playlist {
		opts.MaxDownloads = req.MaxDownloads
	}

	if req.TimeoutSeconds < 0 || req.TimeoutSeconds > MaxTimeoutSeconds {
		return Options{}, errors.NewInvalidRequestError("timeout_seconds must be between 0 and %d", MaxTimeoutSeconds)
	}

	return opts, nil
}

// Dispatcher is told when new work is queued
type Dispatcher interface {
	Notify()
}

// AdmissionController accepts or rejects new downloads against the
// concurrency cap. It never waits for a slot.
type AdmissionController struct {
	registry      *Registry
	dispatcher    Dispatcher
	validateURL   URLValidator
	maxConcurrent atomic.Int64
	logger        *zap.SugaredLogger
}

// NewAdmissionController creates a controller. validate may be nil, in
// which case only ValidateSourceURL applies.
func NewAdmissionController(registry *Registry, dispatcher Dispatcher, maxConcurrent int, validate URLValidator, log *zap.SugaredLogger) *AdmissionController {
	a := &AdmissionController{
		registry:    registry,
		dispatcher:  dispatcher,
		validateURL: validate,
		logger:      logger.AddPulseSymbol(log),
	}
	a.SetMaxConcurrent(maxConcurrent)
	return a
}

// SetMaxConcurrent changes the cap for future admissions. Jobs already
// admitted are unaffected.
func (a *AdmissionController) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	if old := a.maxConcurrent.Swap(int64(n)); old != 0 && old != int64(n) {
		a.logger.Infow("Concurrency cap changed", "old", old, logger.FieldCapacity, n)
	}
}

// MaxConcurrent returns the current cap
func (a *AdmissionController) MaxConcurrent() int {
	return int(a.maxConcurrent.Load())
}

// CheckURL applies the source URL rules and returns the trimmed URL. The
// synchronous metadata endpoints use it too.
func (a *AdmissionController) CheckURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := ValidateSourceURL(raw); err != nil {
		return "", err
	}
	if a.validateURL != nil {
		if err := a.validateURL(raw); err != nil {
			return "", errors.WrapInvalidRequest(err, "url rejected")
		}
	}
	return raw, nil
}

// Admit validates req and, if a slot is free, records a queued job and
// returns its id. The record exists before Admit returns.
func (a *AdmissionController) Admit(req DownloadRequest) (string, error) {
	var err error
	if req.URL, err = a.CheckURL(req.URL); err != nil {
		return "", err
	}

	opts, err := req.Normalize()
	if err != nil {
		return "", err
	}

	limit := a.MaxConcurrent()
	id, err := a.registry.create(NewJob(req.URL, opts), limit)
	if err != nil {
		if errors.IsAdmissionRejected(err) {
			a.logger.Infow("Download rejected, concurrency cap reached",
				logger.FieldURL, req.URL,
				logger.FieldCapacity, limit)
		}
		return "", err
	}

	a.logger.Infow("Download queued",
		logger.FieldJobID, id,
		logger.FieldURL, req.URL,
		"quality", opts.Quality,
		"audio_only", opts.AudioOnly,
		"playlist", opts.Playlist)

	if a.dispatcher != nil {
		a.dispatcher.Notify()
	}
	return id, nil
}
