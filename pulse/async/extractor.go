package async

import (
	"context"

	"github.com/teranos/vidget/errors"
)

// Failure kinds an Extractor reports. Wrap them with context; the worker pool
// and the HTTP layer classify with errors.Is.
var (
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrNetwork           = errors.New("network error")
	ErrExtraction        = errors.New("extraction error")
)

// Metadata describes a remote media item without downloading it
type Metadata struct {
	Title       string  `json:"title"`
	Duration    float64 `json:"duration"`
	Uploader    string  `json:"uploader"`
	ViewCount   int64   `json:"view_count"`
	UploadDate  string  `json:"upload_date"`
	Formats     int     `json:"formats"`
	Thumbnail   string  `json:"thumbnail"`
	Description string  `json:"description"`
}

// Format is one downloadable rendition of a media item
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	Filesize   int64   `json:"filesize,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
}

// ExecuteRequest is everything the extractor needs for one job
type ExecuteRequest struct {
	JobID     string
	URL       string
	Options   Options
	OutputDir string
}

// ProgressReporter receives progress while a job downloads
type ProgressReporter interface {
	Report(Progress)
}

// Extractor performs the actual retrieval and media processing.
//
// Execute must watch ctx and return once it is done; it returns the names
// of the files it wrote into req.OutputDir.
type Extractor interface {
	FetchMetadata(ctx context.Context, url string) (*Metadata, error)
	ListFormats(ctx context.Context, url string) ([]Format, error)
	Execute(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error)
}
