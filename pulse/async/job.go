// Package async runs download jobs in-process: the job record and its state
// machine, the registry that owns every record, admission under a concurrency
// cap, the worker pool that drives the extractor, and cooperative cancellation.
package async

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranos/vidget/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusDownloading,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusDownloading,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions can happen
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job counts against the concurrency cap
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusDownloading
}

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusDownloading: true,
		JobStatusCancelled:   true,
	},
	JobStatusDownloading: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is an edge of the job state machine
func CanTransition(from, to JobStatus) bool {
	return allowedTransitions[from][to]
}

// CancelReason records why a job ended up cancelled
type CancelReason string

const (
	CancelReasonRequested CancelReason = "requested"
	CancelReasonTimeout   CancelReason = "timeout"
	CancelReasonShutdown  CancelReason = "shutdown"
)

// Options is the immutable snapshot of what the client asked for
type Options struct {
	Quality        string   `json:"quality"`
	AudioOnly      bool     `json:"audio_only"`
	Subtitles      []string `json:"subtitles,omitempty"`
	Playlist       bool     `json:"playlist"`
	MaxDownloads   int      `json:"max_downloads,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

func (o Options) clone() Options {
	if o.Subtitles != nil {
		o.Subtitles = append([]string(nil), o.Subtitles...)
	}
	return o
}

// Timeout returns the per-job deadline requested by the client, zero for none
func (o Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Progress is the latest progress report from the extractor
type Progress struct {
	Percent         float64 `json:"percent"`
	Stage           string  `json:"stage"`
	DownloadedBytes int64   `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	Speed           string  `json:"speed,omitempty"`
	ETA             string  `json:"eta,omitempty"`
	Item            int     `json:"item,omitempty"`       // current playlist entry, 1-based
	ItemCount       int     `json:"item_count,omitempty"` // playlist entries to fetch
}

// Job is one tracked download.
//
// Records are owned by the Registry. Everything handed out by the registry
// is a copy; mutation goes through Registry.Update.
type Job struct {
	ID              string       `json:"id"`
	URL             string       `json:"url"`
	Status          JobStatus    `json:"status"`
	Options         Options      `json:"options"`
	Progress        *Progress    `json:"progress,omitempty"`
	Error           string       `json:"error,omitempty"`
	Files           []string     `json:"files"`
	CancelRequested bool         `json:"cancel_requested"`
	CancelReason    CancelReason `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`

	seq uint64 // creation order, assigned by the registry
}

// NewJob creates a queued job with a fresh identifier
func NewJob(url string, opts Options) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Status:    JobStatusQueued,
		Options:   opts.clone(),
		Files:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy
func (j *Job) Clone() *Job {
	c := *j
	c.Options = j.Options.clone()
	c.Files = append([]string{}, j.Files...)
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Duration returns how long the job ran, zero if it never started
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

func (j *Job) transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		if j.Status.IsTerminal() {
			return errors.NewConflictError("job %s is already %s", j.ID, j.Status)
		}
		return errors.NewConflictError("job %s cannot move from %s to %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// start moves queued -> downloading
func (j *Job) start(now time.Time) error {
	if err := j.transition(JobStatusDownloading); err != nil {
		return err
	}
	j.StartedAt = &now
	j.Progress = &Progress{Stage: "starting"}
	return nil
}

// complete moves downloading -> completed with the produced files
func (j *Job) complete(files []string, now time.Time) error {
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.Files = append([]string{}, files...)
	j.CompletedAt = &now
	if j.Progress == nil {
		j.Progress = &Progress{}
	}
	j.Progress.Percent = 100
	j.Progress.Stage = "finished"
	return nil
}

// fail moves downloading -> failed
func (j *Job) fail(message string, now time.Time) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.Error = message
	j.Files = []string{}
	j.CompletedAt = &now
	return nil
}

// cancel moves queued or downloading -> cancelled
func (j *Job) cancel(reason CancelReason, now time.Time) error {
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	j.CancelRequested = true
	j.CancelReason = reason
	j.Files = []string{}
	j.CompletedAt = &now
	return nil
}
