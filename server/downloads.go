package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/pulse/async"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// HandleDownload admits a new download and returns its id
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req async.DownloadRequest
	if !readJSON(w, r, s.opts.MaxRequestBytes, &req) {
		return
	}

	id, err := s.deps.Admission.Admit(req)
	if err != nil {
		s.handleError(w, r, err, "Download not admitted")
		return
	}

	_ = writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":     true,
		"download_id": id,
		"status":      async.JobStatusQueued,
	})
}

// HandleStatus returns one job
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err, "Status lookup failed")
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"download": job,
	})
}

// HandleDownloads lists jobs newest first, optionally filtered by status
func (s *Server) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !async.IsValidStatus(status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status: %s", status))
		return
	}
	limit := parseIntQueryParam(r, "limit", defaultListLimit, 1, maxListLimit)

	jobs := s.deps.Registry.List(async.JobStatus(status), limit)
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"downloads": jobs,
		"total":     len(jobs),
	})
}

// HandleCancel asks a queued or downloading job to stop
func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Canceller.RequestCancel(id); err != nil {
		s.handleError(w, r, err, "Cancel refused")
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Cancellation of download %s requested", id),
	})
}

// HandleDelete removes a job and its output. An active job is cancelled
// first; if it does not stop within the delete wait the request fails
// with a conflict and nothing is removed.
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Registry.Get(id)
	if err != nil {
		s.handleError(w, r, err, "Delete failed")
		return
	}

	if job.Status.IsActive() {
		if _, err := s.deps.Canceller.RequestCancel(id); err != nil && !errors.IsConflictError(err) {
			s.handleError(w, r, err, "Delete failed")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.DeleteWait)
		_, err := s.deps.Registry.WaitTerminal(ctx, id)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				writeError(w, http.StatusConflict, fmt.Sprintf("Download %s did not stop within %s", id, s.opts.DeleteWait))
				return
			}
			s.handleError(w, r, err, "Delete failed")
			return
		}
	}

	if err := s.deps.Registry.Delete(id); err != nil {
		s.handleError(w, r, err, "Delete failed")
		return
	}
	if err := s.deps.Files.Purge(id); err != nil {
		s.logger.Warnw("Record deleted but output not removed", logger.FieldJobID, id, logger.FieldError, err)
	}

	s.logger.Infow("Download deleted", logger.FieldJobID, shortID(id))
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Download %s deleted", id),
	})
}
