package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/vidget/version"
)

// urlRequest is the body of /info and /formats
type urlRequest struct {
	URL string `json:"url"`
}

// HandleHealth reports liveness and the number of active downloads
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if ServerState(s.state.Load()) == ServerStateDraining {
		status = "draining"
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"active_downloads": s.deps.Registry.ActiveCount(),
		"version":          version.Version,
	})
}

// HandleInfo returns metadata for a URL without downloading it
func (s *Server) HandleInfo(w http.ResponseWriter, r *http.Request) {
	url, ok := s.readURL(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.MetadataTimeout)
	defer cancel()

	info, err := s.deps.Extractor.FetchMetadata(ctx, url)
	if err != nil {
		s.handleError(w, r, err, "Failed to fetch media info")
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"info":    info,
	})
}

// HandleFormats lists the renditions available for a URL
func (s *Server) HandleFormats(w http.ResponseWriter, r *http.Request) {
	url, ok := s.readURL(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.MetadataTimeout)
	defer cancel()

	formats, err := s.deps.Extractor.ListFormats(ctx, url)
	if err != nil {
		s.handleError(w, r, err, "Failed to list formats")
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"formats": formats,
	})
}

func (s *Server) readURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req urlRequest
	if !readJSON(w, r, s.opts.MaxRequestBytes, &req) {
		return "", false
	}
	url, err := s.deps.Admission.CheckURL(req.URL)
	if err != nil {
		s.handleError(w, r, err, "Rejected source URL")
		return "", false
	}
	return url, true
}

// HandleStats returns job counts and disk usage; ?system=true adds host
// metrics
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	includeSystem, _ := strconv.ParseBool(r.URL.Query().Get("system"))
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   s.deps.Stats.Snapshot(includeSystem),
	})
}
