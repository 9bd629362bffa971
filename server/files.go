package server

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/vidget/files"
)

// urlParam returns a decoded route parameter. chi matches on the raw path
// when the request carries escapes, so %2F arrives still encoded.
func urlParam(r *http.Request, name string) (string, error) {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}

// HandleFile streams one produced file of a completed job. The name is
// matched as a wildcard so unencoded separators still reach validation.
func (s *Server) HandleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename, err := urlParam(r, "*")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Malformed file name")
		return
	}
	if err := files.ValidateFilename(filename); err != nil {
		s.handleError(w, r, err, "Rejected file name")
		return
	}

	job, err := s.deps.Registry.Get(id)
	if err != nil {
		s.handleError(w, r, err, "File lookup failed")
		return
	}

	f, info, err := s.deps.Files.Open(id, filename, job.Files)
	if err != nil {
		s.handleError(w, r, err, "File lookup failed")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", files.ContentDisposition(filename))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}
