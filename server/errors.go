package server

import (
	"context"
	"net/http"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/pulse/async"
)

// statusForError maps error kinds to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.IsInvalidRequestError(err), errors.Is(err, async.ErrUnsupportedSource):
		return http.StatusBadRequest
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.IsAdmissionRejected(err):
		return http.StatusTooManyRequests
	case errors.Is(err, async.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.IsServiceUnavailableError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes the response for err. Server-side failures are
// logged; the client gets a generic message for those.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error, context string) {
	status := statusForError(err)
	log := logger.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		log.Errorw(context,
			logger.FieldError, err,
			logger.FieldPath, r.URL.Path,
			logger.FieldHTTPStatus, status)
		writeError(w, status, "Internal server error")
		return
	}
	log.Debugw(context, logger.FieldError, err, logger.FieldHTTPStatus, status)
	writeError(w, status, errors.Message(err))
}
