package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/teranos/vidget/logger"
)

// routes builds the router. Every API route is served both at the root
// and under /api.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Mount("/api", s.apiRoutes())
	r.Mount("/", s.apiRoutes())
	return r
}

func (s *Server) apiRoutes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", s.HandleHealth)
	r.Post("/info", s.HandleInfo)
	r.Post("/formats", s.HandleFormats)
	r.Post("/download", s.HandleDownload)
	r.Get("/status/{id}", s.HandleStatus)
	r.Get("/downloads", s.HandleDownloads)
	r.Get("/download/{id}/files/*", s.HandleFile)
	r.Post("/download/{id}/cancel", s.HandleCancel)
	r.Delete("/download/{id}", s.HandleDelete)
	r.Get("/download/{id}/ws", s.HandleJobStream)
	r.Get("/stats", s.HandleStats)
	return r
}

// requestLogger logs every request at debug level, failures at warn
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = r.WithContext(logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []interface{}{
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldHTTPStatus, status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldClientIP, r.RemoteAddr,
		}
		fields = append(fields, logger.FieldsFromContext(r.Context())...)
		if status >= http.StatusInternalServerError {
			s.logger.Warnw("Request failed", fields...)
			return
		}
		s.logger.Debugw("Request", fields...)
	})
}

// corsMiddleware answers preflight requests and sets CORS headers for
// allowed origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed matches origin against the configured allow list. "*"
// allows everything; other entries match by prefix so any port works.
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// rateLimitMiddleware rejects clients that exceed the per-IP request rate
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
