// Package server exposes the download API over HTTP: job admission,
// status, listing, cancellation, deletion, file retrieval, statistics and
// a websocket stream of job updates.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/files"
	"github.com/teranos/vidget/pulse/async"
)

// ServerState tracks the lifecycle of the HTTP server
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

// Deps are the collaborators the API serves from. All are required.
type Deps struct {
	Registry  *async.Registry
	Admission *async.AdmissionController
	Canceller *async.Canceller
	Files     *files.Manager
	Stats     *async.StatsAggregator
	Extractor async.Extractor
}

// Options tune request handling
type Options struct {
	AllowedOrigins    []string
	RequestsPerMinute int
	MaxRequestBytes   int64
	MetadataTimeout   time.Duration
	DeleteWait        time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// OptionsFrom derives server options from loaded config
func OptionsFrom(cfg *am.Config) Options {
	return Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		MaxRequestBytes:   cfg.Server.MaxRequestBytes,
		MetadataTimeout:   cfg.MetadataTimeout(),
		DeleteWait:        cfg.DeleteWait(),
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
}

// Server is the vidget HTTP API
type Server struct {
	deps    Deps
	opts    Options
	router  chi.Router
	limiter *clientLimiter
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // websocket streams

	httpServer *http.Server
	state      atomic.Int32
}

// New creates the server and its routes
func New(deps Deps, opts Options, log *zap.SugaredLogger) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = am.DefaultMaxRequestBytes
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = time.Minute
	}
	if opts.DeleteWait <= 0 {
		opts.DeleteWait = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		opts:    opts,
		limiter: newClientLimiter(opts.RequestsPerMinute),
		logger:  log.Named("server"),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetRequestsPerMinute changes the per-client rate limit; 0 disables it
func (s *Server) SetRequestsPerMinute(n int) {
	s.limiter.SetRate(n)
}
