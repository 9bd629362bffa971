package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/extractor/ytdlp"
	"github.com/teranos/vidget/files"
	"github.com/teranos/vidget/internal/httpclient"
	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/pulse/async"
	"github.com/teranos/vidget/pulse/schedule"
	"github.com/teranos/vidget/server"
)

// shutdownTimeout bounds the graceful part of shutdown
const shutdownTimeout = 15 * time.Second

// ServerCmd starts the vidget HTTP API
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the vidget HTTP API",
	Long: `Start the HTTP API that accepts download requests, runs them through
yt-dlp and serves the produced files. Routes are served at the root and
under /api.`,
	RunE: runServer,
}

var (
	serverPort int
	serverHost string
	serverDir  string
)

func init() {
	ServerCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Port to listen on (overrides server.port)")
	ServerCmd.Flags().StringVar(&serverHost, "host", "", "Address to bind (overrides server.host)")
	ServerCmd.Flags().StringVar(&serverDir, "downloads-dir", "", "Output directory (overrides downloads.dir)")
}

// service holds every long-running component so shutdown can stop them in order
type service struct {
	server  *server.Server
	pool    *async.WorkerPool
	sweeper *schedule.Sweeper
	watcher *am.ConfigWatcher
	cancel  context.CancelFunc
	logger  *zap.SugaredLogger

	downloadsDir string
}

func runServer(cmd *cobra.Command, args []string) error {
	// Default to Info for the server
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverDir != "" {
		cfg.Downloads.Dir = serverDir
	}
	if err := cfg.Validate(); err != nil {
		return errors.WithHint(errors.Wrap(err, "invalid configuration"), "run 'vidget am validate' for details")
	}

	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	if err := logger.Initialize(jsonLogs || cfg.Log.JSON, verbosity); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}

	svc, deps, err := buildService(cfg, logger.Logger)
	if err != nil {
		return err
	}

	if !logger.JSONOutput {
		printStartupBanner(cfg, verbosity, deps, svc.downloadsDir)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.server.Start(cfg.Server.Host, cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		svc.shutdown()
		if err != nil {
			return errors.Wrap(err, "server stopped unexpectedly")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		done := make(chan struct{})
		go func() {
			svc.shutdown()
			close(done)
		}()

		select {
		case <-done:
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// buildService wires the registry, pool, admission, sweeper and HTTP
// server from cfg and starts the background workers.
func buildService(cfg *am.Config, log *zap.SugaredLogger) (*service, ytdlp.DependencyReport, error) {
	ctx, cancel := context.WithCancel(context.Background())

	fm, err := files.NewManager(cfg.Downloads.Dir, log)
	if err != nil {
		cancel()
		return nil, ytdlp.DependencyReport{}, errors.Wrap(err, "failed to prepare downloads directory")
	}

	ytCfg, err := ytdlp.ConfigFrom(cfg)
	if err != nil {
		cancel()
		return nil, ytdlp.DependencyReport{}, errors.Wrap(err, "invalid extractor.extra_args")
	}
	deps := ytdlp.DependencyStatus(ctx, ytCfg, cfg.Extractor.MinVersion)
	if err := deps.CheckDependencies(); err != nil {
		// Health and stats stay useful; downloads fail until yt-dlp appears
		log.Warnw("Extractor unavailable, downloads will fail", logger.FieldError, err)
	}
	extractor := ytdlp.New(ytCfg, log)

	registry := async.NewRegistry()
	canceller := async.NewCanceller(registry, log)
	pool := async.NewWorkerPool(ctx, registry, canceller, extractor, fm, async.WorkerPoolConfigFrom(cfg), log)
	guard := httpclient.NewGuard(cfg.Server.BlockPrivateSources)
	admission := async.NewAdmissionController(registry, pool, cfg.Downloads.MaxConcurrent, guard.Validate, log)
	stats := async.NewStatsAggregator(registry, fm, admission, pool, fm.Root(), log)

	srv := server.New(server.Deps{
		Registry:  registry,
		Admission: admission,
		Canceller: canceller,
		Files:     fm,
		Stats:     stats,
		Extractor: extractor,
	}, server.OptionsFrom(cfg), log)

	svc := &service{server: srv, pool: pool, cancel: cancel, logger: log, downloadsDir: fm.Root()}

	pool.Start()
	if cfg.Cleanup.Enabled {
		svc.sweeper = schedule.NewSweeper(ctx, registry, fm, pool, schedule.SweeperConfigFrom(cfg), log)
		svc.sweeper.Start()
	}

	svc.watcher = startConfigWatcher(log, admission, svc.sweeper, srv)
	return svc, deps, nil
}

// startConfigWatcher hot-reloads the settings that can change at runtime.
// It returns nil when no config file exists to watch.
func startConfigWatcher(log *zap.SugaredLogger, admission *async.AdmissionController, sweeper *schedule.Sweeper, srv *server.Server) *am.ConfigWatcher {
	path := am.FindProjectConfig()
	if path == "" {
		path = am.UserConfigPath()
		if _, err := os.Stat(path); path == "" || err != nil {
			return nil
		}
	}

	watcher, err := am.NewConfigWatcher(path, log.Named("am.watcher"))
	if err != nil {
		log.Warnw("Config hot reload disabled", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		admission.SetMaxConcurrent(cfg.Downloads.MaxConcurrent)
		srv.SetRequestsPerMinute(cfg.Server.RequestsPerMinute)
		if sweeper != nil {
			sweeper.SetMaxAge(cfg.SweepMaxAge())
		}
		return nil
	})
	watcher.Start()
	am.SetGlobalWatcher(watcher)
	return watcher
}

// shutdown stops accepting requests, then cancels in-flight downloads
func (s *service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Stop(ctx); err != nil {
		s.logger.Warnw("HTTP shutdown incomplete", logger.FieldError, err)
	}
	if s.watcher != nil {
		am.SetGlobalWatcher(nil)
		_ = s.watcher.Stop()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.pool.Stop()
	s.cancel()
	logger.Cleanup()
}
