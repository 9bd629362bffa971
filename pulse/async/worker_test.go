package async

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/logger"
)

// TestTASBotInitializesWorkerPool tests that TAS Bot can initialize the worker pool
// with exact worker counts (frame-perfect setup)
func TestTASBotInitializesWorkerPool(t *testing.T) {
	t.Log("🎮 TAS Bot begins frame-perfect worker pool initialization...")

	r := NewRegistry()
	pool := NewWorkerPool(context.Background(), r, NewCanceller(r, createTestLogger()), newFakeExtractor(),
		&dirStore{root: t.TempDir()}, WorkerPoolConfig{Workers: 3}, createTestLogger())

	if pool.Workers() != 3 {
		t.Errorf("TAS Bot expected 3 workers, got %d", pool.Workers())
	}
	if pool.poolConfig.PollInterval <= 0 || pool.poolConfig.StopTimeout <= 0 {
		t.Errorf("zero intervals should fall back to defaults: %+v", pool.poolConfig)
	}

	t.Logf("✓ TAS Bot initialized worker pool: %s", pool)
}

func TestWorkerPoolConfigFrom(t *testing.T) {
	cfg := &am.Config{Downloads: am.DownloadsConfig{MaxConcurrent: 5, JobTimeoutSeconds: 90}}
	poolCfg := WorkerPoolConfigFrom(cfg)

	if poolCfg.Workers != 5 {
		t.Errorf("workers = %d, want 5", poolCfg.Workers)
	}
	if poolCfg.JobTimeout != 90*time.Second {
		t.Errorf("job timeout = %v", poolCfg.JobTimeout)
	}
	if WorkerPoolConfigFrom(nil).Workers != am.DefaultMaxConcurrent {
		t.Error("nil config should give defaults")
	}
}

// TestTASBotGracefulShutdown tests that an idle pool stops well inside its timeout
func TestTASBotGracefulShutdown(t *testing.T) {
	t.Log("🎮 TAS Bot tests frame-perfect shutdown timing...")

	rig := newTestRig(t, 3, 3, 0)
	time.Sleep(30 * time.Millisecond)

	startTime := time.Now()
	rig.pool.Stop()
	shutdownDuration := time.Since(startTime)

	if shutdownDuration > time.Second {
		t.Errorf("TAS Bot shutdown took too long: %v", shutdownDuration)
	}

	t.Logf("✓ TAS Bot shutdown completed in %v", shutdownDuration)
}

func TestKirbyCompletesDownload(t *testing.T) {
	t.Log("⭐ Kirby inhales a URL...")
	t.Log("   'Poyo!' *inhales deeply*")

	rig := newTestRig(t, 2, 3, 0)
	id := rig.admit(t, "https://example.com/v")

	req := rig.extractor.waitStarted(t)
	if req.OutputDir != rig.store.dir(id) {
		t.Errorf("output dir = %s", req.OutputDir)
	}
	if req.Options.Quality != DefaultQuality {
		t.Errorf("options not passed through: %+v", req.Options)
	}

	downloading := waitForStatus(t, rig.registry, id, JobStatusDownloading)
	if downloading.StartedAt == nil {
		t.Error("downloading job must have started_at")
	}
	if len(downloading.Files) != 0 {
		t.Error("files must stay empty until completed")
	}

	close(rig.extractor.release)
	job := waitForStatus(t, rig.registry, id, JobStatusCompleted)

	if len(job.Files) != 1 || job.Files[0] != "clip.mp4" {
		t.Fatalf("files = %v", job.Files)
	}
	if _, err := os.Stat(filepath.Join(rig.store.dir(id), job.Files[0])); err != nil {
		t.Errorf("listed file missing on disk: %v", err)
	}
	if job.CompletedAt == nil || job.StartedAt.After(*job.CompletedAt) {
		t.Errorf("bad timestamps: started %v completed %v", job.StartedAt, job.CompletedAt)
	}
	if job.Progress == nil || job.Progress.Percent != 100 {
		t.Errorf("completed progress = %+v", job.Progress)
	}

	t.Log("✓ Kirby copied the media ability")
}

func TestProgressReachesRegistry(t *testing.T) {
	rig := newTestRig(t, 1, 3, 0)
	id := rig.admit(t, "https://example.com/v")
	rig.extractor.waitStarted(t)

	deadline := time.Now().Add(testWait)
	for {
		job, _ := rig.registry.Get(id)
		if job.Progress != nil && job.Progress.Percent == 42 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("progress never reached the registry: %+v", job.Progress)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rig.extractor.reporter(id).Report(Progress{Percent: 250, Stage: "downloading"})
	job, _ := rig.registry.Get(id)
	if job.Progress.Percent != 100 {
		t.Errorf("percent should clamp to 100, got %v", job.Progress.Percent)
	}

	close(rig.extractor.release)
	waitForStatus(t, rig.registry, id, JobStatusCompleted)
}

func TestLateProgressIsNoOp(t *testing.T) {
	t.Log("🎮 TAS Bot replays an input after the level is cleared...")

	rig := newTestRig(t, 1, 3, 0)
	id := rig.admit(t, "https://example.com/v")
	rig.extractor.waitStarted(t)
	close(rig.extractor.release)
	before := waitForStatus(t, rig.registry, id, JobStatusCompleted)

	rig.extractor.reporter(id).Report(Progress{Percent: 3, Stage: "downloading"})

	after, _ := rig.registry.Get(id)
	if after.Status != JobStatusCompleted || after.Progress.Percent != 100 || after.Progress.Stage != before.Progress.Stage {
		t.Errorf("late progress changed a terminal job: %+v", after.Progress)
	}

	t.Log("✓ TAS Bot: late input ignored")
}

func TestExtractorFailureFailsJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"unsupported", fmt.Errorf("yt-dlp: %w", ErrUnsupportedSource), ErrorKindUnsupportedSource},
		{"network", fmt.Errorf("yt-dlp: %w", ErrNetwork), ErrorKindNetwork},
		{"other", fmt.Errorf("exit status 1"), ErrorKindExtraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, 1, 3, 0)
			rig.extractor.setExecute(func(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error) {
				_ = os.WriteFile(filepath.Join(req.OutputDir, "half.mp4"), []byte("x"), 0o644)
				return nil, tt.err
			})

			id := rig.admit(t, "https://example.com/v")
			job := waitForStatus(t, rig.registry, id, JobStatusFailed)

			if job.Error == "" {
				t.Error("failed job must carry an error")
			}
			if len(job.Files) != 0 {
				t.Errorf("failed job lists files %v", job.Files)
			}
			if ClassifyError(tt.err) != tt.kind {
				t.Errorf("ClassifyError = %s, want %s", ClassifyError(tt.err), tt.kind)
			}
			if rig.store.exists(id) {
				t.Error("partial output of a failed job should be removed")
			}
		})
	}
}

func TestEmptyManifestFails(t *testing.T) {
	rig := newTestRig(t, 1, 3, 0)
	rig.extractor.setExecute(func(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error) {
		return []string{"ghost.mp4"}, nil
	})

	id := rig.admit(t, "https://example.com/v")
	job := waitForStatus(t, rig.registry, id, JobStatusFailed)
	if !strings.Contains(job.Error, "no files") {
		t.Errorf("error = %q", job.Error)
	}
}

func TestKirbySurvivesPanic(t *testing.T) {
	t.Log("⭐ Kirby inhales a bomb...")

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()

	r := NewRegistry()
	ex := newFakeExtractor()
	ex.setExecute(func(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error) {
		if strings.HasSuffix(req.URL, "/bomb") {
			panic("kaboom")
		}
		_ = os.WriteFile(filepath.Join(req.OutputDir, "ok.mp4"), []byte("x"), 0o644)
		return []string{"ok.mp4"}, nil
	})
	store := &dirStore{root: t.TempDir()}
	c := NewCanceller(r, log)
	pool := NewWorkerPool(context.Background(), r, c, ex, store, WorkerPoolConfig{Workers: 1, PollInterval: 20 * time.Millisecond}, log)
	a := NewAdmissionController(r, pool, 3, nil, log)
	pool.Start()
	defer pool.Stop()

	bomb, err := a.Admit(DownloadRequest{URL: "https://example.com/bomb"})
	if err != nil {
		t.Fatal(err)
	}
	job := waitForStatus(t, r, bomb, JobStatusFailed)
	if !strings.Contains(job.Error, "internal") {
		t.Errorf("error = %q, want an internal fault", job.Error)
	}

	internal := logs.FilterField(zap.String(logger.FieldErrorKind, string(ErrorKindInternal))).All()
	if len(internal) == 0 {
		t.Fatal("internal fault should be logged with error_kind=internal")
	}
	fields := internal[0].ContextMap()
	if fields[logger.FieldJobID] != bomb {
		t.Errorf("job_id = %v, want %s", fields[logger.FieldJobID], bomb)
	}
	if fields[logger.FieldComponent] != "pulse.worker" {
		t.Errorf("component = %v", fields[logger.FieldComponent])
	}

	next, err := a.Admit(DownloadRequest{URL: "https://example.com/fine"})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, r, next, JobStatusCompleted)

	t.Log("✓ Kirby: 'Poyo!' still standing")
}

func TestJobsRunInCreationOrder(t *testing.T) {
	t.Log("🎮 TAS Bot queues three runs for a single Kirby...")

	rig := newTestRig(t, 1, 3, 0)
	ids := []string{
		rig.admit(t, "https://example.com/1"),
		rig.admit(t, "https://example.com/2"),
		rig.admit(t, "https://example.com/3"),
	}

	for i, want := range ids {
		req := rig.extractor.waitStarted(t)
		if req.JobID != want {
			t.Fatalf("run %d executed %s, want %s", i, req.JobID, want)
		}
		rig.extractor.release <- struct{}{}
		waitForStatus(t, rig.registry, want, JobStatusCompleted)
	}

	t.Log("✓ TAS Bot: first in, first out")
}

func TestActiveWorkersTracked(t *testing.T) {
	rig := newTestRig(t, 2, 3, 0)
	rig.admit(t, "https://example.com/1")
	rig.admit(t, "https://example.com/2")
	rig.extractor.waitStarted(t)
	rig.extractor.waitStarted(t)

	if got := rig.pool.ActiveWorkers(); got != 2 {
		t.Errorf("ActiveWorkers = %d, want 2", got)
	}

	metrics := rig.pool.GetSystemMetrics(rig.store.root)
	if metrics.WorkersActive != 2 || metrics.WorkersTotal != 2 {
		t.Errorf("metrics = %+v", metrics)
	}

	close(rig.extractor.release)
}

func TestManifest(t *testing.T) {
	tests := []struct {
		reported, listed, want []string
	}{
		{[]string{"b.mp4", "a.mp4"}, []string{"a.mp4", "b.mp4", "c.jpg"}, []string{"b.mp4", "a.mp4"}},
		{[]string{"gone.webm"}, []string{"merged.mp4"}, []string{"merged.mp4"}},
		{nil, []string{"x.m4a"}, []string{"x.m4a"}},
		{[]string{"x"}, nil, nil},
	}
	for _, tt := range tests {
		got := manifest(tt.reported, tt.listed)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("manifest(%v, %v) = %v, want %v", tt.reported, tt.listed, got, tt.want)
		}
	}
}
