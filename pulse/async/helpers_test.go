package async

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// TAS Bot (Tool-Assisted Speedrun) & Kirby Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who admits and cancels downloads
//   - Kirby: The worker who inhales URLs and spits out media files ('Poyo!')
//   - Cronos: Greek god of time, appears for timeout and shutdown tests
//
// The fake extractor below blocks each download until the test releases it
// or the job context is cancelled.
// ============================================================================

const testWait = 5 * time.Second

// createTestLogger creates a no-op logger for testing
func createTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

type fakeExtractor struct {
	started chan ExecuteRequest
	release chan struct{}

	mu        sync.Mutex
	reporters map[string]ProgressReporter
	execute   func(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error)
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		started:   make(chan ExecuteRequest, 64),
		release:   make(chan struct{}),
		reporters: make(map[string]ProgressReporter),
	}
}

func (f *fakeExtractor) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	return &Metadata{Title: "fake"}, nil
}

func (f *fakeExtractor) ListFormats(ctx context.Context, url string) ([]Format, error) {
	return []Format{{FormatID: "18", Ext: "mp4"}}, nil
}

func (f *fakeExtractor) Execute(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error) {
	f.mu.Lock()
	f.reporters[req.JobID] = progress
	fn := f.execute
	f.mu.Unlock()

	f.started <- req
	if fn != nil {
		return fn(ctx, req, progress)
	}

	progress.Report(Progress{Percent: 42, Stage: "downloading"})
	partial := filepath.Join(req.OutputDir, "clip.mp4.part")
	if err := os.WriteFile(partial, []byte("partial"), 0o644); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.release:
	}

	if err := os.Remove(partial); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, "clip.mp4"), []byte("media"), 0o644); err != nil {
		return nil, err
	}
	return []string{"clip.mp4"}, nil
}

func (f *fakeExtractor) setExecute(fn func(ctx context.Context, req ExecuteRequest, progress ProgressReporter) ([]string, error)) {
	f.mu.Lock()
	f.execute = fn
	f.mu.Unlock()
}

func (f *fakeExtractor) reporter(jobID string) ProgressReporter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reporters[jobID]
}

// waitStarted returns the next request that reached the extractor
func (f *fakeExtractor) waitStarted(t *testing.T) ExecuteRequest {
	t.Helper()
	select {
	case req := <-f.started:
		return req
	case <-time.After(testWait):
		t.Fatal("no download reached the extractor")
		return ExecuteRequest{}
	}
}

// dirStore keeps job output under a temp dir, one directory per job
type dirStore struct {
	root string
}

func (s *dirStore) dir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *dirStore) Prepare(jobID string) (string, error) {
	dir := s.dir(jobID)
	return dir, os.MkdirAll(dir, 0o755)
}

func (s *dirStore) ListFiles(jobID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(jobID))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) != ".part" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *dirStore) Purge(jobID string) error {
	return os.RemoveAll(s.dir(jobID))
}

func (s *dirStore) exists(jobID string) bool {
	_, err := os.Stat(s.dir(jobID))
	return err == nil
}

type testRig struct {
	registry  *Registry
	canceller *Canceller
	pool      *WorkerPool
	admission *AdmissionController
	extractor *fakeExtractor
	store     *dirStore
}

// newTestRig wires a started pool with fast polling. The pool is stopped
// when the test ends.
func newTestRig(t *testing.T, workers, maxConcurrent int, jobTimeout time.Duration) *testRig {
	t.Helper()

	log := createTestLogger()
	rig := &testRig{
		registry:  NewRegistry(),
		extractor: newFakeExtractor(),
		store:     &dirStore{root: t.TempDir()},
	}
	rig.canceller = NewCanceller(rig.registry, log)
	rig.pool = NewWorkerPool(context.Background(), rig.registry, rig.canceller, rig.extractor, rig.store, WorkerPoolConfig{
		Workers:      workers,
		PollInterval: 20 * time.Millisecond,
		JobTimeout:   jobTimeout,
		StopTimeout:  2 * time.Second,
	}, log)
	rig.admission = NewAdmissionController(rig.registry, rig.pool, maxConcurrent, nil, log)

	rig.pool.Start()
	t.Cleanup(rig.pool.Stop)
	return rig
}

func (r *testRig) admit(t *testing.T, url string) string {
	t.Helper()
	id, err := r.admission.Admit(DownloadRequest{URL: url})
	if err != nil {
		t.Fatalf("Admit(%s) failed: %v", url, err)
	}
	return id
}

// waitForStatus polls until the job reaches want
func waitForStatus(t *testing.T, r *Registry, id string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		job, err := r.Get(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, err := r.Get(id)
	if err != nil {
		t.Fatalf("job %s never reached %s: %v", id, want, err)
	}
	t.Fatalf("job %s never reached %s, stuck at %s", id, want, job.Status)
	return nil
}
