package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/vidget/files"
	"github.com/teranos/vidget/pulse/async"
)

const testWait = 5 * time.Second

// fakeExtractor blocks every download until the test sends on release or
// the job is cancelled. Released downloads write clip.mp4.
type fakeExtractor struct {
	release chan struct{}

	mu       sync.Mutex
	metaErr  error
	stubborn bool // ignore cancellation until released
}

func (f *fakeExtractor) setMetaErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaErr = err
}

func (f *fakeExtractor) setStubborn(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubborn = v
}

func (f *fakeExtractor) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metaErr
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{release: make(chan struct{})}
}

func (f *fakeExtractor) FetchMetadata(ctx context.Context, url string) (*async.Metadata, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return &async.Metadata{Title: "Poyo", Duration: 42, Uploader: "kirby", Formats: 2}, nil
}

func (f *fakeExtractor) ListFormats(ctx context.Context, url string) ([]async.Format, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return []async.Format{
		{FormatID: "18", Ext: "mp4", Resolution: "640x360", VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "140", Ext: "m4a", Resolution: "audio only", VCodec: "none", ACodec: "mp4a"},
	}, nil
}

func (f *fakeExtractor) Execute(ctx context.Context, req async.ExecuteRequest, progress async.ProgressReporter) ([]string, error) {
	progress.Report(async.Progress{Percent: 10, Stage: "downloading"})
	f.mu.Lock()
	stubborn := f.stubborn
	f.mu.Unlock()

	done := ctx.Done()
	if stubborn {
		done = nil
	}
	select {
	case <-done:
		return nil, ctx.Err()
	case <-f.release:
	}
	name := "clip.mp4"
	if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte("poyo"), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

type testEnv struct {
	t         *testing.T
	srv       *Server
	ts        *httptest.Server
	registry  *async.Registry
	admission *async.AdmissionController
	files     *files.Manager
	extractor *fakeExtractor
}

// newTestEnv builds a server over a real registry and pool. tune may
// adjust the server options before the server is created.
func newTestEnv(t *testing.T, maxConcurrent int, tune ...func(*Options)) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()

	registry := async.NewRegistry()
	canceller := async.NewCanceller(registry, log)
	fm, err := files.NewManager(t.TempDir(), log)
	require.NoError(t, err)

	ext := newFakeExtractor()
	pool := async.NewWorkerPool(context.Background(), registry, canceller, ext, fm, async.WorkerPoolConfig{
		Workers:      maxConcurrent,
		PollInterval: 20 * time.Millisecond,
		StopTimeout:  testWait,
	}, log)
	admission := async.NewAdmissionController(registry, pool, maxConcurrent, nil, log)
	stats := async.NewStatsAggregator(registry, fm, admission, pool, fm.Root(), log)

	opts := Options{
		AllowedOrigins:  []string{"http://localhost"},
		MaxRequestBytes: 4096,
		MetadataTimeout: testWait,
		DeleteWait:      2 * time.Second,
	}
	for _, fn := range tune {
		fn(&opts)
	}

	srv := New(Deps{
		Registry:  registry,
		Admission: admission,
		Canceller: canceller,
		Files:     fm,
		Stats:     stats,
		Extractor: ext,
	}, opts, log)

	pool.Start()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), testWait)
		defer cancel()
		_ = srv.Stop(ctx)
		pool.Stop()
	})

	return &testEnv{t: t, srv: srv, ts: ts, registry: registry, admission: admission, files: fm, extractor: ext}
}

// do sends a request and decodes a JSON response body into a map
func (e *testEnv) do(method, path string, body interface{}) (int, map[string]interface{}) {
	e.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(e.t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

// submit admits a download and returns its id
func (e *testEnv) submit(url string) string {
	e.t.Helper()
	code, body := e.do(http.MethodPost, "/download", map[string]interface{}{"url": url})
	require.Equal(e.t, http.StatusAccepted, code, "body: %v", body)
	return body["download_id"].(string)
}

// releaseOne lets one blocked download finish
func (e *testEnv) releaseOne() {
	e.t.Helper()
	select {
	case e.extractor.release <- struct{}{}:
	case <-time.After(testWait):
		e.t.Fatal("no download was waiting to be released")
	}
}

func (e *testEnv) waitStatus(id string, want async.JobStatus) *async.Job {
	e.t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		job, err := e.registry.Get(id)
		require.NoError(e.t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := e.registry.Get(id)
	e.t.Fatalf("job %s never reached %s, last seen %s", id, want, job.Status)
	return nil
}
