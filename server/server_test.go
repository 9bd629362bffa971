package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/pulse/async"
	"github.com/teranos/vidget/version"
)

func TestHealthServedAtRootAndAPI(t *testing.T) {
	env := newTestEnv(t, 2)

	for _, path := range []string{"/health", "/api/health"} {
		code, body := env.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, version.Version, body["version"])
		assert.EqualValues(t, 0, body["active_downloads"])
		_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
		assert.NoError(t, err)
	}
}

func TestUnknownEndpointReturnsErrorBody(t *testing.T) {
	env := newTestEnv(t, 1)

	code, body := env.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Endpoint not found", body["error"])
	assert.EqualValues(t, http.StatusNotFound, body["status_code"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestDownloadLifecycle(t *testing.T) {
	env := newTestEnv(t, 2)

	id := env.submit("https://example.com/watch?v=poyo")

	code, body := env.do(http.MethodGet, "/api/status/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	download := body["download"].(map[string]interface{})
	assert.Equal(t, id, download["id"])
	assert.Contains(t, []interface{}{"queued", "downloading"}, download["status"])

	env.waitStatus(id, async.JobStatusDownloading)
	env.releaseOne()
	job := env.waitStatus(id, async.JobStatusCompleted)
	assert.Equal(t, []string{"clip.mp4"}, job.Files)

	resp, err := env.ts.Client().Get(env.ts.URL + "/download/" + id + "/files/clip.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="clip.mp4"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "poyo", string(data))
}

func TestDownloadValidation(t *testing.T) {
	env := newTestEnv(t, 1)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing url", map[string]interface{}{}, http.StatusBadRequest},
		{"bad scheme", map[string]interface{}{"url": "ftp://example.com/a"}, http.StatusBadRequest},
		{"malformed json", "{not json", http.StatusBadRequest},
		{"bad quality", map[string]interface{}{"url": "https://example.com/a", "quality": "best; rm -rf"}, http.StatusBadRequest},
		{"body too large", map[string]interface{}{"url": "https://example.com/" + strings.Repeat("a", 5000)}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(http.MethodPost, "/download", tt.body)
			assert.Equal(t, tt.want, code)
			assert.EqualValues(t, tt.want, body["status_code"])
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Zero(t, env.registry.Counts().Total, "rejected requests must not create jobs")
}

func TestAdmissionRejectsAtCapacity(t *testing.T) {
	env := newTestEnv(t, 1)

	first := env.submit("https://example.com/one")

	code, body := env.do(http.MethodPost, "/download", map[string]interface{}{"url": "https://example.com/two"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.EqualValues(t, http.StatusTooManyRequests, body["status_code"])
	assert.Equal(t, 1, env.registry.Counts().Total)

	env.waitStatus(first, async.JobStatusDownloading)
	env.releaseOne()
	env.waitStatus(first, async.JobStatusCompleted)

	env.submit("https://example.com/three")
}

func TestCancelDownload(t *testing.T) {
	env := newTestEnv(t, 1)

	id := env.submit("https://example.com/cancel-me")
	env.waitStatus(id, async.JobStatusDownloading)

	code, body := env.do(http.MethodPost, "/download/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	job := env.waitStatus(id, async.JobStatusCancelled)
	assert.Equal(t, async.CancelReasonRequested, job.CancelReason)
	assert.Empty(t, job.Files)

	code, _ = env.do(http.MethodPost, "/download/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(http.MethodPost, "/download/00000000-0000-0000-0000-000000000000/cancel", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteCompletedDownload(t *testing.T) {
	env := newTestEnv(t, 1)

	id := env.submit("https://example.com/keep")
	env.waitStatus(id, async.JobStatusDownloading)
	env.releaseOne()
	env.waitStatus(id, async.JobStatusCompleted)

	code, _ := env.do(http.MethodDelete, "/api/download/"+id, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(http.MethodGet, "/status/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)

	_, err := env.files.ListFiles(id)
	assert.True(t, errors.IsNotFoundError(err))

	code, _ = env.do(http.MethodDelete, "/download/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteActiveDownloadCancelsFirst(t *testing.T) {
	env := newTestEnv(t, 1)

	id := env.submit("https://example.com/active")
	env.waitStatus(id, async.JobStatusDownloading)

	code, _ := env.do(http.MethodDelete, "/download/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, env.registry.Has(id))
	assert.Zero(t, env.registry.ActiveCount())
}

func TestDeleteTimesOutWhenDownloadWillNotStop(t *testing.T) {
	env := newTestEnv(t, 1, func(o *Options) { o.DeleteWait = 100 * time.Millisecond })
	env.extractor.setStubborn(true)

	id := env.submit("https://example.com/stubborn")
	env.waitStatus(id, async.JobStatusDownloading)

	code, body := env.do(http.MethodDelete, "/download/"+id, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "did not stop")
	assert.True(t, env.registry.Has(id), "record must survive a failed delete")

	env.releaseOne()
	env.waitStatus(id, async.JobStatusCancelled)
}

func TestFileEndpointRejectsTraversal(t *testing.T) {
	env := newTestEnv(t, 1)

	id := env.submit("https://example.com/files")
	env.waitStatus(id, async.JobStatusDownloading)
	env.releaseOne()
	env.waitStatus(id, async.JobStatusCompleted)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"encoded traversal", "/download/" + id + "/files/..%2F..%2Fetc%2Fpasswd", http.StatusBadRequest},
		{"dot dot", "/download/" + id + "/files/..", http.StatusBadRequest},
		{"raw traversal", "/download/" + id + "/files/../../etc/passwd", http.StatusBadRequest},
		{"raw traversal under api", "/api/download/" + id + "/files/../../etc/passwd", http.StatusBadRequest},
		{"nested name", "/api/download/" + id + "/files/a/b.mp4", http.StatusBadRequest},
		{"empty name", "/download/" + id + "/files/", http.StatusBadRequest},
		{"unlisted file", "/download/" + id + "/files/other.mp4", http.StatusNotFound},
		{"unknown job", "/download/00000000-0000-0000-0000-000000000000/files/clip.mp4", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, env.ts.URL, nil)
			require.NoError(t, err)
			// Opaque keeps the client from cleaning dot segments
			req.URL.Opaque = tt.path
			resp, err := env.ts.Client().Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestListDownloads(t *testing.T) {
	env := newTestEnv(t, 3)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, env.submit(fmt.Sprintf("https://example.com/%d", i)))
	}

	code, body := env.do(http.MethodGet, "/downloads", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["total"])
	downloads := body["downloads"].([]interface{})
	require.Len(t, downloads, 3)
	assert.Equal(t, ids[2], downloads[0].(map[string]interface{})["id"], "newest first")

	code, body = env.do(http.MethodGet, "/downloads?limit=0", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"], "limit is clamped to at least one")

	code, body = env.do(http.MethodGet, "/downloads?status=completed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["total"])

	code, body = env.do(http.MethodGet, "/downloads?status=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "exploded")
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, 2)

	env.submit("https://example.com/stats")

	code, body := env.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, code)
	stats := body["stats"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["total"])
	assert.EqualValues(t, 1, stats["active_count"])
	assert.EqualValues(t, 2, stats["max_concurrent"])
	assert.Nil(t, stats["system"])

	code, body = env.do(http.MethodGet, "/stats?system=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["stats"].(map[string]interface{})["system"])
}

func TestInfoAndFormats(t *testing.T) {
	env := newTestEnv(t, 1)

	code, body := env.do(http.MethodPost, "/info", map[string]interface{}{"url": "https://example.com/v"})
	require.Equal(t, http.StatusOK, code)
	info := body["info"].(map[string]interface{})
	assert.Equal(t, "Poyo", info["title"])

	code, body = env.do(http.MethodPost, "/api/formats", map[string]interface{}{"url": "https://example.com/v"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["formats"], 2)

	code, _ = env.do(http.MethodPost, "/info", map[string]interface{}{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInfoMapsExtractorErrors(t *testing.T) {
	env := newTestEnv(t, 1)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported", errors.Wrap(async.ErrUnsupportedSource, "Unsupported URL"), http.StatusBadRequest},
		{"network", errors.Wrap(async.ErrNetwork, "HTTP Error 503"), http.StatusBadGateway},
		{"missing binary", errors.Wrap(errors.ErrServiceUnavailable, "yt-dlp not found"), http.StatusServiceUnavailable},
		{"extraction", errors.Wrap(async.ErrExtraction, "bad output"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.extractor.setMetaErr(tt.err)
			code, body := env.do(http.MethodPost, "/info", map[string]interface{}{"url": "https://example.com/v"})
			assert.Equal(t, tt.want, code)
			assert.EqualValues(t, tt.want, body["status_code"])
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, 1)

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/download", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = env.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, 1)
	env.srv.SetRequestsPerMinute(10) // burst of one

	code, _ := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.EqualValues(t, http.StatusTooManyRequests, body["status_code"])
}
