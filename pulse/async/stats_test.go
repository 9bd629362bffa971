package async

import (
	"errors"
	"testing"
	"time"
)

type fixedUsage struct {
	bytes int64
	err   error
}

func (f fixedUsage) DiskUsage() (int64, error) { return f.bytes, f.err }

func TestStatsSnapshotReflectsRegistry(t *testing.T) {
	t.Log("🎮 TAS Bot checks the scoreboard between runs...")

	r := NewRegistry()
	a := NewAdmissionController(r, nil, 5, nil, createTestLogger())
	stats := NewStatsAggregator(r, fixedUsage{bytes: 2048}, a, nil, "", createTestLogger())

	empty := stats.Snapshot(false)
	if empty.Total != 0 || empty.ActiveCount != 0 || empty.ByStatus[JobStatusQueued] != 0 {
		t.Errorf("empty snapshot = %+v", empty)
	}

	for i := 0; i < 3; i++ {
		if _, err := a.Admit(DownloadRequest{URL: "https://example.com/v"}); err != nil {
			t.Fatal(err)
		}
	}
	claimed := r.claimNext()
	if _, err := r.Update(claimed.ID, func(j *Job) error { return j.fail("nope", time.Now()) }); err != nil {
		t.Fatal(err)
	}

	snap := stats.Snapshot(false)
	if snap.Total != 3 || snap.ActiveCount != 2 {
		t.Errorf("total=%d active=%d, want 3/2", snap.Total, snap.ActiveCount)
	}
	if snap.ByStatus[JobStatusFailed] != 1 || snap.ByStatus[JobStatusQueued] != 2 {
		t.Errorf("by status = %v", snap.ByStatus)
	}
	if snap.DiskUsageBytes != 2048 || snap.MaxConcurrent != 5 {
		t.Errorf("disk=%d max=%d", snap.DiskUsageBytes, snap.MaxConcurrent)
	}
	if snap.System != nil {
		t.Error("system block should be omitted unless requested")
	}

	t.Log("✓ TAS Bot: scoreboard is live")
}

func TestStatsSurvivesDiskError(t *testing.T) {
	r := NewRegistry()
	stats := NewStatsAggregator(r, fixedUsage{err: errors.New("permission denied")}, nil, nil, "", createTestLogger())

	snap := stats.Snapshot(false)
	if snap.DiskUsageBytes != 0 {
		t.Errorf("disk usage on error = %d", snap.DiskUsageBytes)
	}
}

func TestStatsSystemBlock(t *testing.T) {
	rig := newTestRig(t, 2, 3, 0)
	stats := NewStatsAggregator(rig.registry, nil, rig.admission, rig.pool, rig.store.root, createTestLogger())

	snap := stats.Snapshot(true)
	if snap.System == nil {
		t.Fatal("system block requested but missing")
	}
	if snap.System.WorkersTotal != 2 {
		t.Errorf("workers total = %d", snap.System.WorkersTotal)
	}
}
