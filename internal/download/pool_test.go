package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewPool creates pool with given workers
func TestNewPool(t *testing.T) {
	logger := discardLogger()
	client := newTestClient(logger)

	pool := NewPool(client, 5, logger)

	if pool == nil {
		t.Fatal("expected pool to be non-nil")
	}
	if pool.client != client {
		t.Fatal("expected pool client to match")
	}
	if pool.Workers() != 5 {
		t.Errorf("expected 5 workers, got %d", pool.Workers())
	}
	if pool.logger != logger {
		t.Fatal("expected pool logger to match")
	}
}

// TestNewPoolDefaultWorkers verifies non-positive worker counts fall back to 1
func TestNewPoolDefaultWorkers(t *testing.T) {
	for _, workers := range []int{0, -3} {
		pool := NewPool(newTestClient(discardLogger()), workers, nil)
		if pool.Workers() != 1 {
			t.Errorf("NewPool(%d) workers = %d, want 1", workers, pool.Workers())
		}
	}
}

func makeJobs(t *testing.T, n int) ([]Job, map[string]string) {
	t.Helper()
	tmpDir := t.TempDir()
	files := make(map[string]string, n)
	jobs := make([]Job, n)
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("teamA/file%02d.bin", i)
		files[p] = fmt.Sprintf("content %d", i)
		jobs[i] = Job{
			RemotePath:   p,
			DestPath:     filepath.Join(tmpDir, fmt.Sprintf("file%02d.bin", i)),
			ExpectedSize: int64(len(files[p])),
		}
	}
	return jobs, files
}

// TestPoolExecute verifies every job is fetched and results keep job order
func TestPoolExecute(t *testing.T) {
	jobs, files := makeJobs(t, 12)
	share := newFakeShare(files)
	pool := NewPool(newTestClient(discardLogger()), 3, discardLogger())

	results, err := pool.Execute(context.Background(), share, jobs, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if r.Job.RemotePath != jobs[i].RemotePath {
			t.Errorf("result %d is for %s, want %s", i, r.Job.RemotePath, jobs[i].RemotePath)
		}
		if !r.Success || r.Error != nil {
			t.Errorf("result %d failed: %v", i, r.Error)
			continue
		}
		if got := readFile(t, r.Job.DestPath); got != files[r.Job.RemotePath] {
			t.Errorf("content of %s = %q", r.Job.DestPath, got)
		}
	}
}

// TestPoolConcurrencyBound checks that in-flight fetches never exceed the
// worker count and that the pool actually runs in parallel.
func TestPoolConcurrencyBound(t *testing.T) {
	jobs, files := makeJobs(t, 20)
	share := newFakeShare(files)
	share.delay = 20 * time.Millisecond
	pool := NewPool(newTestClient(discardLogger()), 4, discardLogger())

	if _, err := pool.Execute(context.Background(), share, jobs, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	peak := share.peak.Load()
	if peak > 4 {
		t.Errorf("peak in-flight fetches = %d, want <= 4", peak)
	}
	if peak < 2 {
		t.Errorf("peak in-flight fetches = %d, want >= 2", peak)
	}
	if share.inFlight.Load() != 0 {
		t.Errorf("streams left open: %d", share.inFlight.Load())
	}
}

// TestPoolSingleWorker verifies a pool of one never overlaps fetches
func TestPoolSingleWorker(t *testing.T) {
	jobs, files := makeJobs(t, 5)
	share := newFakeShare(files)
	share.delay = 5 * time.Millisecond
	pool := NewPool(newTestClient(discardLogger()), 1, discardLogger())

	if _, err := pool.Execute(context.Background(), share, jobs, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if peak := share.peak.Load(); peak != 1 {
		t.Errorf("peak in-flight fetches = %d, want 1", peak)
	}
}

// TestPoolFailFast verifies a terminal failure cancels the batch
func TestPoolFailFast(t *testing.T) {
	jobs, files := makeJobs(t, 30)
	share := newFakeShare(files)
	share.delay = 10 * time.Millisecond
	boom := errors.New("permission denied")
	share.terminal[jobs[0].RemotePath] = boom
	pool := NewPool(newTestClient(discardLogger()), 2, discardLogger())

	results, err := pool.Execute(context.Background(), share, jobs, nil)
	if err == nil {
		t.Fatal("expected batch error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected first failure to be returned, got %v", err)
	}
	if results[0].Success || results[0].Error == nil {
		t.Error("expected first job to fail")
	}
	if got := share.opens.Load(); got >= int64(len(jobs)) {
		t.Errorf("expected remaining jobs to be skipped, got %d opens", got)
	}
	for _, r := range results {
		if r.Success {
			continue
		}
		if r.Error == nil {
			t.Errorf("job %s neither succeeded nor carries an error", r.Job.RemotePath)
		}
	}
}

// TestPoolContextCancellation verifies an outer cancel stops the batch
func TestPoolContextCancellation(t *testing.T) {
	jobs, files := makeJobs(t, 10)
	share := newFakeShare(files)
	share.delay = time.Second
	pool := NewPool(newTestClient(discardLogger()), 2, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := pool.Execute(ctx, share, jobs, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Execute did not stop promptly")
	}
}

// TestPoolEmptyJobs verifies an empty batch is a no-op
func TestPoolEmptyJobs(t *testing.T) {
	pool := NewPool(newTestClient(discardLogger()), 2, discardLogger())
	results, err := pool.Execute(context.Background(), newFakeShare(nil), nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	retried   int
	bytes     atomic.Int64
}

func (o *recordingObserver) FileCompleted(path string, size int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, path)
}

func (o *recordingObserver) FileFailed(path string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, path)
}

func (o *recordingObserver) FileRetried(path string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried++
}

func (o *recordingObserver) BytesWritten(n int64) { o.bytes.Add(n) }

// TestPoolObserver verifies events reach the observer
func TestPoolObserver(t *testing.T) {
	jobs, files := makeJobs(t, 4)
	share := newFakeShare(files)
	share.openFailures[jobs[1].RemotePath] = 2
	pool := NewPool(newTestClient(discardLogger()), 2, discardLogger())
	obs := &recordingObserver{}

	if _, err := pool.Execute(context.Background(), share, jobs, obs); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var want int64
	for _, c := range files {
		want += int64(len(c))
	}
	if len(obs.completed) != 4 {
		t.Errorf("completed = %d, want 4", len(obs.completed))
	}
	if obs.retried != 2 {
		t.Errorf("retried = %d, want 2", obs.retried)
	}
	if got := obs.bytes.Load(); got != want {
		t.Errorf("bytes = %d, want %d", got, want)
	}
	if len(obs.failed) != 0 {
		t.Errorf("failed = %v, want none", obs.failed)
	}
}
