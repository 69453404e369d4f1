package engine

import (
	"sync"
	"time"
)

// Phase is a state of the folder materialization state machine.
type Phase string

const (
	PhaseValidating   Phase = "validating"
	PhaseListing      Phase = "listing"
	PhaseSizeChecking Phase = "size_checking"
	PhaseDownloading  Phase = "downloading"
	PhaseArchiving    Phase = "archiving"
	PhaseResponding   Phase = "responding"
	PhaseFailed       Phase = "failed"
)

// fileFailedMessage is the only failure text a FileEvent carries. The cause
// is logged by the download pool.
const fileFailedMessage = "download failed"

// FileEvent records a completed or failed file for the recent activity log.
type FileEvent struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "completed", "failed"
	Error  string `json:"error,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Progress is a snapshot of one request, safe for JSON serialization.
type Progress struct {
	RequestID       string      `json:"request_id"`
	Path            string      `json:"path"`
	Phase           Phase       `json:"phase"`
	TotalFiles      int         `json:"total_files"`
	CompletedFiles  int         `json:"completed_files"`
	FailedFiles     int         `json:"failed_files"`
	TotalBytes      uint64      `json:"total_bytes"`
	BytesDownloaded int64       `json:"bytes_downloaded"`
	Percent         float64     `json:"percent"`
	TotalRetries    int         `json:"total_retries"`
	RecentEvents    []FileEvent `json:"recent_events,omitempty"`
	StartTime       time.Time   `json:"start_time"`
	Elapsed         string      `json:"elapsed"`
	Message         string      `json:"message,omitempty"`
}

// Tracker accumulates progress for one request. Download workers report
// into it concurrently; it satisfies download.Observer.
type Tracker struct {
	mu sync.Mutex

	requestID       string
	path            string
	phase           Phase
	totalFiles      int
	completedFiles  int
	failedFiles     int
	totalBytes      uint64
	bytesDownloaded int64
	totalRetries    int
	startTime       time.Time
	message         string

	// Rolling log of recent completed/failed files (capped at 20)
	recentEvents []FileEvent
}

// NewTracker creates a tracker for a request.
func NewTracker(requestID, path string) *Tracker {
	return &Tracker{
		requestID: requestID,
		path:      path,
		phase:     PhaseValidating,
		startTime: time.Now(),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalFiles > 0 {
		pct = float64(t.completedFiles+t.failedFiles) / float64(t.totalFiles) * 100
	}

	recentEvents := make([]FileEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	return Progress{
		RequestID:       t.requestID,
		Path:            t.path,
		Phase:           t.phase,
		TotalFiles:      t.totalFiles,
		CompletedFiles:  t.completedFiles,
		FailedFiles:     t.failedFiles,
		TotalBytes:      t.totalBytes,
		BytesDownloaded: t.bytesDownloaded,
		Percent:         pct,
		TotalRetries:    t.totalRetries,
		RecentEvents:    recentEvents,
		StartTime:       t.startTime,
		Elapsed:         time.Since(t.startTime).Truncate(time.Millisecond).String(),
		Message:         t.message,
	}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// SetPhase updates the current phase.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
}

// SetTotals sets the file count and byte count once the folder is listed.
func (t *Tracker) SetTotals(totalFiles int, totalBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFiles = totalFiles
	t.totalBytes = totalBytes
}

// SetMessage sets a short status line shown with the snapshot. It is served
// to API clients, so it must never carry error text.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
}

// addRecentEvent prepends an event to the rolling log, capping at 20. Must be called with t.mu held.
func (t *Tracker) addRecentEvent(ev FileEvent) {
	t.recentEvents = append([]FileEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > 20 {
		t.recentEvents = t.recentEvents[:20]
	}
}

// FileCompleted marks a file as successfully downloaded.
func (t *Tracker) FileCompleted(path string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completedFiles++
	t.addRecentEvent(FileEvent{Path: path, Status: "completed", Size: size})
}

// FileFailed marks a file as failed.
func (t *Tracker) FileFailed(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedFiles++
	t.addRecentEvent(FileEvent{Path: path, Status: "failed", Error: fileFailedMessage})
}

// FileRetried increments the retry counter.
func (t *Tracker) FileRetried(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRetries++
}

// BytesWritten adds n to the downloaded byte count.
func (t *Tracker) BytesWritten(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesDownloaded += n
}
