package store

import "time"

// Folder download statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// FolderDownload records one folder materialization request. Only metadata
// is stored, never file content.
type FolderDownload struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Path         string    `json:"path"`
	Status       string    `json:"status"`
	ErrorCode    int       `json:"error_code"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FileCount    int       `json:"file_count"`
	TotalSize    int64     `json:"total_size"`
	ArchiveSize  int64     `json:"archive_size"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// Duration returns how long the request ran, or zero while running.
func (fd FolderDownload) Duration() time.Duration {
	if fd.EndTime.IsZero() {
		return 0
	}
	return fd.EndTime.Sub(fd.StartTime)
}
