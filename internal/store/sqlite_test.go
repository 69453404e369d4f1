package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}
	if store.logger == nil {
		t.Error("Expected logger to be initialized")
	}
	if err := store.Ping(); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	first, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := first.CreateFolderDownload(&FolderDownload{RequestID: "r1", Path: "teamA", StartTime: time.Now()}); err != nil {
		t.Fatalf("CreateFolderDownload() failed: %v", err)
	}
	first.Close()

	second, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer second.Close()

	var version int
	if err := second.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
	if _, err := second.GetFolderDownload("r1"); err != nil {
		t.Errorf("record lost across reopen: %v", err)
	}
}

// ============================================================================
// FolderDownload Tests
// ============================================================================

func TestCreateAndUpdateFolderDownload(t *testing.T) {
	s := newTestStore(t)
	start := time.Now().Add(-time.Minute)

	fd := &FolderDownload{
		RequestID: "req-1",
		Path:      "teamA/reports",
		StartTime: start,
	}
	if err := s.CreateFolderDownload(fd); err != nil {
		t.Fatalf("CreateFolderDownload() failed: %v", err)
	}
	if fd.ID == 0 {
		t.Fatal("expected ID to be set")
	}
	if fd.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", fd.Status, StatusRunning)
	}

	got, err := s.GetFolderDownload("req-1")
	if err != nil {
		t.Fatalf("GetFolderDownload() failed: %v", err)
	}
	if !got.EndTime.IsZero() {
		t.Errorf("EndTime = %v, want zero while running", got.EndTime)
	}
	if got.Duration() != 0 {
		t.Errorf("Duration() = %v, want 0 while running", got.Duration())
	}

	fd.Status = StatusFailed
	fd.ErrorCode = 20
	fd.ErrorMessage = "folder exceeds size limit"
	fd.FileCount = 3
	fd.TotalSize = 2 << 30
	fd.EndTime = start.Add(2 * time.Second)
	if err := s.UpdateFolderDownload(fd); err != nil {
		t.Fatalf("UpdateFolderDownload() failed: %v", err)
	}

	got, err = s.GetFolderDownload("req-1")
	if err != nil {
		t.Fatalf("GetFolderDownload() failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != 20 {
		t.Errorf("got status %q code %d", got.Status, got.ErrorCode)
	}
	if got.FileCount != 3 || got.TotalSize != 2<<30 {
		t.Errorf("got files %d size %d", got.FileCount, got.TotalSize)
	}
	if d := got.Duration(); d < time.Second || d > 3*time.Second {
		t.Errorf("Duration() = %v, want about 2s", d)
	}
}

func TestUpdateFolderDownloadNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateFolderDownload(&FolderDownload{ID: 999, Status: StatusSuccess}); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestGetFolderDownloadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFolderDownload("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFolderDownload() error = %v, want ErrNotFound", err)
	}
}

func TestCreateFolderDownloadDuplicateRequestID(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.CreateFolderDownload(&FolderDownload{RequestID: "dup", Path: "a", StartTime: now}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := s.CreateFolderDownload(&FolderDownload{RequestID: "dup", Path: "b", StartTime: now}); err == nil {
		t.Error("expected unique constraint error")
	}
}

func seedDownloads(t *testing.T, s *Store) time.Time {
	t.Helper()
	base := time.Now().Add(-10 * time.Hour)
	statuses := []string{StatusSuccess, StatusFailed, StatusSuccess, StatusRunning, StatusSuccess}
	for i, st := range statuses {
		fd := &FolderDownload{
			RequestID: "req-" + string(rune('a'+i)),
			Path:      "teamA",
			Status:    st,
			StartTime: base.Add(time.Duration(i) * time.Hour),
		}
		if st != StatusRunning {
			fd.EndTime = fd.StartTime.Add(time.Minute)
		}
		if err := s.CreateFolderDownload(fd); err != nil {
			t.Fatalf("seed %d failed: %v", i, err)
		}
	}
	return base
}

func TestListFolderDownloads(t *testing.T) {
	s := newTestStore(t)
	seedDownloads(t, s)

	tests := []struct {
		name      string
		status    string
		limit     int
		wantCount int
		wantFirst string
	}{
		{"all", "", 0, 5, "req-e"},
		{"limited", "", 2, 2, "req-e"},
		{"success only", StatusSuccess, 0, 3, "req-e"},
		{"failed only", StatusFailed, 10, 1, "req-b"},
		{"no match", "unknown", 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListFolderDownloads(tt.status, tt.limit)
			if err != nil {
				t.Fatalf("ListFolderDownloads() failed: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("got %d records, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].RequestID != tt.wantFirst {
				t.Errorf("first = %q, want %q (newest first)", got[0].RequestID, tt.wantFirst)
			}
		})
	}
}

func TestPruneFolderDownloads(t *testing.T) {
	s := newTestStore(t)
	base := seedDownloads(t, s)

	// Cut after the first four; the running one survives.
	n, err := s.PruneFolderDownloads(base.Add(3*time.Hour + 30*time.Minute))
	if err != nil {
		t.Fatalf("PruneFolderDownloads() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned %d, want 3", n)
	}

	left, err := s.ListFolderDownloads("", 0)
	if err != nil {
		t.Fatalf("ListFolderDownloads() failed: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("%d records left, want 2", len(left))
	}
}

func TestMarkInterrupted(t *testing.T) {
	s := newTestStore(t)
	seedDownloads(t, s)

	n, err := s.MarkInterrupted(time.Now())
	if err != nil {
		t.Fatalf("MarkInterrupted() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d, want 1", n)
	}

	fd, err := s.GetFolderDownload("req-d")
	if err != nil {
		t.Fatalf("GetFolderDownload() failed: %v", err)
	}
	if fd.Status != StatusFailed || fd.EndTime.IsZero() {
		t.Errorf("got status %q end %v", fd.Status, fd.EndTime)
	}
}
