package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no folder download matches a lookup.
var ErrNotFound = errors.New("folder download not found")

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// ============================================================================
// FolderDownload Operations
// ============================================================================

const folderDownloadColumns = `
	id, request_id, path, status, error_code, error_message,
	file_count, total_size, archive_size, start_time, end_time
`

// Times are stored in UTC so text comparison orders them correctly.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolderDownload(row rowScanner) (*FolderDownload, error) {
	fd := &FolderDownload{}
	var endTime sql.NullTime
	err := row.Scan(
		&fd.ID, &fd.RequestID, &fd.Path, &fd.Status, &fd.ErrorCode, &fd.ErrorMessage,
		&fd.FileCount, &fd.TotalSize, &fd.ArchiveSize, &fd.StartTime, &endTime,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		fd.EndTime = endTime.Time
	}
	return fd, nil
}

// CreateFolderDownload inserts a new FolderDownload and sets its ID
func (s *Store) CreateFolderDownload(fd *FolderDownload) error {
	const query = `
		INSERT INTO folder_downloads (
			request_id, path, status, error_code, error_message,
			file_count, total_size, archive_size, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if fd.Status == "" {
		fd.Status = StatusRunning
	}
	result, err := s.db.Exec(
		query,
		fd.RequestID, fd.Path, fd.Status, fd.ErrorCode, fd.ErrorMessage,
		fd.FileCount, fd.TotalSize, fd.ArchiveSize, fd.StartTime.UTC(), nullTime(fd.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert folder download: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	fd.ID = id
	return nil
}

// UpdateFolderDownload updates an existing FolderDownload by ID
func (s *Store) UpdateFolderDownload(fd *FolderDownload) error {
	const query = `
		UPDATE folder_downloads SET
			status = ?, error_code = ?, error_message = ?, file_count = ?,
			total_size = ?, archive_size = ?, end_time = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		fd.Status, fd.ErrorCode, fd.ErrorMessage, fd.FileCount,
		fd.TotalSize, fd.ArchiveSize, nullTime(fd.EndTime), fd.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update folder download: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("folder download not found: %d", fd.ID)
	}

	return nil
}

// GetFolderDownload retrieves a FolderDownload by request ID
func (s *Store) GetFolderDownload(requestID string) (*FolderDownload, error) {
	query := `SELECT ` + folderDownloadColumns + ` FROM folder_downloads WHERE request_id = ?`

	fd, err := scanFolderDownload(s.db.QueryRow(query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("failed to query folder download: %w", err)
	}
	return fd, nil
}

// ListFolderDownloads returns recent downloads, newest first, optionally
// filtered by status. A non-positive limit returns everything.
func (s *Store) ListFolderDownloads(status string, limit int) ([]FolderDownload, error) {
	query := `SELECT ` + folderDownloadColumns + ` FROM folder_downloads`
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query folder downloads: %w", err)
	}
	defer rows.Close()

	downloads := []FolderDownload{}
	for rows.Next() {
		fd, err := scanFolderDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder download: %w", err)
		}
		downloads = append(downloads, *fd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folder downloads: %w", err)
	}

	return downloads, nil
}

// PruneFolderDownloads deletes finished records that started before cutoff
// and returns how many were removed.
func (s *Store) PruneFolderDownloads(cutoff time.Time) (int64, error) {
	const query = `DELETE FROM folder_downloads WHERE start_time < ? AND status != ?`

	result, err := s.db.Exec(query, cutoff.UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to prune folder downloads: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// MarkInterrupted fails any record still marked running. Called at startup,
// since a running record from an earlier process can never finish.
func (s *Store) MarkInterrupted(now time.Time) (int64, error) {
	const query = `
		UPDATE folder_downloads SET status = ?, error_message = ?, end_time = ?
		WHERE status = ?
	`

	result, err := s.db.Exec(query, StatusFailed, "interrupted by restart", now.UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted downloads: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
