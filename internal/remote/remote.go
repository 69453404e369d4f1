// Package remote abstracts the file share a folder is materialized from.
//
// A Connector is process-wide and owns the SDK client. Each request opens its
// own Share handle from it and closes that handle when done.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when a directory or file does not exist.
var ErrNotFound = errors.New("remote: not found")

// Entry is an immediate child of a remote directory.
type Entry struct {
	Name  string
	IsDir bool
	Size  uint64
}

// Share is a per-request view of the remote file share. Paths use forward
// slashes and are relative to the share root.
type Share interface {
	// ListChildren returns the immediate children of dir. It returns an
	// error wrapping ErrNotFound when dir does not exist.
	ListChildren(ctx context.Context, dir string) ([]Entry, error)
	// Open streams the content of a file.
	Open(ctx context.Context, file string) (io.ReadCloser, error)
	// FileExists reports whether p names a plain file. Directories and
	// missing paths both report false.
	FileExists(ctx context.Context, p string) (bool, error)
	Close() error
}

// Connector hands out Share handles.
type Connector interface {
	Name() string
	Connect(ctx context.Context) (Share, error)
	Close() error
}

// TransientError marks a failure that may succeed on retry (timeouts,
// throttling, 5xx responses, dropped connections).
type TransientError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Path: path, Err: err}
}

// IsTransient reports whether err is worth retrying. Context cancellation
// is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotFound wraps ErrNotFound with the path that was missing.
func NotFound(p string) error {
	return fmt.Errorf("%s: %w", p, ErrNotFound)
}

// Join appends name to dir. An empty dir is the share root.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// Split returns the parent directory and base name of p.
func Split(p string) (dir, name string) {
	p = strings.Trim(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
