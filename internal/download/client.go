package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/sharezip/internal/remote"
)

// ProgressFunc is called as bytes land on disk. bytesDownloaded is the
// running count for the current attempt, totalBytes the listed size (or 0).
type ProgressFunc func(bytesDownloaded, totalBytes int64)

// FetchOptions describes one file to copy from the share to local disk.
type FetchOptions struct {
	RemotePath   string
	DestPath     string
	ExpectedSize int64 // from the listing; 0 when unknown
	OnProgress   ProgressFunc
	// OnRetry is called before each retry with the failure that caused it.
	OnRetry func(err error)
}

// FetchResult describes a completed fetch.
type FetchResult struct {
	Path          string
	Size          int64
	Attempts      int
	ConnectErrors int
	ReadErrors    int
	Duration      time.Duration
}

// Client copies files from a remote share with bounded retries.
//
// Connect failures (opening the stream) and read failures (while copying)
// have separate budgets. Only transient errors are retried.
type Client struct {
	logger       *slog.Logger
	retryConnect int
	retryRead    int
	backoffFunc  func(attempt int) time.Duration
}

// NewClient creates a new client. Negative retry counts are treated as 0.
func NewClient(logger *slog.Logger, retryConnect, retryRead int) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:       logger,
		retryConnect: max(retryConnect, 0),
		retryRead:    max(retryRead, 0),
		backoffFunc:  calculateBackoffDelay,
	}
}

// phase tells which retry budget a failed attempt counts against.
type phase int

const (
	phaseConnect phase = iota
	phaseRead
	phaseLocal
)

type attemptError struct {
	phase phase
	err   error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// Fetch copies opts.RemotePath from share into opts.DestPath. A failed
// fetch removes its partial file.
func (c *Client) Fetch(ctx context.Context, share remote.Share, opts FetchOptions) (*FetchResult, error) {
	startTime := time.Now()
	connectErrors, readErrors := 0, 0

	if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			_ = os.Remove(opts.DestPath)
			return nil, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		default:
		}

		size, err := c.fetchAttempt(ctx, share, opts)
		if err == nil {
			if opts.ExpectedSize > 0 && size != opts.ExpectedSize {
				c.logger.Warn("size differs from listing, accepting file",
					"path", opts.RemotePath, "got_size", size, "listed_size", opts.ExpectedSize)
			}
			return &FetchResult{
				Path:          opts.DestPath,
				Size:          size,
				Attempts:      attempt,
				ConnectErrors: connectErrors,
				ReadErrors:    readErrors,
				Duration:      time.Since(startTime),
			}, nil
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = os.Remove(opts.DestPath)
			return nil, fmt.Errorf("fetch cancelled: %w", err)
		}

		var ae *attemptError
		if !errors.As(err, &ae) || ae.phase == phaseLocal || !remote.IsTransient(err) {
			_ = os.Remove(opts.DestPath)
			return nil, fmt.Errorf("fetching %s: %w", opts.RemotePath, err)
		}

		exhausted := false
		switch ae.phase {
		case phaseConnect:
			connectErrors++
			exhausted = connectErrors > c.retryConnect
		case phaseRead:
			readErrors++
			exhausted = readErrors > c.retryRead
		}
		c.logger.Warn("fetch attempt failed", "path", opts.RemotePath, "attempt", attempt,
			"connect_errors", connectErrors, "read_errors", readErrors, "error", err)
		if exhausted {
			_ = os.Remove(opts.DestPath)
			return nil, fmt.Errorf("fetching %s failed after %d attempts (%d connect, %d read errors): %w",
				opts.RemotePath, attempt, connectErrors, readErrors, err)
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err)
		}

		// Wait before retrying with exponential backoff + jitter
		delay := c.backoffFunc(connectErrors + readErrors)
		c.logger.Debug("retrying fetch", "path", opts.RemotePath, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			_ = os.Remove(opts.DestPath)
			return nil, fmt.Errorf("fetch cancelled during retry: %w", ctx.Err())
		}
	}
}

// fetchAttempt performs a single open-and-copy, truncating any earlier
// partial content.
func (c *Client) fetchAttempt(ctx context.Context, share remote.Share, opts FetchOptions) (int64, error) {
	rc, err := share.Open(ctx, opts.RemotePath)
	if err != nil {
		return 0, &attemptError{phase: phaseConnect, err: err}
	}
	defer rc.Close()

	file, err := os.OpenFile(opts.DestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, &attemptError{phase: phaseLocal, err: fmt.Errorf("failed to open file: %w", err)}
	}

	src := &trackingReader{reader: rc}
	var reader io.Reader = src
	if opts.OnProgress != nil {
		reader = &progressReader{reader: src, callback: opts.OnProgress, total: opts.ExpectedSize}
	}

	n, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if copyErr != nil {
		if src.err != nil {
			return n, &attemptError{phase: phaseRead, err: copyErr}
		}
		return n, &attemptError{phase: phaseLocal, err: fmt.Errorf("failed to write to file: %w", copyErr)}
	}
	if closeErr != nil {
		return n, &attemptError{phase: phaseLocal, err: fmt.Errorf("failed to close file: %w", closeErr)}
	}
	return n, nil
}

const maxBackoffDelay = 30 * time.Second

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt up to 30s, plus random jitter up to
// half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	if exponentialDelay > maxBackoffDelay {
		exponentialDelay = maxBackoffDelay
	}
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// trackingReader remembers the last non-EOF error from the remote stream so
// read failures can be told apart from local write failures.
type trackingReader struct {
	reader io.Reader
	err    error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// progressReader wraps a reader and calls a progress callback as data is read.
type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		if pr.callback != nil {
			pr.callback(pr.current, pr.total)
		}
	}
	return n, err
}
