package download

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/sharezip/internal/remote"
)

// Job represents a single file to fetch.
type Job struct {
	RemotePath   string
	DestPath     string
	ExpectedSize int64
}

// Result represents the result of a fetch job.
type Result struct {
	Job     Job
	Success bool
	Error   error
	Fetch   *FetchResult
}

// Observer receives per-file events from a running batch. Implementations
// must be safe for concurrent use.
type Observer interface {
	FileCompleted(path string, size int64)
	FileFailed(path string, err error)
	FileRetried(path string, err error)
	BytesWritten(n int64)
}

// Pool runs fetch jobs with a fixed concurrency bound.
type Pool struct {
	client  *Client
	workers int
	logger  *slog.Logger
}

// NewPool creates a new pool that runs at most workers fetches at once.
func NewPool(client *Client, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		client:  client,
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Execute fetches every job from share and waits for the batch to finish.
// Results keep the order of jobs. The first failure cancels the remaining
// work and is returned; jobs that never ran carry the cancellation error.
// obs may be nil.
func (p *Pool) Execute(ctx context.Context, share remote.Share, jobs []Job, obs Observer) ([]Result, error) {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, job := range jobs {
		results[i].Job = job
		if gctx.Err() != nil {
			results[i].Error = gctx.Err()
			continue
		}
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Error = err
				return err
			}

			opts := FetchOptions{
				RemotePath:   job.RemotePath,
				DestPath:     job.DestPath,
				ExpectedSize: job.ExpectedSize,
			}
			if obs != nil {
				var last int64
				opts.OnProgress = func(done, _ int64) {
					obs.BytesWritten(done - last)
					last = done
				}
				opts.OnRetry = func(err error) {
					last = 0
					obs.FileRetried(job.RemotePath, err)
				}
			}

			res, err := p.client.Fetch(gctx, share, opts)
			results[i].Fetch = res
			if err != nil {
				results[i].Error = err
				if !errors.Is(err, context.Canceled) {
					p.logger.Error("fetch job failed", "path", job.RemotePath, "error", err)
					if obs != nil {
						obs.FileFailed(job.RemotePath, err)
					}
				}
				return err
			}

			results[i].Success = true
			p.logger.Debug("fetch job completed", "path", job.RemotePath, "size", res.Size, "attempts", res.Attempts)
			if obs != nil {
				obs.FileCompleted(job.RemotePath, res.Size)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return results, err
}
