package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/BadgerOps/sharezip/internal/apperr"
	"github.com/BadgerOps/sharezip/internal/download"
	"github.com/BadgerOps/sharezip/internal/remote"
	"github.com/BadgerOps/sharezip/internal/safety"
	"github.com/BadgerOps/sharezip/internal/store"
)

// HistoryRecorder persists request metadata.
type HistoryRecorder interface {
	CreateFolderDownload(fd *store.FolderDownload) error
	UpdateFolderDownload(fd *store.FolderDownload) error
}

// MetricsObserver receives request-level measurements.
type MetricsObserver interface {
	RequestStarted()
	RequestFinished(outcome string, duration time.Duration, files int, bytes uint64)
	BytesDownloaded(n int64)
}

// Options configures a Materializer.
type Options struct {
	SizeLimit  uint64
	StagingDir string
	// EarlyAbort stops listing as soon as the running total exceeds
	// SizeLimit instead of walking the whole folder first.
	EarlyAbort bool
}

// Materializer turns a share folder into a ZIP archive. One Materializer
// serves all requests; each call to Materialize is independent.
type Materializer struct {
	connector remote.Connector
	pool      *download.Pool
	history   HistoryRecorder
	metrics   MetricsObserver
	opts      Options
	logger    *slog.Logger

	// archive is swapped out in tests.
	archive func(root, name string) (*Archive, error)

	mu     sync.RWMutex
	active map[string]*Tracker
}

// NewMaterializer creates a new Materializer. history may be nil.
func NewMaterializer(
	connector remote.Connector,
	pool *download.Pool,
	history HistoryRecorder,
	opts Options,
	logger *slog.Logger,
) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		connector: connector,
		pool:      pool,
		history:   history,
		opts:      opts,
		logger:    logger,
		archive:   BuildArchive,
		active:    make(map[string]*Tracker),
	}
}

// SetMetrics attaches a metrics observer.
func (m *Materializer) SetMetrics(obs MetricsObserver) {
	m.metrics = obs
}

// SizeLimit returns the configured folder size ceiling.
func (m *Materializer) SizeLimit() uint64 { return m.opts.SizeLimit }

// Workers returns the number of files fetched at once.
func (m *Materializer) Workers() int { return m.pool.Workers() }

// Active returns snapshots of the requests currently in flight, oldest first.
func (m *Materializer) Active() []Progress {
	m.mu.RLock()
	out := make([]Progress, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Materialize lists folder, checks its size, downloads it into a private
// staging area and returns it as a ZIP. The staging area is gone by the time
// Materialize returns, whatever the outcome.
//
// Errors carry an apperr kind; anything untagged is an internal fault.
func (m *Materializer) Materialize(ctx context.Context, folder string) (archive *Archive, err error) {
	requestID := uuid.NewString()
	logger := m.logger.With("request_id", requestID, "path", folder)
	tracker := NewTracker(requestID, folder)
	startTime := time.Now()

	m.mu.Lock()
	m.active[requestID] = tracker
	m.mu.Unlock()

	record := &store.FolderDownload{
		RequestID: requestID,
		Path:      folder,
		Status:    store.StatusRunning,
		StartTime: startTime,
	}
	m.recordStart(logger, record)
	if m.metrics != nil {
		m.metrics.RequestStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while materializing folder", "panic", r)
			archive = nil
			err = apperr.New(apperr.InternalFault, "panic while materializing folder", goerr.V("panic", fmt.Sprint(r)))
		}

		m.mu.Lock()
		delete(m.active, requestID)
		m.mu.Unlock()

		duration := time.Since(startTime)
		snap := tracker.Snapshot()
		outcome := "success"
		if err != nil {
			m.logFailure(logger, tracker, err)
			kind := apperr.KindOf(err)
			resp := apperr.Lookup(kind)
			tracker.SetPhase(PhaseFailed)
			tracker.SetMessage(resp.Message)
			outcome = string(kind)
			// History is served over HTTP; the error chain stays in the log.
			record.Status = store.StatusFailed
			record.ErrorCode = resp.Code
			record.ErrorMessage = resp.Message
		} else {
			record.Status = store.StatusSuccess
			record.ArchiveSize = archive.Size
			logger.Info("folder materialized", "files", snap.TotalFiles, "bytes", snap.TotalBytes,
				"archive_bytes", archive.Size, "duration", duration)
		}
		record.FileCount = snap.TotalFiles
		record.TotalSize = int64(snap.TotalBytes)
		record.EndTime = time.Now()
		m.recordFinish(logger, record)
		if m.metrics != nil {
			m.metrics.RequestFinished(outcome, duration, snap.CompletedFiles, snap.TotalBytes)
		}
	}()

	return m.run(ctx, logger, tracker, folder)
}

func (m *Materializer) run(ctx context.Context, logger *slog.Logger, tracker *Tracker, rawPath string) (*Archive, error) {
	tracker.SetPhase(PhaseValidating)
	folder, err := safety.CleanRemotePath(rawPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, err, "invalid folder path", goerr.V("path", rawPath))
	}

	tracker.SetPhase(PhaseListing)
	share, err := m.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", m.connector.Name(), err)
	}
	defer func() {
		if cerr := share.Close(); cerr != nil {
			logger.Warn("closing share handle", "error", cerr)
		}
	}()

	enumOpts := EnumerateOptions{}
	if m.opts.EarlyAbort {
		enumOpts.AbortAbove = m.opts.SizeLimit
	}
	manifest, err := Enumerate(ctx, share, folder, enumOpts)
	if err != nil {
		return nil, err
	}
	tracker.SetTotals(manifest.Len(), manifest.TotalSize())
	tracker.SetMessage(fmt.Sprintf("%d files, %s", manifest.Len(), humanize.IBytes(manifest.TotalSize())))
	logger.Debug("folder listed", "files", manifest.Len(), "bytes", manifest.TotalSize())

	tracker.SetPhase(PhaseSizeChecking)
	if err := CheckSize(manifest, m.opts.SizeLimit); err != nil {
		return nil, err
	}

	tracker.SetPhase(PhaseDownloading)
	staging, err := NewStagingArea(m.opts.StagingDir, safety.FirstSegment(folder))
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := staging.Release(); rerr != nil {
			logger.Error("releasing staging area", "error", rerr)
		}
	}()

	jobs := make([]download.Job, 0, manifest.Len())
	for _, f := range manifest.Files {
		dest, err := staging.Path(manifest.RelativePath(f))
		if err != nil {
			return nil, fmt.Errorf("staging path for %s: %w", f.RemotePath, err)
		}
		jobs = append(jobs, download.Job{
			RemotePath:   f.RemotePath,
			DestPath:     dest,
			ExpectedSize: int64(f.Size),
		})
	}

	var obs download.Observer = tracker
	if m.metrics != nil {
		obs = &meteredObserver{Tracker: tracker, metrics: m.metrics}
	}
	if _, err := m.pool.Execute(ctx, share, jobs, obs); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled while downloading: %w", err)
		}
		return nil, apperr.Wrap(apperr.DownloadError, err, "failed to download folder contents", goerr.V("path", folder))
	}

	tracker.SetPhase(PhaseArchiving)
	tracker.SetMessage(fmt.Sprintf("packing %d files", manifest.Len()))
	archive, err := m.archive(staging.Root(), safety.FirstSegment(folder)+".zip")
	if err != nil {
		return nil, err
	}
	if err := staging.Release(); err != nil {
		logger.Error("releasing staging area", "error", err)
	}

	tracker.SetPhase(PhaseResponding)
	return archive, nil
}

func (m *Materializer) logFailure(logger *slog.Logger, tracker *Tracker, err error) {
	kind := apperr.KindOf(err)
	attrs := []any{"kind", kind, "phase", tracker.Phase(), "error", err}
	if vals := apperr.Values(err); len(vals) > 0 {
		attrs = append(attrs, "details", vals)
	}
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("folder request cancelled", attrs...)
	case kind == apperr.InternalFault || kind == apperr.DownloadError:
		logger.Error("folder request failed", attrs...)
	default:
		logger.Warn("folder request rejected", attrs...)
	}
}

func (m *Materializer) recordStart(logger *slog.Logger, fd *store.FolderDownload) {
	if m.history == nil {
		return
	}
	if err := m.history.CreateFolderDownload(fd); err != nil {
		logger.Warn("recording download start", "error", err)
	}
}

func (m *Materializer) recordFinish(logger *slog.Logger, fd *store.FolderDownload) {
	if m.history == nil || fd.ID == 0 {
		return
	}
	if err := m.history.UpdateFolderDownload(fd); err != nil {
		logger.Warn("recording download result", "error", err)
	}
}

// meteredObserver forwards byte counts to metrics as well as the tracker.
type meteredObserver struct {
	*Tracker
	metrics MetricsObserver
}

func (o *meteredObserver) BytesWritten(n int64) {
	o.Tracker.BytesWritten(n)
	o.metrics.BytesDownloaded(n)
}
