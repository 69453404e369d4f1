package download

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BadgerOps/sharezip/internal/remote"
)

// fakeShare is a scripted remote.Share. Files fail their first
// openFailures[path] opens and first readFailures[path] reads with
// transient errors; terminal[path] fails every open.
type fakeShare struct {
	mu           sync.Mutex
	files        map[string]string
	openFailures map[string]int
	readFailures map[string]int
	terminal     map[string]error
	delay        time.Duration

	opens    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeShare(files map[string]string) *fakeShare {
	return &fakeShare{
		files:        files,
		openFailures: map[string]int{},
		readFailures: map[string]int{},
		terminal:     map[string]error{},
	}
}

func (f *fakeShare) ListChildren(ctx context.Context, dir string) ([]remote.Entry, error) {
	return nil, errors.New("not used")
}

func (f *fakeShare) FileExists(ctx context.Context, p string) (bool, error) {
	_, ok := f.files[p]
	return ok, nil
}

func (f *fakeShare) Close() error { return nil }

func (f *fakeShare) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	f.opens.Add(1)

	f.mu.Lock()
	if err, ok := f.terminal[p]; ok {
		f.mu.Unlock()
		return nil, err
	}
	if f.openFailures[p] > 0 {
		f.openFailures[p]--
		f.mu.Unlock()
		return nil, remote.Transient("open", p, errors.New("connection refused"))
	}
	failRead := false
	if f.readFailures[p] > 0 {
		f.readFailures[p]--
		failRead = true
	}
	data, ok := f.files[p]
	f.mu.Unlock()

	if !ok {
		return nil, remote.NotFound(p)
	}

	n := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return &fakeBody{share: f, ctx: ctx, r: strings.NewReader(data), failRead: failRead, path: p}, nil
}

type fakeBody struct {
	share    *fakeShare
	ctx      context.Context
	r        *strings.Reader
	failRead bool
	path     string
	waited   bool
	closed   bool
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if !b.waited && b.share.delay > 0 {
		b.waited = true
		select {
		case <-time.After(b.share.delay):
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	if b.failRead {
		// Deliver one byte, then drop the stream.
		b.failRead = false
		n, _ := b.r.Read(p[:min(len(p), 1)])
		return n, remote.Transient("read", b.path, io.ErrUnexpectedEOF)
	}
	return b.r.Read(p)
}

func (b *fakeBody) Close() error {
	if !b.closed {
		b.closed = true
		b.share.inFlight.Add(-1)
	}
	return nil
}
