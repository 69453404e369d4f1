package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"github.com/BadgerOps/sharezip/internal/remote"
	"github.com/BadgerOps/sharezip/internal/remote/local"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMemFS builds an in-memory share from path -> content.
func newMemFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for p, content := range files {
		if err := afero.WriteFile(fsys, "/"+p, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}
	return fsys
}

// countingConnector wraps a local connector, counting calls and injecting
// failures.
type countingConnector struct {
	inner *local.Connector

	listCalls atomic.Int64
	opens     atomic.Int64
	closes    atomic.Int64

	mu      sync.Mutex
	listErr map[string]error
	openErr map[string]error
	onOpen  func(path string)
}

func newCountingConnector(fsys afero.Fs) *countingConnector {
	return &countingConnector{
		inner:   local.New(fsys, discardLogger()),
		listErr: map[string]error{},
		openErr: map[string]error{},
	}
}

func (c *countingConnector) Name() string { return "counting" }
func (c *countingConnector) Close() error { return nil }

func (c *countingConnector) Connect(ctx context.Context) (remote.Share, error) {
	s, err := c.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &countingShare{Share: s, conn: c}, nil
}

type countingShare struct {
	remote.Share
	conn *countingConnector
}

func (s *countingShare) ListChildren(ctx context.Context, dir string) ([]remote.Entry, error) {
	s.conn.listCalls.Add(1)
	s.conn.mu.Lock()
	err := s.conn.listErr[dir]
	s.conn.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Share.ListChildren(ctx, dir)
}

func (s *countingShare) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	s.conn.opens.Add(1)
	s.conn.mu.Lock()
	err := s.conn.openErr[p]
	hook := s.conn.onOpen
	s.conn.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	if err != nil {
		return nil, err
	}
	return s.Share.Open(ctx, p)
}

func (s *countingShare) Close() error {
	s.conn.closes.Add(1)
	return s.Share.Close()
}
