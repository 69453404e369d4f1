// Package local serves a folder tree from an afero filesystem. It backs the
// "local" remote backend and the in-memory share used in tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/BadgerOps/sharezip/internal/remote"
)

// Connector exposes an afero.Fs as a remote share.
type Connector struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New returns a connector over fsys.
func New(fsys afero.Fs, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{fs: fsys, logger: logger}
}

// NewOS returns a connector rooted at dir on the host filesystem.
func NewOS(dir string, logger *slog.Logger) (*Connector, error) {
	info, err := afero.NewOsFs().Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local root %s is not a directory", dir)
	}
	return New(afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), logger), nil
}

func (c *Connector) Name() string { return "local" }

// Connect returns a handle over the same filesystem.
func (c *Connector) Connect(ctx context.Context) (remote.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &share{fs: c.fs, logger: c.logger}, nil
}

func (c *Connector) Close() error { return nil }

type share struct {
	fs     afero.Fs
	logger *slog.Logger
	closed bool
}

func (s *share) ListChildren(ctx context.Context, dir string) ([]remote.Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, osPath(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, remote.NotFound(dir)
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	entries := make([]remote.Entry, 0, len(infos))
	for _, info := range infos {
		e := remote.Entry{Name: info.Name(), IsDir: info.IsDir()}
		if !e.IsDir {
			if !info.Mode().IsRegular() {
				s.logger.Debug("skipping non-regular file", "dir", dir, "name", info.Name())
				continue
			}
			e.Size = uint64(info.Size())
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *share) Open(ctx context.Context, file string) (io.ReadCloser, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(osPath(file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, remote.NotFound(file)
		}
		return nil, fmt.Errorf("opening %s: %w", file, err)
	}
	return f, nil
}

func (s *share) FileExists(ctx context.Context, p string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	info, err := s.fs.Stat(osPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *share) Close() error {
	s.closed = true
	return nil
}

func (s *share) check(ctx context.Context) error {
	if s.closed {
		return errors.New("local share: handle is closed")
	}
	return ctx.Err()
}

func osPath(p string) string {
	if p == "" {
		return string(filepath.Separator)
	}
	return filepath.FromSlash("/" + p)
}
