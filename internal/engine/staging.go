package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/sharezip/internal/safety"
)

const stagingPrefix = "download_folder_"

// StagingArea is a request-private directory tree that mirrors the folder
// being materialized. Release removes it and is safe to call repeatedly.
type StagingArea struct {
	base string
	root string

	once       sync.Once
	releaseErr error
}

// NewStagingArea creates a fresh temp directory under parent (the OS temp
// dir when empty) with an export directory named after the folder's first
// segment.
func NewStagingArea(parent, firstSegment string) (*StagingArea, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("creating staging parent: %w", err)
		}
	}
	base, err := os.MkdirTemp(parent, stagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	stamp := strings.Replace(time.Now().UTC().Format("20060102150405.000000"), ".", "", 1)
	root := filepath.Join(base, stamp+"_"+filepath.Base(firstSegment))
	if err := os.MkdirAll(root, 0o755); err != nil {
		_ = os.RemoveAll(base)
		return nil, fmt.Errorf("creating export dir: %w", err)
	}
	return &StagingArea{base: base, root: root}, nil
}

// Root is the directory the folder's files are written under.
func (s *StagingArea) Root() string { return s.root }

// Path maps a folder-relative path to its location in the staging tree.
func (s *StagingArea) Path(rel string) (string, error) {
	return safety.SafeJoinUnder(s.root, rel)
}

// Release deletes the staging tree.
func (s *StagingArea) Release() error {
	s.once.Do(func() {
		if err := os.RemoveAll(s.base); err != nil {
			s.releaseErr = fmt.Errorf("removing staging dir %s: %w", s.base, err)
		}
	})
	return s.releaseErr
}
