package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingArea(t *testing.T) {
	parent := t.TempDir()

	s, err := NewStagingArea(parent, "teamA")
	require.NoError(t, err)

	rel, err := filepath.Rel(parent, s.Root())
	require.NoError(t, err)
	parts := strings.Split(filepath.ToSlash(rel), "/")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "download_folder_"), parts[0])
	assert.Regexp(t, regexp.MustCompile(`^\d{20}_teamA$`), parts[1])

	p, err := s.Path("2023/summary.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, s.Root()))

	_, err = s.Path("../escape")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "f"), []byte("x"), 0o644))
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStagingAreaCreatesParent(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "nested", "staging")
	s, err := NewStagingArea(parent, "x")
	require.NoError(t, err)
	defer s.Release()

	_, err = os.Stat(s.Root())
	assert.NoError(t, err)
}
