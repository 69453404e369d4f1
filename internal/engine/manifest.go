package engine

import "strings"

// ManifestFile is one file to materialize.
type ManifestFile struct {
	RemotePath string `json:"remote_path"`
	Size       uint64 `json:"size"`
}

// Manifest lists every file under a folder, in walk order. It is built
// once per request and not modified afterwards.
type Manifest struct {
	Root  string         `json:"root"`
	Files []ManifestFile `json:"files"`
}

// TotalSize is the sum of all file sizes.
func (m *Manifest) TotalSize() uint64 {
	var total uint64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Len returns the number of files.
func (m *Manifest) Len() int { return len(m.Files) }

// RelativePath strips the folder root from a manifest path.
func (m *Manifest) RelativePath(f ManifestFile) string {
	return strings.TrimPrefix(f.RemotePath, m.Root+"/")
}
