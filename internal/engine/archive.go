package engine

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Archive is a finished ZIP held in memory.
type Archive struct {
	Name    string
	Entries []string
	Size    int64
	Reader  *bytes.Reader
}

// BuildArchive packs every regular file under root into an in-memory ZIP.
// Entry names are relative to root with forward slashes, in lexical walk
// order. The returned reader is positioned at the start.
func BuildArchive(root, name string) (*Archive, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	var entries []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entryName := filepath.ToSlash(rel)
		if err := addFileToZip(zw, p, entryName); err != nil {
			return fmt.Errorf("adding %s: %w", entryName, err)
		}
		entries = append(entries, entryName)
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("building archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	return &Archive{
		Name:    name,
		Entries: entries,
		Size:    int64(buf.Len()),
		Reader:  bytes.NewReader(buf.Bytes()),
	}, nil
}

// addFileToZip adds a single file to a zip archive.
func addFileToZip(zw *zip.Writer, srcPath, entryName string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(stat)
	if err != nil {
		return err
	}
	header.Name = entryName
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
