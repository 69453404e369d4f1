package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"

	"github.com/BadgerOps/sharezip/internal/apperr"
	"github.com/BadgerOps/sharezip/internal/remote"
)

// EnumerateOptions tunes Enumerate.
type EnumerateOptions struct {
	// AbortAbove stops the walk as soon as the running total exceeds it.
	// Zero walks the full tree.
	AbortAbove uint64
}

// Enumerate walks root depth-first and returns every file below it.
// Children are visited in lexical order, so the same tree always yields
// the same manifest. Directories are never emitted.
//
// Root naming a file is InvalidTarget; a missing root is NotFound.
func Enumerate(ctx context.Context, share remote.Share, root string, opts EnumerateOptions) (*Manifest, error) {
	isFile, err := share.FileExists(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", root, err)
	}
	if isFile {
		return nil, apperr.New(apperr.InvalidTarget, "path is a file", goerr.V("path", root))
	}

	rootEntries, err := listSorted(ctx, share, root)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, apperr.Wrap(apperr.NotFound, err, "folder does not exist", goerr.V("path", root))
		}
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	type frame struct {
		dir     string
		entries []remote.Entry
		next    int
	}

	m := &Manifest{Root: root}
	var total uint64
	stack := []frame{{dir: root, entries: rootEntries}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		top := &stack[len(stack)-1]
		if top.next == len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++
		p := remote.Join(top.dir, entry.Name)

		if entry.IsDir {
			children, err := listSorted(ctx, share, p)
			if err != nil {
				return nil, fmt.Errorf("listing %s: %w", p, err)
			}
			stack = append(stack, frame{dir: p, entries: children})
			continue
		}

		m.Files = append(m.Files, ManifestFile{RemotePath: p, Size: entry.Size})
		total += entry.Size
		if opts.AbortAbove > 0 && total > opts.AbortAbove {
			return nil, apperr.New(apperr.SizeExceeded, "folder exceeds size limit",
				goerr.V("path", root),
				goerr.V("listed_so_far", humanize.IBytes(total)),
				goerr.V("limit", humanize.IBytes(opts.AbortAbove)))
		}
	}
	return m, nil
}

func listSorted(ctx context.Context, share remote.Share, dir string) ([]remote.Entry, error) {
	entries, err := share.ListChildren(ctx, dir)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// CheckSize rejects a manifest whose total exceeds limit.
func CheckSize(m *Manifest, limit uint64) error {
	total := m.TotalSize()
	if total > limit {
		return apperr.New(apperr.SizeExceeded, "folder exceeds size limit",
			goerr.V("path", m.Root),
			goerr.V("total", humanize.IBytes(total)),
			goerr.V("limit", humanize.IBytes(limit)))
	}
	return nil
}
