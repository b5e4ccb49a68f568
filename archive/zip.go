// Package archive bundles selected stored files into a single ZIP stream.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/vault"
)

// MaxFiles caps how many paths one archive request may name.
const MaxFiles = 50

// Entry is one resolved file of an archive.
type Entry struct {
	full string
	rel  string
	name string
	info os.FileInfo
}

// Path is the entry's cleaned path relative to the root, whatever spelling the request used.
func (e Entry) Path() string {
	return e.rel
}

// Plan resolves and checks paths before anything is written, so a bad request fails
// before the response starts. Missing paths and folders are skipped.
func Plan(root *vault.Root, paths []string) ([]Entry, error) {
	if len(paths) == 0 {
		return nil, types.ErrNoFiles
	}
	if len(paths) > MaxFiles {
		return nil, fmt.Errorf("%w: at most %d files per archive", types.ErrTooManyFiles, MaxFiles)
	}
	entries := make([]Entry, 0, len(paths))
	taken := make(map[string]struct{}, len(paths))
	for _, rel := range paths {
		full, err := root.Resolve(rel)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(full)
		if err != nil {
			tool.DefaultLogger.Warnf("[Archive] Skipping %s: %v", rel, err)
			continue
		}
		if !info.Mode().IsRegular() {
			tool.DefaultLogger.Warnf("[Archive] Skipping %s: not a regular file", rel)
			continue
		}
		relPath, err := root.Rel(full)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			full: full,
			rel:  relPath,
			name: tool.NextAvailableName(taken, filepath.Base(full)),
			info: info,
		})
	}
	if len(entries) == 0 {
		return nil, types.ErrNotFound
	}
	return entries, nil
}

// Write streams the planned entries as a deflate-compressed ZIP into w.
func Write(ctx context.Context, w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, e := range entries {
		if err := addFile(ctx, zw, e); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func addFile(ctx context.Context, zw *zip.Writer, e Entry) error {
	hdr, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", e.name, err)
	}
	hdr.Name = e.name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", e.name, err)
	}
	src, err := os.Open(e.full)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.name, err)
	}
	defer src.Close()
	if _, err := tool.CopyWithContext(ctx, dst, src); err != nil {
		return fmt.Errorf("failed to compress %s: %w", e.name, err)
	}
	return nil
}

// FileName is the suggested download name, selected_files_<ms>.zip.
func FileName(ms int64) string {
	return fmt.Sprintf("selected_files_%d.zip", ms)
}
