package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/vault"
)

const maxReportedMissing = 64

// MissingChunksError lists the indices absent from a session at finalize time.
type MissingChunksError struct {
	Missing []int
	Total   int
}

func (e *MissingChunksError) Error() string {
	shown := e.Missing
	if len(shown) > maxReportedMissing {
		shown = shown[:maxReportedMissing]
	}
	return fmt.Sprintf("%v: %d of %d chunks missing %v", types.ErrIncompleteUpload, len(e.Missing), e.Total, shown)
}

func (e *MissingChunksError) Unwrap() error {
	return types.ErrIncompleteUpload
}

// Finalizer assembles a session's chunks into a file under the storage root.
type Finalizer struct {
	root     *vault.Root
	tempRoot string
	sessions *Sessions
}

func NewFinalizer(root *vault.Root, tempRoot string, sessions *Sessions) *Finalizer {
	return &Finalizer{
		root:     root,
		tempRoot: tempRoot,
		sessions: sessions,
	}
}

// Finalize concatenates chunks 0..N-1 in numeric order into currentPath/fileName.
// N is req.TotalChunks when given, otherwise one past the highest index received, and every
// index below N must be present. The file appears at its destination only once fully written;
// the session directory is removed afterwards. An existing file with the same name is replaced only
// when req.Overwrite is set; otherwise Finalize fails with ErrAlreadyExists and the chunks are kept.
func (f *Finalizer) Finalize(ctx context.Context, req types.FinalizeUploadRequest) (types.StoredFile, error) {
	if !ValidUploadID(req.UploadID) {
		return types.StoredFile{}, types.ErrInvalidUploadID
	}
	if !vault.ValidEntryName(req.FileName) {
		return types.StoredFile{}, fmt.Errorf("%w: %q", types.ErrInvalidName, req.FileName)
	}
	if req.TotalChunks < 0 || req.TotalChunks > MaxChunkIndex {
		return types.StoredFile{}, types.ErrInvalidChunkIndex
	}

	destDir, err := f.root.Resolve(req.CurrentPath)
	if err != nil {
		return types.StoredFile{}, err
	}
	destRel := path.Join(strings.Trim(filepath.ToSlash(req.CurrentPath), "/"), req.FileName)
	dest, err := f.root.Resolve(destRel)
	if err != nil {
		return types.StoredFile{}, err
	}
	if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
		return types.StoredFile{}, fmt.Errorf("%w: destination folder %q", types.ErrNotFound, req.CurrentPath)
	}
	if info, err := os.Stat(dest); err == nil && (info.IsDir() || !req.Overwrite) {
		return types.StoredFile{}, fmt.Errorf("%w: %q", types.ErrAlreadyExists, destRel)
	}

	dir := sessionDir(f.tempRoot, req.UploadID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return types.StoredFile{}, types.ErrSessionNotFound
	}

	if err := f.sessions.BeginFinalize(req.UploadID); err != nil {
		return types.StoredFile{}, err
	}
	ok := false
	defer func() { f.sessions.EndFinalize(req.UploadID, ok) }()

	indices, err := chunkIndices(dir)
	if err != nil {
		return types.StoredFile{}, err
	}
	if err := checkComplete(indices, req.TotalChunks); err != nil {
		return types.StoredFile{}, err
	}

	size, err := f.assemble(ctx, dir, indices, dest, req.Overwrite)
	if err != nil {
		return types.StoredFile{}, err
	}
	ok = true

	if err := os.RemoveAll(dir); err != nil {
		tool.DefaultLogger.Warnf("[Finalize] Failed to remove session dir %s: %v", dir, err)
	}
	tool.DefaultLogger.Infof("[Finalize] Assembled %s from %d chunks (%d bytes)", dest, len(indices), size)

	stored, err := f.root.Stat(destRel)
	if err != nil {
		return types.StoredFile{}, err
	}
	return stored, nil
}

// assemble streams the chunks into a hidden temp file beside dest, then moves it into place.
// Without overwrite the move is a hard link, which fails if dest appeared in the meantime.
func (f *Finalizer) assemble(ctx context.Context, dir string, indices []int, dest string, overwrite bool) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*"+partSuffix)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, err
	}

	var total int64
	for _, idx := range indices {
		chunk, err := os.Open(filepath.Join(dir, strconv.Itoa(idx)))
		if err != nil {
			return fail(fmt.Errorf("failed to open chunk %d: %w", idx, err))
		}
		n, err := tool.CopyWithContext(ctx, tmp, chunk)
		_ = chunk.Close()
		if err != nil {
			return fail(fmt.Errorf("failed to copy chunk %d: %w", idx, err))
		}
		total += n
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync destination: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close destination: %w", err)
	}
	if overwrite {
		if err := os.Rename(tmpName, dest); err != nil {
			_ = os.Remove(tmpName)
			return 0, fmt.Errorf("failed to move file into place: %w", err)
		}
		return total, nil
	}
	err = os.Link(tmpName, dest)
	_ = os.Remove(tmpName)
	if errors.Is(err, fs.ErrExist) {
		return 0, fmt.Errorf("%w: %s", types.ErrAlreadyExists, filepath.Base(dest))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}
	return total, nil
}

// chunkIndices returns the numeric chunk names in dir sorted numerically. Part files and
// anything else non-numeric are ignored.
func chunkIndices(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session dir: %w", err)
	}
	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, err := strconv.Atoi(e.Name())
		if err != nil || idx < 0 || strconv.Itoa(idx) != e.Name() {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// checkComplete requires indices to be exactly 0..total-1. With total unknown (0), the
// highest received index defines it.
func checkComplete(indices []int, total int) error {
	if total == 0 {
		if len(indices) == 0 {
			return &MissingChunksError{Missing: []int{0}, Total: 1}
		}
		total = indices[len(indices)-1] + 1
	}
	received := bitset.New(uint(total))
	for _, idx := range indices {
		if idx >= total {
			return fmt.Errorf("%w: chunk %d beyond declared total %d", types.ErrInvalidChunkIndex, idx, total)
		}
		received.Set(uint(idx))
	}
	if received.Count() == uint(total) {
		return nil
	}
	return &MissingChunksError{Missing: missingIndices(received, uint(total)), Total: total}
}
