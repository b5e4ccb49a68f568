package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

const (
	// MaxChunkIndex bounds the received-index bitset; 2^20 chunks of 5 MiB is 5 TiB.
	MaxChunkIndex      = 1 << 20
	DefaultMaxChunkLen = 64 << 20
	partSuffix         = ".part"
)

// Receiver stores individual chunks as <tempRoot>/<uploadId>/<chunkIndex>.
type Receiver struct {
	tempRoot string
	sessions *Sessions
	maxChunk int64
}

func NewReceiver(tempRoot string, sessions *Sessions, maxChunkBytes int64) *Receiver {
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkLen
	}
	return &Receiver{
		tempRoot: tempRoot,
		sessions: sessions,
		maxChunk: maxChunkBytes,
	}
}

// Receive writes one chunk. Chunks may arrive in any order; writing the same index again replaces it.
// The chunk is written to a private part file and renamed into place, so a finalize never sees half a chunk.
func (r *Receiver) Receive(ctx context.Context, uploadID string, index int, src io.Reader) (int64, error) {
	if !ValidUploadID(uploadID) {
		return 0, types.ErrInvalidUploadID
	}
	if index < 0 || index >= MaxChunkIndex {
		return 0, types.ErrInvalidChunkIndex
	}
	if err := r.sessions.BeginChunk(uploadID); err != nil {
		return 0, err
	}

	dir := sessionDir(r.tempRoot, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create session dir: %w", err)
	}

	final := filepath.Join(dir, strconv.Itoa(index))
	part := final + "." + tool.GenerateShortID() + partSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk file: %w", err)
	}

	n, err := tool.CopyWithContext(ctx, f, io.LimitReader(src, r.maxChunk+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > r.maxChunk {
		err = types.ErrChunkTooLarge
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("failed to store chunk: %w", err)
	}

	r.sessions.MarkReceived(uploadID, index, n)
	tool.DefaultLogger.Debugf("[Upload] Stored chunk %d of %s (%d bytes)", index, uploadID, n)
	return n, nil
}

func sessionDir(tempRoot, uploadID string) string {
	return filepath.Join(tempRoot, uploadID)
}
