package transfer

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

// DefaultChunkSize is the size of every chunk except the last.
const DefaultChunkSize int64 = 5 << 20

// Source is one local file to upload.
type Source struct {
	Name   string
	Size   int64
	Reader io.ReaderAt
}

// Uploader splits files into chunks and sends them one after another, then finalizes.
// Separate files upload concurrently.
type Uploader struct {
	client    *Client
	chunkSize int64
	overwrite bool

	mu    sync.Mutex
	items []*types.UploadItem

	// OnUpdate, when set, receives a copy of an item after every state change.
	OnUpdate func(types.UploadItem)
}

func NewUploader(client *Client) *Uploader {
	return &Uploader{client: client, chunkSize: DefaultChunkSize}
}

// SetChunkSize overrides DefaultChunkSize. Non-positive values are ignored.
func (u *Uploader) SetChunkSize(n int64) {
	if n > 0 {
		u.chunkSize = n
	}
}

// SetOverwrite lets finalize replace a file of the same name. By default an existing
// file makes the upload fail with ErrAlreadyExists.
func (u *Uploader) SetOverwrite(overwrite bool) {
	u.overwrite = overwrite
}

// TotalChunks returns how many chunks a file of size bytes is split into. An empty file is one empty chunk.
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// UploadAll uploads every source into targetDir concurrently and returns the final item states.
func (u *Uploader) UploadAll(ctx context.Context, sources []Source, targetDir string) []types.UploadItem {
	out := make([]types.UploadItem, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			item, _ := u.Upload(ctx, src, targetDir)
			out[i] = item
		}(i, src)
	}
	wg.Wait()
	return out
}

// Upload sends one file. A failed chunk is not retried; the item ends in the error state.
func (u *Uploader) Upload(ctx context.Context, src Source, targetDir string) (types.UploadItem, error) {
	item := &types.UploadItem{
		ID:        tool.GenerateShortID(),
		UploadID:  uuid.NewString(),
		FileName:  src.Name,
		Size:      src.Size,
		Status:    types.UploadPending,
		StartedAt: time.Now(),
	}
	u.mu.Lock()
	u.items = append(u.items, item)
	u.mu.Unlock()
	u.emit(item)

	storedAt, err := u.send(ctx, item, src, targetDir)
	u.mu.Lock()
	if err != nil {
		item.Status = types.UploadError
		item.Error = err.Error()
	} else {
		item.Status = types.UploadCompleted
		item.Progress = 100
		item.StoredAt = storedAt
	}
	snapshot := *item
	u.mu.Unlock()
	u.emit(item)

	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] %s failed: %v", src.Name, err)
		return snapshot, err
	}
	tool.DefaultLogger.Infof("[Upload] %s stored at %s", src.Name, storedAt)
	return snapshot, nil
}

func (u *Uploader) send(ctx context.Context, item *types.UploadItem, src Source, targetDir string) (string, error) {
	if src.Reader == nil {
		return "", fmt.Errorf("invalid source %q: nil reader", src.Name)
	}
	u.update(item, func(it *types.UploadItem) { it.Status = types.UploadUploading })

	total := TotalChunks(src.Size, u.chunkSize)
	buf := make([]byte, min(u.chunkSize, max(src.Size, 0)))
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("upload cancelled: %w", err)
		}
		start := int64(i) * u.chunkSize
		n := min(u.chunkSize, src.Size-start)
		if n < 0 {
			n = 0
		}
		chunk := buf[:n]
		if _, err := io.ReadFull(io.NewSectionReader(src.Reader, start, n), chunk); err != nil {
			return "", fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		if err := u.client.UploadChunk(ctx, item.UploadID, i, chunk); err != nil {
			return "", err
		}
		progress := int(math.Round(float64(i+1) / float64(total) * 100))
		u.update(item, func(it *types.UploadItem) { it.Progress = progress })
	}

	return u.client.FinalizeUpload(ctx, types.FinalizeUploadRequest{
		UploadID:    item.UploadID,
		FileName:    src.Name,
		CurrentPath: targetDir,
		TotalChunks: total,
		Overwrite:   u.overwrite,
	})
}

func (u *Uploader) update(item *types.UploadItem, fn func(*types.UploadItem)) {
	u.mu.Lock()
	fn(item)
	u.mu.Unlock()
	u.emit(item)
}

func (u *Uploader) emit(item *types.UploadItem) {
	if u.OnUpdate == nil {
		return
	}
	u.mu.Lock()
	snapshot := *item
	u.mu.Unlock()
	u.OnUpdate(snapshot)
}

// Uploads returns copies of all tracked items in submission order.
func (u *Uploader) Uploads() []types.UploadItem {
	u.mu.Lock()
	defer u.mu.Unlock()
	return lo.Map(u.items, func(it *types.UploadItem, _ int) types.UploadItem { return *it })
}

// ClearCompleted drops items that reached completed or error and returns how many were removed.
func (u *Uploader) ClearCompleted() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	before := len(u.items)
	u.items = lo.Filter(u.items, func(it *types.UploadItem, _ int) bool {
		return it.Status != types.UploadCompleted && it.Status != types.UploadError
	})
	return before - len(u.items)
}
