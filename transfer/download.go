package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

const (
	DefaultParallelChunks   = 4
	DefaultProgressInterval = 100 * time.Millisecond
)

// SaveFunc persists a reassembled download locally and returns where it ended up.
type SaveFunc func(name string, data []byte) (string, error)

// SplitRanges divides size bytes into at most n contiguous inclusive ranges of size/n bytes,
// the last one absorbing the remainder. An empty file has no ranges.
func SplitRanges(size int64, n int) []types.ChunkInfo {
	if size <= 0 || n <= 0 {
		return nil
	}
	if int64(n) > size {
		n = int(size)
	}
	chunkSize := size / int64(n)
	chunks := make([]types.ChunkInfo, n)
	for i := range chunks {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == n-1 {
			end = size - 1
		}
		chunks[i] = types.ChunkInfo{ID: i, Start: start, End: end, Status: types.DownloadPending}
	}
	return chunks
}

type downloadState struct {
	item     types.DownloadItem
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	throttle *rate.Sometimes
	started  time.Time
}

// Downloader fetches files as parallel byte ranges and reassembles them in order.
type Downloader struct {
	client   *Client
	save     SaveFunc
	parallel int
	interval time.Duration

	mu     sync.Mutex
	items  map[string]*downloadState
	order  []string
	emitMu sync.Mutex

	// OnUpdate, when set, receives item snapshots at most once per progress interval
	// while bytes flow, and always on status changes.
	OnUpdate func(types.DownloadItem)
}

func NewDownloader(client *Client, save SaveFunc) *Downloader {
	return &Downloader{
		client:   client,
		save:     save,
		parallel: DefaultParallelChunks,
		interval: DefaultProgressInterval,
		items:    make(map[string]*downloadState),
	}
}

// SetParallel overrides the number of ranges per file.
func (d *Downloader) SetParallel(n int) {
	if n > 0 {
		d.parallel = n
	}
}

// Start enqueues filePath (size bytes, saved as name) and returns the item id immediately.
func (d *Downloader) Start(ctx context.Context, filePath, name string, size int64, password string) string {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	st := &downloadState{
		item: types.DownloadItem{
			ID:       id,
			FilePath: filePath,
			Name:     name,
			Size:     size,
			Status:   types.DownloadPending,
			Chunks:   SplitRanges(size, d.parallel),
		},
		cancel:   cancel,
		done:     make(chan struct{}),
		throttle: &rate.Sometimes{Interval: d.interval},
	}
	if size < 0 {
		// never reaches the network; the item is failed on arrival
		st.err = fmt.Errorf("%w: %d bytes", types.ErrInvalidSize, size)
		st.item.Status = types.DownloadError
		st.item.Error = st.err.Error()
		st.item.EndTime = time.Now().UnixMilli()
		cancel()
		close(st.done)
	}
	d.mu.Lock()
	d.items[id] = st
	d.order = append(d.order, id)
	d.mu.Unlock()
	d.emit(st)
	if st.err != nil {
		tool.DefaultLogger.Errorf("[Download] %s rejected: %v", filePath, st.err)
		return id
	}

	go func() {
		defer close(st.done)
		defer cancel()
		st.err = d.run(ctx, st, password)
	}()
	return id
}

// Wait blocks until the item finishes and returns its final state.
func (d *Downloader) Wait(id string) (types.DownloadItem, error) {
	d.mu.Lock()
	st, ok := d.items[id]
	d.mu.Unlock()
	if !ok {
		return types.DownloadItem{}, fmt.Errorf("%w: download %s", types.ErrNotFound, id)
	}
	<-st.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneItem(st.item), st.err
}

// Download is Start followed by Wait.
func (d *Downloader) Download(ctx context.Context, filePath, name string, size int64, password string) (types.DownloadItem, error) {
	return d.Wait(d.Start(ctx, filePath, name, size, password))
}

func (d *Downloader) run(ctx context.Context, st *downloadState, password string) error {
	d.mu.Lock()
	st.started = time.Now()
	st.item.Status = types.DownloadDownloading
	st.item.StartTime = st.started.UnixMilli()
	name := st.item.Name
	filePath := st.item.FilePath
	size := st.item.Size
	chunks := append([]types.ChunkInfo(nil), st.item.Chunks...)
	d.mu.Unlock()
	d.emit(st)

	link, err := d.client.PrepareDownload(ctx, filePath, password)
	if err != nil {
		return d.fail(ctx, st, err)
	}

	buf := make([]byte, size)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		g.Go(func() error {
			d.setChunk(st, c.ID, func(ci *types.ChunkInfo) { ci.Status = types.DownloadDownloading })
			err := d.client.FetchRange(gctx, link, c.Start, buf[c.Start:c.End+1], func(n int) {
				d.addBytes(st, c.ID, int64(n))
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", c.ID, err)
			}
			d.setChunk(st, c.ID, func(ci *types.ChunkInfo) { ci.Status = types.DownloadCompleted })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return d.fail(ctx, st, err)
	}

	savedTo, err := d.save(name, buf)
	if err != nil {
		return d.fail(ctx, st, fmt.Errorf("failed to save %s: %w", name, err))
	}

	d.mu.Lock()
	now := time.Now()
	st.item.Status = types.DownloadCompleted
	st.item.Progress = 100
	st.item.SavedTo = savedTo
	st.item.EndTime = now.UnixMilli()
	st.item.ETA = 0
	if elapsed := now.Sub(st.started).Seconds(); elapsed > 0 {
		st.item.Speed = float64(size) / elapsed
	}
	d.mu.Unlock()
	d.emit(st)
	tool.DefaultLogger.Infof("[Download] %s completed (%d bytes) -> %s", filePath, size, savedTo)
	return nil
}

// fail marks the item and every chunk as error. Partial data is discarded.
func (d *Downloader) fail(ctx context.Context, st *downloadState, err error) error {
	if ctx.Err() != nil && !errors.Is(err, types.ErrDownloadCanceled) {
		err = fmt.Errorf("%w: %v", types.ErrDownloadCanceled, err)
	}
	d.mu.Lock()
	st.item.Status = types.DownloadError
	st.item.Error = err.Error()
	st.item.EndTime = time.Now().UnixMilli()
	for i := range st.item.Chunks {
		st.item.Chunks[i].Status = types.DownloadError
	}
	filePath := st.item.FilePath
	d.mu.Unlock()
	d.emit(st)
	tool.DefaultLogger.Errorf("[Download] %s failed: %v", filePath, err)
	return err
}

func (d *Downloader) setChunk(st *downloadState, id int, fn func(*types.ChunkInfo)) {
	d.mu.Lock()
	fn(&st.item.Chunks[id])
	d.mu.Unlock()
	d.emit(st)
}

// addBytes records progress for one chunk and recomputes the aggregate as bytes received over total bytes.
func (d *Downloader) addBytes(st *downloadState, id int, n int64) {
	d.mu.Lock()
	c := &st.item.Chunks[id]
	c.Bytes += n
	if l := c.Len(); l > 0 {
		c.Progress = int(c.Bytes * 100 / l)
	}
	elapsed := time.Since(st.started).Seconds()
	if elapsed > 0 {
		c.Speed = float64(c.Bytes) / elapsed
	}

	var received int64
	for _, ci := range st.item.Chunks {
		received += ci.Bytes
	}
	if st.item.Size > 0 {
		st.item.Progress = int(received * 100 / st.item.Size)
	}
	if elapsed > 0 {
		st.item.Speed = float64(received) / elapsed
		if st.item.Speed > 0 {
			st.item.ETA = float64(st.item.Size-received) / st.item.Speed
		}
	}
	d.mu.Unlock()
	st.throttle.Do(func() { d.emit(st) })
}

func (d *Downloader) emit(st *downloadState) {
	if d.OnUpdate == nil {
		return
	}
	// snapshots are delivered in the order they were taken
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	snapshot := cloneItem(st.item)
	d.mu.Unlock()
	d.OnUpdate(snapshot)
}

// Item returns a copy of one tracked item.
func (d *Downloader) Item(id string) (types.DownloadItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.items[id]
	if !ok {
		return types.DownloadItem{}, false
	}
	return cloneItem(st.item), true
}

// Items returns copies of all tracked items in enqueue order.
func (d *Downloader) Items() []types.DownloadItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.DownloadItem, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, cloneItem(d.items[id].item))
	}
	return out
}

func cloneItem(it types.DownloadItem) types.DownloadItem {
	it.Chunks = append([]types.ChunkInfo(nil), it.Chunks...)
	return it
}

// FetchRange reads bytes [start, start+len(dst)) of link into dst, reporting each read through onBytes.
// The server must answer 206 with the matching Content-Range; a plain 200 is accepted only
// when dst covers the whole body.
func (c *Client) FetchRange(ctx context.Context, link string, start int64, dst []byte, onBytes func(int)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrDownloadCanceled, err)
	}
	end := start + int64(len(dst)) - 1
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("failed to create range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.transfer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", types.ErrDownloadCanceled, ctx.Err())
		}
		return fmt.Errorf("failed to send range request: %w", err)
	}
	defer tool.DrainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		prefix := fmt.Sprintf("bytes %d-%d/", start, end)
		if cr := resp.Header.Get("Content-Range"); len(cr) < len(prefix) || cr[:len(prefix)] != prefix {
			return fmt.Errorf("%w: content-range %q, want %s*", types.ErrUnexpectedRangeBody, cr, prefix)
		}
	case http.StatusOK:
		if start != 0 || resp.ContentLength != int64(len(dst)) {
			return fmt.Errorf("%w: server ignored range %d-%d", types.ErrUnexpectedRangeBody, start, end)
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return statusError("range request", resp, body)
	}

	off := 0
	for off < len(dst) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrDownloadCanceled, err)
		}
		n, err := resp.Body.Read(dst[off:])
		if n > 0 {
			off += n
			if onBytes != nil {
				onBytes(n)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", types.ErrDownloadCanceled, ctx.Err())
			}
			return fmt.Errorf("failed to read range body: %w", err)
		}
	}
	if off != len(dst) {
		return fmt.Errorf("%w: got %d of %d bytes", types.ErrUnexpectedRangeBody, off, len(dst))
	}
	return nil
}
