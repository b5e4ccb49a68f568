package transfer

import (
	"github.com/samber/lo"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

// Remove dismisses a download. An in-flight item is cancelled, which aborts every range request.
func (d *Downloader) Remove(id string) bool {
	d.mu.Lock()
	st, ok := d.items[id]
	if ok {
		delete(d.items, id)
		d.order = lo.Without(d.order, id)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	st.cancel()
	tool.DefaultLogger.Debugf("[Download] removed %s", id)
	return true
}

// ClearCompleted dismisses every completed item and returns how many were removed.
func (d *Downloader) ClearCompleted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	d.order = lo.Filter(d.order, func(id string, _ int) bool {
		if d.items[id].item.Status != types.DownloadCompleted {
			return true
		}
		delete(d.items, id)
		removed++
		return false
	})
	return removed
}
