package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/moyoez/localvault/tool"
)

// Reaper removes session directories that saw no chunk for longer than maxAge.
type Reaper struct {
	tempRoot string
	maxAge   time.Duration
	sessions *Sessions
	now      func() time.Time

	// OnAbandoned, when set, is called for every removed session.
	OnAbandoned func(uploadID string)
}

func NewReaper(tempRoot string, maxAge time.Duration, sessions *Sessions) *Reaper {
	if maxAge <= 0 {
		maxAge = DefaultSessionTTL
	}
	return &Reaper{
		tempRoot: tempRoot,
		maxAge:   maxAge,
		sessions: sessions,
		now:      time.Now,
	}
}

// Sweep removes idle session directories and returns how many were removed.
// A session's age is the newest modification time of its directory or any chunk in it.
func (r *Reaper) Sweep() (int, error) {
	entries, err := os.ReadDir(r.tempRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp dir: %w", err)
	}

	cutoff := r.now().Add(-r.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		dir := filepath.Join(r.tempRoot, id)
		last, err := lastActivity(dir)
		if err != nil {
			tool.DefaultLogger.Warnf("[Reaper] Failed to inspect %s: %v", dir, err)
			continue
		}
		if last.After(cutoff) {
			continue
		}
		if !r.remove(id, dir, cutoff) {
			continue
		}
		removed++
		tool.DefaultLogger.Infof("[Reaper] Removed abandoned upload %s (idle since %s)", id, last.Format(time.RFC3339))
		if r.OnAbandoned != nil {
			r.OnAbandoned(id)
		}
	}
	return removed, nil
}

// remove deletes dir unless its session is being finalized. The claim is taken before the
// activity check is repeated, so a chunk that landed since the first look keeps the session.
func (r *Reaper) remove(id, dir string, cutoff time.Time) bool {
	if r.sessions == nil {
		if err := os.RemoveAll(dir); err != nil {
			tool.DefaultLogger.Warnf("[Reaper] Failed to remove %s: %v", dir, err)
			return false
		}
		return true
	}
	if !r.sessions.TryAbandon(id) {
		return false
	}
	if last, err := lastActivity(dir); err != nil || last.After(cutoff) {
		r.sessions.EndAbandon(id, false)
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		tool.DefaultLogger.Warnf("[Reaper] Failed to remove %s: %v", dir, err)
		r.sessions.EndAbandon(id, false)
		return false
	}
	r.sessions.EndAbandon(id, true)
	return true
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(); err != nil {
				tool.DefaultLogger.Errorf("[Reaper] %v", err)
			}
		}
	}
}

func lastActivity(dir string) (time.Time, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	last := info.ModTime()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(last) {
			last = fi.ModTime()
		}
	}
	return last, nil
}
