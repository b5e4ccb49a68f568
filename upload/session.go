// Package upload receives chunked uploads into a temp area and assembles them into the storage root.
package upload

import (
	"regexp"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/bits-and-blooms/bitset"

	"github.com/moyoez/localvault/types"
)

const DefaultSessionTTL = 24 * time.Hour

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidUploadID reports whether id can be used as a temp directory name.
func ValidUploadID(id string) bool {
	return uploadIDPattern.MatchString(id) && id != "." && id != ".."
}

// Session is the server side bookkeeping for one upload. The chunk files on disk stay authoritative;
// a session forgotten by the registry (restart, TTL) can still be finalized.
type Session struct {
	ID        string
	State     types.SessionState
	Received  *bitset.BitSet
	Bytes     int64
	CreatedAt time.Time
	UpdatedAt time.Time

	// set while the reaper removes the chunk directory
	reaping bool
}

// Sessions tracks upload sessions in a TTL cache.
type Sessions struct {
	mu    sync.Mutex
	cache *ttlworker.Cache[string, *Session]
	now   func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		cache: ttlworker.NewCache[string, *Session](ttl),
		now:   time.Now,
	}
}

// getOrOpen returns the live session for id, opening a fresh one when there is none
// or the previous one already ended. Caller holds mu.
func (s *Sessions) getOrOpen(id string) *Session {
	sess := s.cache.Get(id)
	if sess == nil || sess.State == types.SessionFinalized || sess.State == types.SessionAbandoned {
		now := s.now()
		sess = &Session{
			ID:        id,
			State:     types.SessionOpen,
			Received:  bitset.New(0),
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.cache.Set(id, sess)
	}
	return sess
}

// BeginChunk fails with ErrSessionBusy while the session is being finalized.
func (s *Sessions) BeginChunk(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.cache.Get(id); sess != nil && (sess.State == types.SessionFinalizing || sess.reaping) {
		return types.ErrSessionBusy
	}
	s.getOrOpen(id)
	return nil
}

// MarkReceived records that chunk index was stored with n bytes.
func (s *Sessions) MarkReceived(id string, index int, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrOpen(id)
	if !sess.Received.Test(uint(index)) {
		sess.Bytes += n
	}
	sess.Received.Set(uint(index))
	sess.State = types.SessionReceiving
	sess.UpdatedAt = s.now()
}

// BeginFinalize moves the session to finalizing. A second concurrent finalize, or one racing
// the reaper, gets ErrSessionBusy.
func (s *Sessions) BeginFinalize(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.cache.Get(id); sess != nil && sess.reaping {
		return types.ErrSessionBusy
	}
	sess := s.getOrOpen(id)
	if sess.State == types.SessionFinalizing {
		return types.ErrSessionBusy
	}
	sess.State = types.SessionFinalizing
	sess.UpdatedAt = s.now()
	return nil
}

// EndFinalize moves a finalizing session to finalized, or back to receiving when it failed.
func (s *Sessions) EndFinalize(id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.cache.Get(id)
	if sess == nil {
		return
	}
	if ok {
		sess.State = types.SessionFinalized
	} else {
		sess.State = types.SessionReceiving
	}
	sess.UpdatedAt = s.now()
}

// TryAbandon claims id for removal. It fails when the session is being finalized; otherwise the
// session is marked abandoned and refuses chunks and finalize until EndAbandon.
func (s *Sessions) TryAbandon(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.cache.Get(id)
	if sess != nil && (sess.State == types.SessionFinalizing || sess.reaping) {
		return false
	}
	if sess == nil {
		// chunks on disk outlived the registry entry
		sess = s.getOrOpen(id)
	}
	sess.State = types.SessionAbandoned
	sess.reaping = true
	sess.UpdatedAt = s.now()
	return true
}

// EndAbandon releases a claim taken by TryAbandon. When the chunks were not removed the session
// goes back to receiving.
func (s *Sessions) EndAbandon(id string, removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.cache.Get(id)
	if sess == nil {
		return
	}
	sess.reaping = false
	if !removed {
		sess.State = types.SessionReceiving
	}
	sess.UpdatedAt = s.now()
}

// Status describes a known session. Missing chunks are reported up to the highest index seen.
func (s *Sessions) Status(id string) (types.UploadStatusResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.cache.Get(id)
	if sess == nil {
		return types.UploadStatusResponse{}, false
	}
	resp := types.UploadStatusResponse{
		UploadID:       id,
		State:          sess.State,
		ChunksReceived: int(sess.Received.Count()),
		BytesReceived:  sess.Bytes,
		UpdatedAt:      sess.UpdatedAt,
	}
	if sess.Received.Any() {
		resp.MissingChunks = missingIndices(sess.Received, highestSet(sess.Received)+1)
	}
	return resp, true
}

// missingIndices lists the clear bits below n.
func missingIndices(b *bitset.BitSet, n uint) []int {
	var missing []int
	for i, ok := b.NextClear(0); ok && i < n; i, ok = b.NextClear(i + 1) {
		missing = append(missing, int(i))
	}
	return missing
}

func highestSet(b *bitset.BitSet) uint {
	var last uint
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		last = i
	}
	return last
}
