// Package tokens issues short-lived download tokens that map to stored file paths.
package tokens

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Persister stores the whole token table. Save receives a snapshot it may keep.
type Persister interface {
	Load() (map[string]types.TokenRecord, error)
	Save(map[string]types.TokenRecord) error
}

// Store is the in-memory token table. Memory is authoritative: persistence failures are logged, never returned.
type Store struct {
	mu     sync.Mutex
	tokens map[string]types.TokenRecord

	persistMu sync.Mutex
	persister Persister

	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

type Option func(*Store)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGenerator replaces the token generator.
func WithGenerator(gen func() (string, error)) Option {
	return func(s *Store) {
		if gen != nil {
			s.generate = gen
		}
	}
}

// NewStore builds a store and reloads whatever p holds. Entries that already expired are dropped.
// A nil persister keeps tokens in memory only.
func NewStore(p Persister, opts ...Option) *Store {
	s := &Store{
		tokens:    make(map[string]types.TokenRecord),
		persister: p,
		ttl:       DefaultTTL,
		now:       time.Now,
		generate:  tool.GenerateToken,
	}
	for _, opt := range opts {
		opt(s)
	}

	if p != nil {
		loaded, err := p.Load()
		if err != nil {
			tool.DefaultLogger.Warnf("[Token] Failed to load persisted tokens, starting empty: %v", err)
		} else if loaded != nil {
			s.tokens = loaded
		}
	}
	if n := s.Sweep(); n > 0 {
		tool.DefaultLogger.Infof("[Token] Dropped %d expired tokens on load", n)
	}
	return s
}

// Issue creates a token for filePath valid for the store's TTL.
func (s *Store) Issue(filePath string) (string, error) {
	token, err := s.generate()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[token] = types.TokenRecord{
		FilePath: filePath,
		Expires:  s.now().Add(s.ttl).UnixMilli(),
	}
	s.mu.Unlock()

	s.persist()
	tool.DefaultLogger.Debugf("[Token] Issued token for %s", filePath)
	return token, nil
}

// Peek resolves token without consuming it. An expired token is evicted.
func (s *Store) Peek(token string) (string, bool) {
	return s.lookup(token, false)
}

// Consume resolves token and deletes it.
func (s *Store) Consume(token string) (string, bool) {
	return s.lookup(token, true)
}

func (s *Store) lookup(token string, consume bool) (string, bool) {
	if token == "" {
		return "", false
	}
	s.mu.Lock()
	rec, ok := s.tokens[token]
	if !ok {
		s.mu.Unlock()
		return "", false
	}
	if s.expired(rec) {
		delete(s.tokens, token)
		s.mu.Unlock()
		s.persist()
		return "", false
	}
	if consume {
		delete(s.tokens, token)
	}
	s.mu.Unlock()

	if consume {
		s.persist()
	}
	return rec.FilePath, true
}

// Sweep removes every expired token and persists when anything was removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	removed := 0
	for token, rec := range s.tokens {
		if s.expired(rec) {
			delete(s.tokens, token)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.persist()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				tool.DefaultLogger.Debugf("[Token] Swept %d expired tokens", n)
			}
		}
	}
}

// Len returns the number of tokens held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// TTL returns the token lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// expired is true once now reaches the expiry instant. Caller holds mu.
func (s *Store) expired(rec types.TokenRecord) bool {
	return s.now().UnixMilli() >= rec.Expires
}

// persist writes the current table. The snapshot is taken while holding persistMu so
// concurrent writers always finish with the latest state on disk.
func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	snapshot := maps.Clone(s.tokens)
	s.mu.Unlock()

	if err := s.persister.Save(snapshot); err != nil {
		tool.DefaultLogger.Errorf("[Token] Failed to persist tokens: %v", err)
	}
}
