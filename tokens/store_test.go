package tokens

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localvault/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memPersister struct {
	mu    sync.Mutex
	saved map[string]types.TokenRecord
	saves int
	err   error
}

func (m *memPersister) Load() (map[string]types.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]types.TokenRecord{}
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memPersister) Save(t map[string]types.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.saved = t
	return nil
}

func newClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func TestIssueAndPeekUntilExpiry(t *testing.T) {
	clock := newClock()
	store := NewStore(nil, WithClock(clock.Now))

	token, err := store.Issue("docs/a.pdf")
	require.NoError(t, err)
	assert.Len(t, token, 40)

	path, ok := store.Peek(token)
	require.True(t, ok)
	assert.Equal(t, "docs/a.pdf", path)

	// multi-use until expiry
	clock.Advance(DefaultTTL - time.Millisecond)
	path, ok = store.Peek(token)
	require.True(t, ok)
	assert.Equal(t, "docs/a.pdf", path)

	clock.Advance(time.Millisecond)
	_, ok = store.Peek(token)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len(), "expired token is evicted on lookup")
}

func TestConsumeDeletes(t *testing.T) {
	store := NewStore(nil, WithClock(newClock().Now))
	token, err := store.Issue("a.txt")
	require.NoError(t, err)

	path, ok := store.Consume(token)
	require.True(t, ok)
	assert.Equal(t, "a.txt", path)

	_, ok = store.Consume(token)
	assert.False(t, ok)
	_, ok = store.Peek("")
	assert.False(t, ok)
}

func TestSweepRemovesFromPersistedStorage(t *testing.T) {
	clock := newClock()
	p := &memPersister{}
	store := NewStore(p, WithClock(clock.Now), WithTTL(time.Minute))

	old, err := store.Issue("old.txt")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	fresh, err := store.Issue("fresh.txt")
	require.NoError(t, err)
	require.Len(t, p.saved, 2)

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.NotContains(t, p.saved, old)
	assert.Contains(t, p.saved, fresh)

	assert.Equal(t, 0, store.Sweep())
}

func TestReloadDropsExpired(t *testing.T) {
	clock := newClock()
	p := &memPersister{saved: map[string]types.TokenRecord{
		"live": {FilePath: "a", Expires: clock.Now().Add(time.Minute).UnixMilli()},
		"dead": {FilePath: "b", Expires: clock.Now().Add(-time.Minute).UnixMilli()},
	}}
	store := NewStore(p, WithClock(clock.Now))

	assert.Equal(t, 1, store.Len())
	path, ok := store.Peek("live")
	require.True(t, ok)
	assert.Equal(t, "a", path)
	assert.NotContains(t, p.saved, "dead")
}

func TestPersistErrorsAreSwallowed(t *testing.T) {
	p := &memPersister{err: errors.New("disk full")}
	store := NewStore(p, WithClock(newClock().Now))

	token, err := store.Issue("a.txt")
	require.NoError(t, err)
	path, ok := store.Peek(token)
	require.True(t, ok)
	assert.Equal(t, "a.txt", path)
	assert.Equal(t, 1, p.saves)
}

func TestGeneratorFailure(t *testing.T) {
	store := NewStore(nil, WithGenerator(func() (string, error) {
		return "", errors.New("no entropy")
	}))
	_, err := store.Issue("a.txt")
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestConcurrentIssue(t *testing.T) {
	p := &memPersister{}
	store := NewStore(p)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Issue(fmt.Sprintf("f%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, store.Len())
	assert.Len(t, p.saved, 50, "last persisted snapshot holds every token")
}

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download-tokens.json")
	p := NewFilePersister(path)

	empty, err := p.Load()
	require.NoError(t, err)
	assert.Empty(t, empty)

	clock := newClock()
	store := NewStore(p, WithClock(clock.Now))
	token, err := store.Issue("photos/cat.jpg")
	require.NoError(t, err)

	reloaded := NewStore(NewFilePersister(path), WithClock(clock.Now))
	got, ok := reloaded.Peek(token)
	require.True(t, ok)
	assert.Equal(t, "photos/cat.jpg", got)

	raw, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultTTL).UnixMilli(), raw[token].Expires)
}

func TestBadgerPersister(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	p := NewBadgerPersister(db)
	require.NoError(t, p.Save(map[string]types.TokenRecord{
		"a": {FilePath: "x", Expires: 10},
		"b": {FilePath: "y", Expires: 20},
	}))
	require.NoError(t, p.Save(map[string]types.TokenRecord{
		"b": {FilePath: "y", Expires: 30},
	}))

	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]types.TokenRecord{"b": {FilePath: "y", Expires: 30}}, loaded)
}
