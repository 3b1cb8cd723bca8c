package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocaca/mocaca"
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

func newWithClock() (*Storage, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(0)
	s.now = clock.Now
	return s, clock
}

// TestNew verifies that New creates a Storage instance with the expected properties
func TestNew(t *testing.T) {
	s1 := New(0)
	require.NotNil(t, s1, "New(0) returned nil")
	assert.Nil(t, s1.cleanupTicker, "New(0) should not create a cleanup ticker")
	assert.Nil(t, s1.stopCleanup, "New(0) should not create a stop channel")

	s2 := New(time.Second)
	require.NotNil(t, s2, "New(time.Second) returned nil")
	assert.NotNil(t, s2.cleanupTicker, "New(time.Second) should create a cleanup ticker")
	assert.NotNil(t, s2.stopCleanup, "New(time.Second) should create a stop channel")

	assert.NoError(t, s2.Close())
}

// TestSetGet tests storing and reading values
func TestSetGet(t *testing.T) {
	s, _ := newWithClock()
	ctx := context.Background()

	value := []byte(`{"user_id":1}`)
	require.NoError(t, s.Set(ctx, "token", value, time.Hour))

	value[0] = 'X'
	got, err := s.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":1}`, string(got), "Set must copy the caller's slice")

	got[0] = 'Y'
	again, err := s.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":1}`, string(again), "Get must return a copy")

	_, err = s.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, mocaca.ErrNotFound)
}

// TestExpiry tests that items vanish once their ttl has passed
func TestExpiry(t *testing.T) {
	s, clock := newWithClock()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session", []byte("a"), time.Minute))
	require.NoError(t, s.Set(ctx, "forever", []byte("b"), 0))

	clock.Advance(59 * time.Second)
	ok, err := s.Has(ctx, "session")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	ok, err = s.Has(ctx, "session")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, "session")
	assert.ErrorIs(t, err, mocaca.ErrNotFound)
	assert.Equal(t, 1, s.Len(), "expired item should be dropped on read")

	got, err := s.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}

// TestSetRefreshesExpiry tests that overwriting a key resets its ttl
func TestSetRefreshesExpiry(t *testing.T) {
	s, clock := newWithClock()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("1"), time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, s.Set(ctx, "k", []byte("2"), time.Minute))
	clock.Advance(50 * time.Second)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
}

// TestDelete tests the Delete method
func TestDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	_ = s.Set(ctx, "key1", []byte("value1"), 0)
	assert.NoError(t, s.Delete(ctx, "key1"))

	ok, err := s.Has(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, ok, "key1 was not deleted")

	assert.NoError(t, s.Delete(ctx, "nonexistent"), "Delete for nonexistent key returned an error")
}

// TestClear tests the Clear method
func TestClear(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	_ = s.Set(ctx, "key1", []byte("value1"), 0)
	_ = s.Set(ctx, "key2", []byte("value2"), 0)

	assert.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len(), "Clear did not remove all items")
}

// TestClose tests that Close stops the sweep and tolerates repeated calls
func TestClose(t *testing.T) {
	s := New(time.Second)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	select {
	case _, open := <-s.stopCleanup:
		assert.False(t, open, "stopCleanup should be closed")
	default:
		t.Fatal("stopCleanup is still open after Close")
	}
}

// TestCleanup tests the background sweep
func TestCleanup(t *testing.T) {
	s := New(20 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "key1", []byte("value1"), 5*time.Millisecond)
	_ = s.Set(ctx, "key2", []byte("value2"), 5*time.Millisecond)
	_ = s.Set(ctx, "key3", []byte("value3"), time.Hour)

	require.Eventually(t, func() bool { return s.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ok, err := s.Has(ctx, "key3")
	require.NoError(t, err)
	assert.True(t, ok, "key3 was cleaned up but should not have been")
}

// TestConcurrentAccess tests the storage under parallel readers and writers
func TestConcurrentAccess(t *testing.T) {
	s := New(time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.Set(ctx, "shared", []byte("v"), time.Millisecond)
				_, _ = s.Get(ctx, "shared")
				_, _ = s.Has(ctx, "shared")
			}
		}()
	}
	wg.Wait()
}
