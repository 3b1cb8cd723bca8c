// Package memory provides an in-memory mocaca.Storage with per-key expiry.
// It holds the login sessions of a single process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mocaca/mocaca"
)

type item struct {
	value    []byte
	expireAt time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && now.After(it.expireAt)
}

// Storage implements mocaca.Storage using a map guarded by a RWMutex.
// Expired items are invisible to readers and are removed by a background
// sweep when a cleanup interval is configured.
type Storage struct {
	items map[string]item
	mu    sync.RWMutex

	now func() time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

var _ mocaca.Storage = (*Storage)(nil)

// New creates a memory storage. If cleanupInterval is zero or negative,
// automatic cleanup is disabled and expired items are only dropped when
// they are read.
func New(cleanupInterval time.Duration) *Storage {
	s := &Storage{
		items: make(map[string]item),
		now:   time.Now,
	}

	if cleanupInterval > 0 {
		s.cleanupTicker = time.NewTicker(cleanupInterval)
		s.stopCleanup = make(chan struct{})

		go func() {
			for {
				select {
				case <-s.cleanupTicker.C:
					s.cleanup()
				case <-s.stopCleanup:
					s.cleanupTicker.Stop()
					return
				}
			}
		}()
	}

	return s
}

// Get returns a copy of the value stored under key, or mocaca.ErrNotFound
// if the key is missing or expired.
func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	it, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		return nil, mocaca.ErrNotFound
	}
	if it.expired(s.now()) {
		s.deleteExpired(key)
		return nil, mocaca.ErrNotFound
	}

	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Set stores a copy of value under key. A positive ttl makes the item
// expire after that duration; otherwise it never expires.
func (s *Storage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	var expireAt time.Time
	if ttl > 0 {
		expireAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = item{value: buf, expireAt: expireAt}
	s.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Clear removes every key.
func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]item)
	s.mu.Unlock()
	return nil
}

// Has reports whether key exists and has not expired.
func (s *Storage) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	it, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}
	if it.expired(s.now()) {
		s.deleteExpired(key)
		return false, nil
	}
	return true, nil
}

// Len returns the number of stored items, including expired ones that have
// not been swept yet.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (s *Storage) Close() error {
	if s.cleanupTicker != nil {
		s.stopOnce.Do(func() { close(s.stopCleanup) })
	}
	return nil
}

// deleteExpired removes key if it is still expired under the write lock;
// a concurrent Set may have replaced it.
func (s *Storage) deleteExpired(key string) {
	s.mu.Lock()
	if it, ok := s.items[key]; ok && it.expired(s.now()) {
		delete(s.items, key)
	}
	s.mu.Unlock()
}

func (s *Storage) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
		}
	}
}
