package filecache

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// Body is a file held in memory.
type Body struct {
	Data    []byte
	ModTime time.Time
}

// Size returns the number of bytes held.
func (b *Body) Size() int64 {
	return int64(len(b.Data))
}

// ContentCache keeps small files in memory. It is bounded both by total
// bytes and by item count and drops the least recently used body first.
type ContentCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU
	maxSize  int64
	size     int64
	maxEntry int64
}

// NewContentCache creates a ContentCache holding at most maxSize bytes in at
// most maxItems bodies. Bodies larger than maxSize/8 are never cached.
func NewContentCache(maxSize int64, maxItems int) (*ContentCache, error) {
	if maxSize <= 0 {
		return nil, errors.New("filecache: content cache size must be positive")
	}

	c := &ContentCache{maxSize: maxSize, maxEntry: maxSize / 8}
	if c.maxEntry == 0 {
		c.maxEntry = maxSize
	}
	lru, err := simplelru.NewLRU(maxItems, func(_ interface{}, value interface{}) {
		c.size -= value.(*Body).Size()
	})
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// MaxEntrySize returns the largest body Set accepts.
func (c *ContentCache) MaxEntrySize() int64 {
	return c.maxEntry
}

// Get returns the body cached for path if it was taken from a file of the
// given size and modification time. A body that no longer matches is
// dropped.
func (c *ContentCache) Get(path string, size int64, modTime time.Time) (*Body, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(path)
	if !ok {
		return nil, false
	}
	b := v.(*Body)
	if b.Size() != size || !b.ModTime.Equal(modTime) {
		c.lru.Remove(path)
		return nil, false
	}
	return b, true
}

// Set stores a copy of data for path. Data over MaxEntrySize is ignored.
func (c *ContentCache) Set(path string, data []byte, modTime time.Time) {
	if int64(len(data)) > c.maxEntry {
		return
	}
	b := &Body{Data: append([]byte(nil), data...), ModTime: modTime}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(path)
	for c.size+b.Size() > c.maxSize {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
	c.lru.Add(path, b)
	c.size += b.Size()
}

// Remove drops the body for path.
func (c *ContentCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(path)
}

// Clear drops every body.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// Size returns the number of bytes held.
func (c *ContentCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Count returns the number of bodies held.
func (c *ContentCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
