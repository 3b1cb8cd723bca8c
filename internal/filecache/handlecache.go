// Package filecache keeps open file handles around between requests.
package filecache

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/mocaca/mocaca/log"
)

// ErrClosed is returned by Put after the cache has been closed.
var ErrClosed = errors.New("filecache: cache closed")

// Handle is an open, seekable file resource. Once stored in a HandleCache the
// cache owns it and is the only one allowed to close it.
type Handle interface {
	io.Reader
	io.Seeker
	io.Closer
	Stat() (os.FileInfo, error)
}

type entry struct {
	path       string
	handle     Handle
	lastAccess time.Time

	// guarded by HandleCache.mu
	refs    int
	evicted bool
	closed  bool

	// io serializes seek+read on the handle
	io sync.Mutex
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Open      int
}

// Option configures a HandleCache.
type Option func(*HandleCache)

// WithClock overrides the time source used for last-access bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *HandleCache) {
		c.now = now
	}
}

// WithLogger sets the logger used to report close failures.
func WithLogger(l *log.Logger) Option {
	return func(c *HandleCache) {
		c.logger = l
	}
}

// HandleCache maps absolute paths to open handles. It is bounded by capacity,
// keeps entries in recency order, and drops entries idle for longer than the
// idle timeout.
//
// Entries are handed out as leases. An entry evicted while leased stays open
// until its last lease is released, so a handle is never closed under a
// reader.
type HandleCache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU
	idle      time.Duration
	now       func() time.Time
	logger    *log.Logger
	pending   []*entry
	hits      uint64
	misses    uint64
	evictions uint64
	closed    bool
}

// New creates a HandleCache holding at most capacity open handles.
func New(capacity int, idle time.Duration, opts ...Option) (*HandleCache, error) {
	if idle <= 0 {
		return nil, errors.New("filecache: idle timeout must be positive")
	}

	c := &HandleCache{
		idle:   idle,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	lru, err := simplelru.NewLRU(capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// onEvict runs under c.mu whenever the LRU drops an entry, whatever the reason.
func (c *HandleCache) onEvict(_ interface{}, value interface{}) {
	e := value.(*entry)
	e.evicted = true
	c.evictions++
	if e.refs == 0 {
		c.scheduleClose(e)
	}
}

func (c *HandleCache) scheduleClose(e *entry) {
	if e.closed {
		return
	}
	e.closed = true
	c.pending = append(c.pending, e)
}

// unlock releases c.mu and then closes handles queued while it was held.
func (c *HandleCache) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, e := range pending {
		if err := e.handle.Close(); err != nil {
			c.logger.Warn().Err(err).Str("path", e.path).Msg("filecache: close failed")
		}
	}
}

// Get returns a lease on the handle cached for path. An entry idle for the
// full timeout is evicted and reported as a miss.
func (c *HandleCache) Get(path string) (*Lease, bool) {
	return c.lookup(path, true)
}

// Join is Get without touching the hit and miss counters. Callers that
// waited on another request's open use it to share the new handle.
func (c *HandleCache) Join(path string) (*Lease, bool) {
	return c.lookup(path, false)
}

func (c *HandleCache) lookup(path string, count bool) (*Lease, bool) {
	c.mu.Lock()
	defer c.unlock()

	now := c.now()
	v, ok := c.lru.Peek(path)
	if ok && now.Sub(v.(*entry).lastAccess) >= c.idle {
		c.lru.Remove(path)
		ok = false
	}
	if !ok {
		if count {
			c.misses++
		}
		return nil, false
	}

	e := v.(*entry)
	c.lru.Get(path)
	e.lastAccess = now
	e.refs++
	if count {
		c.hits++
	}
	return &Lease{cache: c, entry: e}, true
}

// Put stores h for path and returns a lease on it. A handle already cached
// for path is closed first. When the cache is over capacity afterwards the
// least recently used entry is evicted. If the cache is closed, h is closed
// and ErrClosed returned.
func (c *HandleCache) Put(path string, h Handle) (*Lease, error) {
	c.mu.Lock()
	defer c.unlock()

	if c.closed {
		c.pending = append(c.pending, &entry{path: path, handle: h})
		return nil, ErrClosed
	}

	c.lru.Remove(path)

	e := &entry{
		path:       path,
		handle:     h,
		lastAccess: c.now(),
		refs:       1,
	}
	c.lru.Add(path, e)
	return &Lease{cache: c, entry: e}, nil
}

// Remove evicts the entry for path. Removing an absent path does nothing.
func (c *HandleCache) Remove(path string) bool {
	c.mu.Lock()
	defer c.unlock()

	return c.lru.Remove(path)
}

// Sweep evicts every entry whose last access is at least the idle timeout
// before now and returns how many were evicted.
func (c *HandleCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.unlock()

	evicted := 0
	for _, key := range c.lru.Keys() {
		v, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(v.(*entry).lastAccess) >= c.idle {
			c.lru.Remove(key)
			evicted++
		}
	}
	return evicted
}

// Contains reports whether path is cached without touching its recency.
func (c *HandleCache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Contains(path)
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Keys returns the cached paths from least to most recently used.
func (c *HandleCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, k.(string))
	}
	return paths
}

// Stats returns the current counters.
func (c *HandleCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Open:      c.lru.Len(),
	}
}

// Now returns the cache's notion of the current time.
func (c *HandleCache) Now() time.Time {
	return c.now()
}

// Close evicts everything. Leased handles are closed when released. Further
// Puts fail with ErrClosed.
func (c *HandleCache) Close() error {
	c.mu.Lock()
	defer c.unlock()

	c.closed = true
	c.lru.Purge()
	return nil
}

// Lease is one request's claim on a cached handle.
type Lease struct {
	cache *HandleCache
	entry *entry
	once  sync.Once
}

// Path returns the cached path.
func (l *Lease) Path() string {
	return l.entry.path
}

// Do runs fn with exclusive use of the handle. Seek and read calls made by fn
// do not interleave with other leases on the same path.
func (l *Lease) Do(fn func(h Handle) error) error {
	l.entry.io.Lock()
	defer l.entry.io.Unlock()

	return fn(l.entry.handle)
}

// Evict drops the entry behind this lease from the cache, unless it has
// already been replaced by a newer handle for the same path.
func (l *Lease) Evict() {
	c := l.cache
	c.mu.Lock()
	defer c.unlock()

	if v, ok := c.lru.Peek(l.entry.path); ok && v.(*entry) == l.entry {
		c.lru.Remove(l.entry.path)
	}
}

// Release gives the lease back. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		c := l.cache
		c.mu.Lock()
		defer c.unlock()

		e := l.entry
		e.refs--
		if e.evicted {
			if e.refs == 0 {
				c.scheduleClose(e)
			}
			return
		}
		e.lastAccess = c.now()
	})
}
