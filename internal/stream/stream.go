// Package stream serves files with byte-range support, reusing open handles
// through a filecache.HandleCache.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/filebuffer"
	"github.com/mocaca/mocaca/internal/filecache"
	"github.com/mocaca/mocaca/internal/httprange"
	"github.com/mocaca/mocaca/internal/media"
	"github.com/mocaca/mocaca/log"
)

// DefaultCacheControl is sent with every file response.
const DefaultCacheControl = "public, max-age=3600"

// errStale means the cached handle no longer matches the file on disk.
var errStale = errors.New("stream: cached handle is stale")

// Files is the file storage the server reads from. media.Store implements
// it.
type Files interface {
	Lookup(rel string) (media.Entry, error)
	Open(abs string) (filecache.Handle, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for fallbacks and failures.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithContentCache keeps files small enough for bodies in memory. Requests
// for them are answered without touching the handle cache.
func WithContentCache(bodies *filecache.ContentCache) Option {
	return func(s *Server) {
		s.bodies = bodies
	}
}

// WithCacheControl overrides the Cache-Control header value.
func WithCacheControl(v string) Option {
	return func(s *Server) {
		s.cacheControl = v
	}
}

// Server answers file requests. Both full and partial responses read through
// the shared handle cache; a fresh handle is used only when the cached one
// fails.
type Server struct {
	files        Files
	cache        *filecache.HandleCache
	bodies       *filecache.ContentCache
	opens        singleflight.Group
	loads        singleflight.Group
	logger       *log.Logger
	cacheControl string
}

// New creates a Server reading from files and caching handles in cache.
func New(files Files, cache *filecache.HandleCache, opts ...Option) *Server {
	s := &Server{
		files:        files,
		cache:        cache,
		logger:       log.Default(),
		cacheControl: DefaultCacheControl,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves the path captured by the route's wildcard segment.
func (s *Server) Handler() mocaca.Handler {
	return func(c *mocaca.Ctx) {
		s.Serve(c, c.Param("*"))
	}
}

// ETag returns the validator for e.
func ETag(e media.Entry) string {
	return `"` + strconv.FormatInt(e.Size, 10) + "-" + strconv.FormatInt(e.ModTime.UnixNano(), 10) + `"`
}

// Serve answers the request in c with the file at rel.
func (s *Server) Serve(c *mocaca.Ctx, rel string) {
	entry, err := s.files.Lookup(rel)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			c.Error(mocaca.NewHttpError(mocaca.StatusNotFound, "file not found"))
			return
		}
		c.Error(mocaca.NewHttpErrorWithError(mocaca.StatusInternalServerError, "", err))
		return
	}

	etag := ETag(entry)
	c.Set(mocaca.HeaderAcceptRanges, "bytes")
	c.Set(mocaca.HeaderCacheControl, s.cacheControl)
	c.Set(mocaca.HeaderETag, etag)

	if inm := c.Get(mocaca.HeaderIfNoneMatch); inm != "" && inm == etag {
		c.Status(mocaca.StatusNotModified)
		return
	}

	var (
		span    httprange.Span
		partial bool
	)
	if header := c.Get(mocaca.HeaderRange); header != "" {
		span, err = httprange.Resolve(header, entry.Size)
		switch {
		case errors.Is(err, httprange.ErrOutOfBounds):
			c.Set(mocaca.HeaderContentRange, httprange.Unsatisfiable(entry.Size))
			c.Status(mocaca.StatusRequestedRangeNotSatisfiable)
			return
		case err != nil:
			s.logger.Debug().Str("range", header).Str("path", entry.Rel).Msg("stream: malformed range, sending full content")
		default:
			partial = true
		}
	}

	if s.bodies != nil && entry.Size <= s.bodies.MaxEntrySize() {
		data, err := s.body(entry)
		if err == nil {
			s.serveBody(c, entry, data, span, partial)
			return
		}
		s.logger.Warn().Err(err).Str("path", entry.Rel).Msg("stream: loading body failed")
	}

	if partial {
		s.servePartial(c, entry, span)
		return
	}
	s.serveFull(c, entry)
}

// body returns the content of a small file from the body cache, reading
// and caching it on a miss.
func (s *Server) body(entry media.Entry) ([]byte, error) {
	if b, ok := s.bodies.Get(entry.Path, entry.Size, entry.ModTime); ok {
		return b.Data, nil
	}

	v, err, _ := s.loads.Do(entry.Path, func() (interface{}, error) {
		h, err := s.files.Open(entry.Path)
		if err != nil {
			return nil, err
		}
		defer h.Close()

		if err := checkFresh(h, entry); err != nil {
			return nil, err
		}
		data := make([]byte, entry.Size)
		if _, err := io.ReadFull(h, data); err != nil {
			return nil, xerrors.Errorf("read %q: %w", entry.Path, err)
		}
		s.bodies.Set(entry.Path, data, entry.ModTime)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Server) serveBody(c *mocaca.Ctx, entry media.Entry, data []byte, span httprange.Span, partial bool) {
	c.Set(mocaca.HeaderContentType, media.ContentType(entry.Path))
	if partial {
		data = data[span.Start : span.End+1]
		c.Status(mocaca.StatusPartialContent)
		c.Set(mocaca.HeaderContentRange, span.ContentRange(entry.Size))
	} else {
		c.Status(mocaca.StatusOK)
	}
	if err := c.Stream(int64(len(data)), bytes.NewReader(data)); err != nil && !isCanceled(c.Context(), err) {
		s.logger.Warn().Err(err).Str("path", entry.Rel).Msg("stream: response aborted")
	}
}

// serveFull streams the whole file from the cached handle. The handle lock
// is taken per chunk, so a long download does not block range requests on
// the same file. If the cached handle fails before the head is sent it is
// evicted and the file is served from a fresh handle.
func (s *Server) serveFull(c *mocaca.Ctx, entry media.Entry) {
	var (
		lease *filecache.Lease
		err   error
	)
	for attempt := 0; attempt < 2; attempt++ {
		lease, err = s.acquire(entry.Path)
		if err != nil {
			break
		}
		err = lease.Do(func(h filecache.Handle) error {
			return checkFresh(h, entry)
		})
		if err == nil {
			break
		}
		lease.Evict()
		lease.Release()
		if !errors.Is(err, errStale) {
			break
		}
	}

	// the first chunk is read before the head goes out, so a broken handle
	// can still be answered from a fresh one
	r := &leaseReader{lease: lease}
	first := filebuffer.GetChunk()
	defer filebuffer.ReleaseChunk(first)
	n := 0
	if err == nil {
		want := int64(len(*first))
		if entry.Size < want {
			want = entry.Size
		}
		n, err = io.ReadFull(r, (*first)[:want])
		if err != nil {
			lease.Evict()
			lease.Release()
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", entry.Rel).Msg("stream: cached read failed, reading uncached")
		s.serveUncached(c, entry)
		return
	}
	defer lease.Release()

	c.Status(mocaca.StatusOK)
	c.Set(mocaca.HeaderContentType, media.ContentType(entry.Path))
	err = c.Stream(entry.Size, io.MultiReader(bytes.NewReader((*first)[:n]), r))
	if r.err != nil {
		lease.Evict()
	}
	if err != nil && !isCanceled(c.Context(), err) {
		s.logger.Warn().Err(err).Str("path", entry.Rel).Msg("stream: full response aborted")
	}
}

// serveUncached streams the whole file from a handle opened for this
// request alone.
func (s *Server) serveUncached(c *mocaca.Ctx, entry media.Entry) {
	h, err := s.files.Open(entry.Path)
	if err != nil {
		c.Error(mocaca.NewHttpErrorWithError(mocaca.StatusInternalServerError, "", err))
		return
	}
	defer func() {
		if err := h.Close(); err != nil {
			s.logger.Warn().Err(err).Str("path", entry.Path).Msg("stream: close failed")
		}
	}()

	c.Status(mocaca.StatusOK)
	c.Set(mocaca.HeaderContentType, media.ContentType(entry.Path))
	if err := c.Stream(entry.Size, h); err != nil && !isCanceled(c.Context(), err) {
		s.logger.Warn().Err(err).Str("path", entry.Rel).Msg("stream: full response aborted")
	}
}

// leaseReader reads a cached handle from its own offset. Each Read seeks and
// reads under the handle lock, so other leases may use the handle between
// calls. The first failure is kept in err.
type leaseReader struct {
	lease *filecache.Lease
	off   int64
	err   error
}

func (r *leaseReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	var n int
	err := r.lease.Do(func(h filecache.Handle) error {
		if _, err := h.Seek(r.off, io.SeekStart); err != nil {
			return xerrors.Errorf("seek to %d: %w", r.off, err)
		}
		var err error
		n, err = h.Read(p)
		return err
	})
	r.off += int64(n)
	if err != nil {
		r.err = err
	}
	return n, err
}

func (s *Server) servePartial(c *mocaca.Ctx, entry media.Entry, span httprange.Span) {
	ctx := c.Context()

	var (
		buf *bytebufferpool.ByteBuffer
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		buf, err = s.readCached(ctx, entry, span)
		if !errors.Is(err, errStale) {
			break
		}
	}

	switch {
	case err == nil:
	case isCanceled(ctx, err):
		return
	default:
		s.logger.Warn().Err(err).Str("path", entry.Rel).Str("range", c.Get(mocaca.HeaderRange)).Msg("stream: cached read failed, sending full content")
		s.serveUncached(c, entry)
		return
	}
	defer filebuffer.ReleaseBuffer(buf)

	got := span
	got.End = span.Start + int64(buf.Len()) - 1

	c.Status(mocaca.StatusPartialContent)
	c.Set(mocaca.HeaderContentType, media.ContentType(entry.Path))
	c.Set(mocaca.HeaderContentRange, got.ContentRange(entry.Size))
	if err := c.Stream(int64(buf.Len()), bytes.NewReader(buf.B)); err != nil && !isCanceled(ctx, err) {
		s.logger.Warn().Err(err).Str("path", entry.Rel).Msg("stream: partial response aborted")
	}
}

// readCached reads span from the cached handle for entry. A handle that
// fails to seek or read is evicted before the error is returned. A client
// disconnect leaves the handle cached.
func (s *Server) readCached(ctx context.Context, entry media.Entry, span httprange.Span) (*bytebufferpool.ByteBuffer, error) {
	lease, err := s.acquire(entry.Path)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	buf := filebuffer.GetBuffer()
	err = lease.Do(func(h filecache.Handle) error {
		if err := checkFresh(h, entry); err != nil {
			return err
		}
		return readSpan(ctx, h, span, buf)
	})
	if err == nil && buf.Len() == 0 {
		err = errStale
	}
	if err != nil {
		filebuffer.ReleaseBuffer(buf)
		if !isCanceled(ctx, err) {
			lease.Evict()
		}
		return nil, err
	}
	return buf, nil
}

// acquire returns a lease on the cached handle for path, opening and
// caching one on a miss. Concurrent misses on one path share a single open.
func (s *Server) acquire(path string) (*filecache.Lease, error) {
	if lease, ok := s.cache.Get(path); ok {
		return lease, nil
	}

	// only the caller that runs the open gets the lease from Put
	var lease *filecache.Lease
	_, err, _ := s.opens.Do(path, func() (interface{}, error) {
		h, err := s.files.Open(path)
		if err != nil {
			return nil, err
		}
		lease, err = s.cache.Put(path, h)
		return nil, err
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to open %q: %w", path, err)
	}
	if lease != nil {
		return lease, nil
	}

	if lease, ok := s.cache.Join(path); ok {
		return lease, nil
	}
	// evicted between the shared open and our Join
	h, err := s.files.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %q: %w", path, err)
	}
	return s.cache.Put(path, h)
}

// checkFresh compares the open handle against the file Lookup found.
func checkFresh(h filecache.Handle, entry media.Entry) error {
	fi, err := h.Stat()
	if err != nil {
		return xerrors.Errorf("stat: %w", err)
	}
	if fi.Size() != entry.Size || !fi.ModTime().Equal(entry.ModTime) {
		return errStale
	}
	return nil
}

// readSpan seeks to span.Start and reads up to span.Length() bytes into buf
// in chunks of at most filebuffer.ChunkSize. Reaching EOF early is not an
// error; buf then holds fewer bytes.
func readSpan(ctx context.Context, h filecache.Handle, span httprange.Span, buf *bytebufferpool.ByteBuffer) error {
	if _, err := h.Seek(span.Start, io.SeekStart); err != nil {
		return xerrors.Errorf("seek to %d: %w", span.Start, err)
	}

	chunk := filebuffer.GetChunk()
	defer filebuffer.ReleaseChunk(chunk)

	remaining := span.Length()
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := int64(len(*chunk))
		if remaining < want {
			want = remaining
		}
		n, err := h.Read((*chunk)[:want])
		if n > 0 {
			_, _ = buf.Write((*chunk)[:n])
			remaining -= int64(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("read at %d: %w", span.Start+span.Length()-remaining, err)
		}
	}
	return nil
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
