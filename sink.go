package mocaca

import (
	"context"
	"net/http"
	"strconv"

	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/mocaca/mocaca/internal/httpparser"
)

// responseSink is where a Ctx sends its response. The gnet connection and
// net/http's ResponseWriter both sit behind it so the same handlers serve
// the event loop and httptest.
type responseSink interface {
	// writeHead sends the status line and headers. contentLength < 0 omits
	// Content-Length.
	writeHead(status int, header Header, contentLength int64, closeConn bool) error
	// write sends part of the body. It returns once p may be reused.
	write(p []byte) error
	// flush pushes out anything still buffered.
	flush() error
}

// connSink writes to a gnet connection from a worker goroutine. Each write
// waits for the event loop to take the bytes, which keeps at most one chunk
// in flight per connection.
type connSink struct {
	conn gnet.Conn
	ctx  context.Context
	head *bytebufferpool.ByteBuffer
	done chan error
}

func newConnSink(ctx context.Context, c gnet.Conn) *connSink {
	return &connSink{
		conn: c,
		ctx:  ctx,
		done: make(chan error, 1),
	}
}

func (s *connSink) writeHead(status int, header Header, contentLength int64, closeConn bool) error {
	s.head = bytebufferpool.Get()
	s.head.B = httpparser.AppendHead(s.head.B, httpparser.Head{
		Status:        status,
		Header:        header.sanitized(),
		ContentLength: contentLength,
		Close:         closeConn,
	})
	return nil
}

// write sends the pending head together with the first body chunk.
func (s *connSink) write(p []byte) error {
	if s.head == nil {
		return s.send(p)
	}
	head := s.head
	s.head = nil
	head.B = append(head.B, p...)
	err := s.send(head.B)
	if err == nil {
		bytebufferpool.Put(head)
	}
	return err
}

func (s *connSink) flush() error {
	if s.head == nil {
		return nil
	}
	head := s.head
	s.head = nil
	err := s.send(head.B)
	if err == nil {
		bytebufferpool.Put(head)
	}
	return err
}

// send hands p to the event loop and blocks until it was written or the
// connection went away. After a failed send p is not reused by the caller's
// pool since the loop may still reference it.
func (s *connSink) send(p []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	err := s.conn.AsyncWrite(p, func(_ gnet.Conn, err error) error {
		s.done <- err
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-s.done:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// writerSink adapts an http.ResponseWriter.
type writerSink struct {
	w   http.ResponseWriter
	ctx context.Context
}

func (s *writerSink) writeHead(status int, header Header, contentLength int64, _ bool) error {
	dst := s.w.Header()
	for k, vv := range header.sanitized() {
		dst[k] = vv
	}
	if contentLength >= 0 {
		dst.Set(HeaderContentLength, strconv.FormatInt(contentLength, 10))
	}
	s.w.WriteHeader(status)
	return nil
}

func (s *writerSink) write(p []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	_, err := s.w.Write(p)
	return err
}

func (s *writerSink) flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
