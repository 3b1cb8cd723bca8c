package mocaca

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/valyala/bytebufferpool"

	"github.com/mocaca/mocaca/internal/filebuffer"
	"github.com/mocaca/mocaca/internal/pool"
	"github.com/mocaca/mocaca/log"
)

// ErrResponseStarted is returned when a handler tries to start a second
// response after the head has been sent.
var ErrResponseStarted = errors.New("mocaca: response already started")

// Ctx represents the context of an HTTP request.
// It contains the request and response data, as well as utilities for handling
// the request and generating a response. It also manages middleware execution.
type Ctx struct {
	Request *Request

	server   *Server
	sink     responseSink
	params   map[string]string
	query    url.Values
	handlers []Handler
	index    int

	statusCode int
	header     Header
	body       *bytebufferpool.ByteBuffer
	headSent   bool
	closeConn  bool
	err        error
	userData   map[string]interface{}
}

var contextPool = pool.NewWithReset(func() *Ctx {
	return &Ctx{
		params:   make(map[string]string, 4),
		handlers: make([]Handler, 0, 8),
		header:   make(Header, 8),
		userData: make(map[string]interface{}, 4),
	}
}, resetCtx)

func acquireCtx(s *Server, req *Request, sink responseSink) *Ctx {
	c := contextPool.Get()
	c.server = s
	c.Request = req
	c.sink = sink
	c.index = -1
	c.statusCode = StatusOK
	c.body = bytebufferpool.Get()
	return c
}

// releaseCtx returns c to the pool. c must not be used afterwards.
func releaseCtx(c *Ctx) {
	contextPool.Put(c)
}

func resetCtx(c *Ctx) bool {
	bytebufferpool.Put(c.body)
	c.body = nil
	c.Request = nil
	c.server = nil
	c.sink = nil
	c.query = nil
	c.err = nil
	c.headSent = false
	c.closeConn = false
	for k := range c.params {
		delete(c.params, k)
	}
	for i := range c.handlers {
		c.handlers[i] = nil
	}
	c.handlers = c.handlers[:0]
	c.header.reset()
	for k := range c.userData {
		delete(c.userData, k)
	}
	return true
}

// Next calls the next middleware or handler in the chain. A handler that
// returns without calling Next ends the chain.
//
//	func MyMiddleware(c *mocaca.Ctx) {
//	    // before the rest of the chain
//	    c.Next()
//	    // after the rest of the chain has completed
//	}
func (c *Ctx) Next() {
	c.index++
	if c.index < len(c.handlers) {
		c.handlers[c.index](c)
	}
}

// Error records err and switches the response to an error status. The
// server's ErrorHandler renders it if nothing was written yet.
func (c *Ctx) Error(err error) *Ctx {
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		c.statusCode = httpErr.Code
	} else if c.statusCode < 400 {
		c.statusCode = StatusInternalServerError
	}
	c.err = err
	return c
}

// GetError returns the error stored in the context.
func (c *Ctx) GetError() error {
	return c.err
}

// Logger returns the server's logger.
func (c *Ctx) Logger() *log.Logger {
	if c.server == nil {
		return log.Default()
	}
	return c.server.logger
}

// Context returns the request's context. It is done once the client has
// disconnected.
func (c *Ctx) Context() context.Context {
	return c.Request.Context()
}

// Method returns the request method.
func (c *Ctx) Method() string {
	return c.Request.Method
}

// Path returns the decoded request path.
func (c *Ctx) Path() string {
	if c.Request.URL == nil || c.Request.URL.Path == "" {
		return "/"
	}
	return c.Request.URL.Path
}

// Param returns the value captured by a :name or * route segment.
func (c *Ctx) Param(key string) string {
	return c.params[key]
}

// Query returns the first value of a query string parameter.
func (c *Ctx) Query(key string) string {
	if c.query == nil {
		c.query = c.Request.URL.Query()
	}
	return c.query.Get(key)
}

// QueryInt parses a query parameter as an integer. Missing or malformed
// values yield def.
func (c *Ctx) QueryInt(key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Get returns a request header.
func (c *Ctx) Get(key string) string {
	return c.Request.Header.Get(key)
}

// Body returns the raw request body.
func (c *Ctx) Body() []byte {
	return c.Request.Body
}

// IP returns the client address, honouring X-Forwarded-For and X-Real-Ip.
func (c *Ctx) IP() string {
	if xff := c.Get(HeaderXForwardedFor); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.Get(HeaderXRealIP)); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// StatusCode returns the current HTTP status code set for the response.
func (c *Ctx) StatusCode() int {
	return c.statusCode
}

// Status sets the HTTP status code for the response.
func (c *Ctx) Status(code int) *Ctx {
	c.statusCode = code
	return c
}

// Header returns the response header map.
func (c *Ctx) Header() Header {
	return c.header
}

// Set sets a response header.
func (c *Ctx) Set(key, value string) *Ctx {
	c.header.Set(key, value)
	return c
}

// Locals stores a request-scoped value when value is given and returns the
// value stored under key.
func (c *Ctx) Locals(key string, value ...interface{}) interface{} {
	if len(value) > 0 {
		c.userData[key] = value[0]
		return value[0]
	}
	return c.userData[key]
}

// Written reports whether the response head has been sent.
func (c *Ctx) Written() bool {
	return c.headSent
}

// String writes a formatted plain text response.
func (c *Ctx) String(format string, values ...interface{}) {
	c.setBody(MIMETextPlain)
	if len(values) == 0 {
		c.body.WriteString(format)
		return
	}
	fmt.Fprintf(c.body, format, values...)
}

// JSON writes obj encoded as JSON. An encoding failure is recorded with
// Error.
func (c *Ctx) JSON(obj interface{}) {
	c.setBody(MIMEApplicationJSON)
	enc := json.NewEncoder(c.body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		c.body.Reset()
		c.Error(err)
	}
}

// Data writes raw bytes with the given content type.
func (c *Ctx) Data(contentType string, data []byte) {
	c.setBody(contentType)
	c.body.Write(data)
}

// NoContent sends an empty 204 response.
func (c *Ctx) NoContent() {
	c.statusCode = StatusNoContent
	c.body.Reset()
}

func (c *Ctx) setBody(contentType string) {
	if contentType != "" {
		c.header.Set(HeaderContentType, contentType)
	}
	c.body.Reset()
}

// Stream sends the head with Content-Length size and then copies size bytes
// from r in chunks. Every chunk waits until the connection accepted it, and
// copying stops as soon as the client disconnects. HEAD requests and
// statuses without a body get the head only.
//
// Stream returns the first read or write error. The connection is closed
// after a failed stream since the client saw a short body.
func (c *Ctx) Stream(size int64, r io.Reader) error {
	if c.headSent {
		return ErrResponseStarted
	}
	if size < 0 {
		size = 0
	}
	c.body.Reset()
	if err := c.sendHead(size); err != nil {
		c.closeConn = true
		return err
	}
	if size == 0 || c.Request.Method == MethodHead || !bodyAllowed(c.statusCode) {
		return nil
	}

	ctx := c.Context()
	chunk := filebuffer.GetChunk()
	buf := *chunk
	remaining := size
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			c.closeConn = true
			filebuffer.ReleaseChunk(chunk)
			return err
		}
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			if werr := c.sink.write(buf[:n]); werr != nil {
				// chunk stays out of the pool; the event loop may still hold it
				c.closeConn = true
				return werr
			}
			remaining -= int64(n)
		}
		if err != nil && remaining > 0 {
			c.closeConn = true
			filebuffer.ReleaseChunk(chunk)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return err
		}
	}
	filebuffer.ReleaseChunk(chunk)
	return nil
}

// sendHead writes the status line and headers once.
func (c *Ctx) sendHead(contentLength int64) error {
	if c.headSent {
		return ErrResponseStarted
	}
	c.headSent = true
	if !bodyAllowed(c.statusCode) {
		contentLength = -1
	}
	return c.sink.writeHead(c.statusCode, c.header, contentLength, c.closeConn || c.Request.Close)
}

// finish sends whatever the handlers buffered and flushes the sink.
func (c *Ctx) finish() {
	if !c.headSent {
		body := c.body.B
		if !bodyAllowed(c.statusCode) {
			body = nil
		}
		if err := c.sendHead(int64(len(body))); err != nil {
			c.closeConn = true
			return
		}
		if len(body) > 0 && c.Request.Method != MethodHead {
			if err := c.sink.write(body); err != nil {
				c.closeConn = true
				return
			}
		}
	}
	if err := c.sink.flush(); err != nil {
		c.closeConn = true
	}
}
