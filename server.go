package mocaca

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"

	"github.com/mocaca/mocaca/internal/httpparser"
	"github.com/mocaca/mocaca/log"
)

// DefaultAddr is used by Listen when no address is given.
const DefaultAddr = ":5003"

// Server represents an HTTP server.
type Server struct {
	httpServer *httpServer
	router     *Router
	cfg        Config
	logger     *log.Logger
}

// httpServer is the gnet event handler. Parsing happens on the event loop,
// handlers run on the worker pool.
type httpServer struct {
	gnet.BuiltinEventEngine

	server *Server
	pool   *ants.Pool

	mu      sync.Mutex
	eng     gnet.Engine
	booted  chan struct{}
	running atomic.Bool
}

// connState is kept in each gnet connection's context.
type connState struct {
	codec  *httpparser.Codec
	ctx    context.Context
	cancel context.CancelFunc
	remote string
	// busy is set while a request of this connection is being handled.
	// Further pipelined requests wait in the inbound buffer.
	busy atomic.Bool
}

// New creates a new server with the given configuration. Zero fields fall
// back to DefaultConfig.
func New(config ...Config) *Server {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg = cfg.withDefaults()

	s := &Server{
		router: NewRouter(),
		cfg:    cfg,
		logger: cfg.Logger,
	}
	s.httpServer = &httpServer{
		server: s,
		booted: make(chan struct{}),
	}
	return s
}

// Router returns the server's router.
func (s *Server) Router() *Router {
	return s.router
}

// Logger returns the server's logger.
func (s *Server) Logger() *log.Logger {
	return s.logger
}

// Listen starts the event loops and blocks until the server is shut down.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if !s.httpServer.running.CompareAndSwap(false, true) {
		return errors.New("mocaca: server already running")
	}

	pool, err := ants.NewPool(s.cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			s.logger.Error().Str("panic", fmt.Sprint(p)).Msg("worker panicked")
		}),
	)
	if err != nil {
		return err
	}
	s.httpServer.pool = pool

	if !s.cfg.DisableStartupMessage {
		displayStartupMessage(s.logger, addr, s.cfg.Workers, s.cfg.Multicore)
	}

	return gnet.Run(
		s.httpServer,
		"tcp://"+addr,
		gnet.WithMulticore(s.cfg.Multicore),
		gnet.WithReuseAddr(true),
		gnet.WithReusePort(true),
		gnet.WithLogger(log.NewGnetAdapter(s.logger)),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithTCPKeepAlive(s.cfg.IdleTimeout),
		gnet.WithReadBufferCap(s.cfg.ReadBufferCap),
		gnet.WithWriteBufferCap(s.cfg.WriteBufferCap),
	)
}

// Shutdown stops the event loops and releases the worker pool. A server
// that was never started returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	hs := s.httpServer
	if !hs.running.Load() {
		return nil
	}
	select {
	case <-hs.booted:
	case <-ctx.Done():
		return ctx.Err()
	}

	hs.mu.Lock()
	eng := hs.eng
	hs.mu.Unlock()

	err := eng.Stop(ctx)
	if hs.pool != nil {
		hs.pool.Release()
	}
	return err
}

// ServeHTTP runs the router for a net/http request. It lets the same
// handlers be exercised with httptest or mounted behind net/http.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodySize+1))
		switch {
		case err != nil:
			writeRawError(w, StatusBadRequest)
			return
		case int64(len(b)) > s.cfg.MaxBodySize:
			writeRawError(w, StatusRequestEntityTooLarge)
			return
		}
		body = b
	}
	s.handle(NewRequest(r, body), &writerSink{w: w, ctx: r.Context()})
}

func writeRawError(w http.ResponseWriter, status int) {
	w.Header().Set(HeaderContentType, MIMEApplicationJSON)
	w.WriteHeader(status)
	_, _ = w.Write(errorBody(status))
}

func errorBody(status int) []byte {
	return []byte(`{"error":"` + StatusText(status) + `"}` + "\n")
}

// handle runs the middleware chain and route for req and writes the
// response to sink. It reports whether the connection may be reused.
func (s *Server) handle(req *Request, sink responseSink) (keepAlive bool) {
	c := acquireCtx(s, req, sink)
	defer releaseCtx(c)

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Str("panic", fmt.Sprint(p)).Str("method", req.Method).Str("path", c.Path()).Msg("handler panicked")
			c.closeConn = true
			if !c.headSent {
				c.header.reset()
				c.statusCode = StatusInternalServerError
				c.err = NewHttpError(StatusInternalServerError, "")
				s.renderError(c)
			}
			c.finish()
			keepAlive = false
		}
	}()

	s.router.dispatch(c)
	if c.err != nil && !c.headSent {
		s.renderError(c)
	}
	c.finish()
	return !c.closeConn && !req.Close
}

func (s *Server) renderError(c *Ctx) {
	c.body.Reset()
	s.cfg.ErrorHandler(c)
}

func (hs *httpServer) OnBoot(eng gnet.Engine) gnet.Action {
	hs.mu.Lock()
	hs.eng = eng
	hs.mu.Unlock()
	close(hs.booted)
	return gnet.None
}

func (hs *httpServer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	ctx, cancel := context.WithCancel(context.Background())
	c.SetContext(&connState{
		codec:  httpparser.NewCodec(hs.server.cfg.MaxBodySize),
		ctx:    ctx,
		cancel: cancel,
		remote: c.RemoteAddr().String(),
	})
	return nil, gnet.None
}

func (hs *httpServer) OnClose(c gnet.Conn, _ error) gnet.Action {
	if cs, ok := c.Context().(*connState); ok {
		cs.cancel()
	}
	return gnet.None
}

// OnTraffic parses at most one request and hands it to the worker pool.
// While that request is in flight the connection is busy and any further
// bytes stay buffered; the worker wakes the connection when it is done.
func (hs *httpServer) OnTraffic(c gnet.Conn) gnet.Action {
	cs, ok := c.Context().(*connState)
	if !ok {
		return gnet.Close
	}
	if !cs.busy.CompareAndSwap(false, true) {
		return gnet.None
	}

	buf, _ := c.Peek(-1)
	if len(buf) == 0 {
		cs.busy.Store(false)
		return gnet.None
	}

	hreq, body, n, err := cs.codec.Parse(buf)
	if errors.Is(err, httpparser.ErrIncomplete) {
		cs.busy.Store(false)
		return gnet.None
	}
	if err != nil {
		hs.server.logger.Debug().Err(err).Str("remote", cs.remote).Msg("rejecting request")
		_, _ = c.Write(rawErrorResponse(parseErrorStatus(err)))
		return gnet.Close
	}
	_, _ = c.Discard(n)

	hreq.RemoteAddr = cs.remote
	req := NewRequest(hreq, body)
	req.ctx = cs.ctx

	if err := hs.pool.Submit(func() { hs.serve(c, cs, req) }); err != nil {
		hs.server.logger.Warn().Err(err).Str("remote", cs.remote).Msg("worker pool saturated")
		_, _ = c.Write(rawErrorResponse(StatusServiceUnavailable))
		return gnet.Close
	}
	return gnet.None
}

// serve runs on a pool worker.
func (hs *httpServer) serve(c gnet.Conn, cs *connState, req *Request) {
	keepAlive := hs.server.handle(req, newConnSink(cs.ctx, c))
	if !keepAlive || cs.ctx.Err() != nil {
		_ = c.Close()
		return
	}
	cs.busy.Store(false)
	_ = c.Wake(nil)
}

func parseErrorStatus(err error) int {
	switch {
	case errors.Is(err, httpparser.ErrHeaderTooLarge):
		return StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, httpparser.ErrBodyTooLarge):
		return StatusRequestEntityTooLarge
	case errors.Is(err, httpparser.ErrLengthRequired):
		return StatusLengthRequired
	default:
		return StatusBadRequest
	}
}

func rawErrorResponse(status int) []byte {
	body := errorBody(status)
	buf := httpparser.AppendHead(nil, httpparser.Head{
		Status:        status,
		Header:        map[string][]string{HeaderContentType: {MIMEApplicationJSON}},
		ContentLength: int64(len(body)),
		Close:         true,
	})
	return append(buf, body...)
}

// GET registers a new route with the GET method.
func (s *Server) GET(pattern string, handlers ...Handler) *Router {
	return s.router.GET(pattern, handlers...)
}

// HEAD registers a new route with the HEAD method.
func (s *Server) HEAD(pattern string, handlers ...Handler) *Router {
	return s.router.HEAD(pattern, handlers...)
}

// POST registers a new route with the POST method.
func (s *Server) POST(pattern string, handlers ...Handler) *Router {
	return s.router.POST(pattern, handlers...)
}

// PUT registers a new route with the PUT method.
func (s *Server) PUT(pattern string, handlers ...Handler) *Router {
	return s.router.PUT(pattern, handlers...)
}

// PATCH registers a new route with the PATCH method.
func (s *Server) PATCH(pattern string, handlers ...Handler) *Router {
	return s.router.PATCH(pattern, handlers...)
}

// DELETE registers a new route with the DELETE method.
func (s *Server) DELETE(pattern string, handlers ...Handler) *Router {
	return s.router.DELETE(pattern, handlers...)
}

// OPTIONS registers a new route with the OPTIONS method.
func (s *Server) OPTIONS(pattern string, handlers ...Handler) *Router {
	return s.router.OPTIONS(pattern, handlers...)
}

// Use adds middleware that runs for every request.
func (s *Server) Use(middleware ...Middleware) {
	s.router.Use(middleware...)
}

// NotFound sets the handler for requests that don't match any route.
func (s *Server) NotFound(handler Handler) {
	s.router.NotFound = handler
}

// Group creates a new route group with the given prefix.
func (s *Server) Group(prefix string) *Group {
	return s.router.Group(prefix)
}
